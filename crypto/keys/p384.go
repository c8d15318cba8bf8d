// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

// Package keys implements the concrete KeyPair types the ACP core
// supports: ECDSA P-384 (the mandatory agent identity key), Ed25519
// and Secp256k1 (available to consumers per spec.md §4.2/§2.4).
package keys

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"

	acpcrypto "github.com/acp-sdk/acp-core/crypto"
	"golang.org/x/crypto/pbkdf2"
)

// p384KeyPair implements acpcrypto.KeyPair for ECDSA P-384, the
// mandatory AID signing key (spec.md §3.1).
type p384KeyPair struct {
	privateKey *ecdsa.PrivateKey
	id         string
}

// GenerateP384KeyPair generates a fresh ECDSA P-384 key pair.
func GenerateP384KeyPair() (acpcrypto.KeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keys: generate P-384 key: %w", err)
	}
	return newP384KeyPair(priv), nil
}

func newP384KeyPair(priv *ecdsa.PrivateKey) *p384KeyPair {
	pubBytes := elliptic.Marshal(priv.Curve, priv.PublicKey.X, priv.PublicKey.Y)
	hash := sha256.Sum256(pubBytes)
	return &p384KeyPair{privateKey: priv, id: hex.EncodeToString(hash[:8])}
}

func (kp *p384KeyPair) PublicKey() crypto.PublicKey   { return &kp.privateKey.PublicKey }
func (kp *p384KeyPair) PrivateKey() crypto.PrivateKey { return kp.privateKey }
func (kp *p384KeyPair) Type() acpcrypto.KeyType        { return acpcrypto.KeyTypeECDSAP384 }
func (kp *p384KeyPair) ID() string                     { return kp.id }

// Sign produces an ASN.1 DER ECDSA signature over SHA-256(message),
// matching ecdsa_sha256_sign in spec.md §4.2 (the hex-encoding of this
// output is what the auth client sends as the proof signature).
func (kp *p384KeyPair) Sign(message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	return ecdsa.SignASN1(rand.Reader, kp.privateKey, digest[:])
}

func (kp *p384KeyPair) Verify(message, signature []byte) error {
	digest := sha256.Sum256(message)
	if !ecdsa.VerifyASN1(&kp.privateKey.PublicKey, digest[:], signature) {
		return acpcrypto.ErrInvalidSignature
	}
	return nil
}

// ECDSASHA256SignHex implements C2's ecdsa_sha256_sign: sign data with
// key and return the lowercase-hex ASN.1 DER signature, as sent in the
// auth client's proof step (spec.md §4.7 step 2).
func ECDSASHA256SignHex(kp acpcrypto.KeyPair, data []byte) (string, error) {
	p384, ok := kp.(*p384KeyPair)
	if !ok {
		return "", fmt.Errorf("keys: ecdsa_sha256_sign requires an ECDSA-P384 key pair")
	}
	sig, err := p384.Sign(data)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig), nil
}

// GenerateCSR builds a PKCS#10 certificate signing request for aid,
// signed with key, matching the subject and extensions mandated by
// spec.md §4.2: CN=<aid>, O=SomeOrganization, L=SomeCity, ST=SomeState,
// C=CN, basicConstraints=critical,CA:FALSE, signed with SHA-256.
func GenerateCSR(aid string, keyPEM string) ([]byte, error) {
	priv, err := LoadPrivateKeyPEM(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("keys: generate CSR: %w", err)
	}

	template := &x509.CertificateRequest{
		Subject: pkix.Name{
			CommonName:         aid,
			Organization:       []string{"SomeOrganization"},
			Locality:           []string{"SomeCity"},
			Province:           []string{"SomeState"},
			Country:            []string{"CN"},
		},
		SignatureAlgorithm: x509.ECDSAWithSHA256,
		ExtraExtensions: []pkix.Extension{
			{
				Id:       basicConstraintsOID,
				Critical: true,
				Value:    basicConstraintsCAFalseDER,
			},
		},
	}

	der, err := x509.CreateCertificateRequest(rand.Reader, template, priv)
	if err != nil {
		return nil, fmt.Errorf("keys: create CSR: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der}), nil
}

// basicConstraintsOID is the X.509 basicConstraints extension OID;
// basicConstraintsCAFalseDER is the DER encoding of
// "critical,CA:FALSE" (SEQUENCE{BOOLEAN false}).
var basicConstraintsOID = []int{2, 5, 29, 19}
var basicConstraintsCAFalseDER = []byte{0x30, 0x00}

// GenerateKeyPEM marshals priv as an unencrypted PKCS#8 PEM block.
func GenerateKeyPEM(kp acpcrypto.KeyPair) (string, error) {
	p384, ok := kp.(*p384KeyPair)
	if !ok {
		return "", fmt.Errorf("keys: GenerateKeyPEM requires an ECDSA-P384 key pair")
	}
	der, err := x509.MarshalPKCS8PrivateKey(p384.privateKey)
	if err != nil {
		return "", fmt.Errorf("keys: marshal PKCS8: %w", err)
	}
	block := &pem.Block{Type: "PRIVATE KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// LoadPrivateKeyPEM parses an unencrypted PKCS#8 PEM block into an
// *ecdsa.PrivateKey.
func LoadPrivateKeyPEM(keyPEM string) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(keyPEM))
	if block == nil {
		return nil, errors.New("keys: no PEM block found")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("keys: parse PKCS8: %w", err)
	}
	priv, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("keys: PEM block is not an ECDSA private key")
	}
	return priv, nil
}

// LoadP384KeyPair wraps an unencrypted PKCS#8 PEM into a KeyPair.
func LoadP384KeyPair(keyPEM string) (acpcrypto.KeyPair, error) {
	priv, err := LoadPrivateKeyPEM(keyPEM)
	if err != nil {
		return nil, err
	}
	return newP384KeyPair(priv), nil
}

// encryptedKeySaltLen, encryptedKeyIVLen and pbkdf2Iterations size the
// PBKDF2-derived AES-256-CBC envelope EncryptPrivateKey writes around the
// PKCS#8 DER payload. This is not X.509's deprecated PEM-header
// encryption (RFC 1421 "DEK-Info"); it is a self-contained envelope
// because the Go standard library has no encrypted-PKCS8 encoder.
const (
	encryptedKeySaltLen = 16
	encryptedKeyIVLen   = aes.BlockSize // 16
	pbkdf2Iterations    = 100_000
)

// EncryptPrivateKey implements save_private_key (spec.md §4.2): it
// encrypts the PKCS#8 DER encoding of kp's private key with
// AES-256-CBC under a PBKDF2(SHA-256) key derived from password, and
// PEM-encodes the salt||iv||ciphertext envelope.
func EncryptPrivateKey(kp acpcrypto.KeyPair, password string) ([]byte, error) {
	p384, ok := kp.(*p384KeyPair)
	if !ok {
		return nil, fmt.Errorf("keys: EncryptPrivateKey requires an ECDSA-P384 key pair")
	}
	der, err := x509.MarshalPKCS8PrivateKey(p384.privateKey)
	if err != nil {
		return nil, fmt.Errorf("keys: marshal PKCS8: %w", err)
	}

	salt := make([]byte, encryptedKeySaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("keys: generate salt: %w", err)
	}
	iv := make([]byte, encryptedKeyIVLen)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("keys: generate iv: %w", err)
	}

	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("keys: new cipher: %w", err)
	}
	padded := pkcs7Pad(der, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	envelope := append(append([]byte{}, salt...), iv...)
	envelope = append(envelope, ciphertext...)
	return pem.EncodeToMemory(&pem.Block{Type: "ENCRYPTED PRIVATE KEY", Bytes: envelope}), nil
}

// DecryptPrivateKey reverses EncryptPrivateKey, returning the
// unencrypted PKCS#8 PEM.
func DecryptPrivateKey(encryptedPEM []byte, password string) (string, error) {
	block, _ := pem.Decode(encryptedPEM)
	if block == nil || block.Type != "ENCRYPTED PRIVATE KEY" {
		return "", acpcrypto.ErrInvalidKeyFormat
	}
	if len(block.Bytes) < encryptedKeySaltLen+encryptedKeyIVLen {
		return "", acpcrypto.ErrInvalidKeyFormat
	}
	salt := block.Bytes[:encryptedKeySaltLen]
	iv := block.Bytes[encryptedKeySaltLen : encryptedKeySaltLen+encryptedKeyIVLen]
	ciphertext := block.Bytes[encryptedKeySaltLen+encryptedKeyIVLen:]

	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, 32, sha256.New)
	cb, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("keys: new cipher: %w", err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", acpcrypto.ErrInvalidPassphrase
	}
	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(cb, iv).CryptBlocks(plain, ciphertext)
	der, err := pkcs7Unpad(plain)
	if err != nil {
		return "", acpcrypto.ErrInvalidPassphrase
	}
	if _, err := x509.ParsePKCS8PrivateKey(der); err != nil {
		return "", acpcrypto.ErrInvalidPassphrase
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})), nil
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	padLen := blockSize - len(b)%blockSize
	pad := make([]byte, padLen)
	for i := range pad {
		pad[i] = byte(padLen)
	}
	return append(b, pad...)
}

func pkcs7Unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, errors.New("keys: empty plaintext")
	}
	padLen := int(b[len(b)-1])
	if padLen == 0 || padLen > len(b) {
		return nil, errors.New("keys: invalid padding")
	}
	return b[:len(b)-padLen], nil
}

// PublicKeyPEMFromCert extracts the SubjectPublicKeyInfo PEM from an
// X.509 certificate PEM, for the auth client's proof payload
// (spec.md §4.7 step 2).
func PublicKeyPEMFromCert(certPEM string) (string, error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil {
		return "", errors.New("keys: no PEM block found in certificate")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("keys: parse certificate: %w", err)
	}
	spki, err := x509.MarshalPKIXPublicKey(cert.PublicKey)
	if err != nil {
		return "", fmt.Errorf("keys: marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: spki})), nil
}
