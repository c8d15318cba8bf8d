// Package crypto provides the identity and payload cryptography used
// throughout the ACP core: ECDSA P-384 keypairs for agent identity,
// CSR issuance, PEM-encoded key storage, and a general-purpose AEAD
// primitive for payload encryption.
package crypto

import (
	"crypto"
	"errors"
)

// KeyType represents the type of cryptographic key.
type KeyType string

const (
	// KeyTypeECDSAP384 is the mandatory agent identity key type.
	KeyTypeECDSAP384 KeyType = "ECDSA-P384"
	KeyTypeEd25519   KeyType = "Ed25519"
	KeyTypeSecp256k1 KeyType = "Secp256k1"
)

// KeyFormat represents the format for key export/import.
type KeyFormat string

const (
	KeyFormatPEM KeyFormat = "PEM"
)

// KeyPair represents a cryptographic key pair capable of signing and
// verifying messages.
type KeyPair interface {
	PublicKey() crypto.PublicKey
	PrivateKey() crypto.PrivateKey
	Type() KeyType
	Sign(message []byte) ([]byte, error)
	Verify(message, signature []byte) error
	// ID returns a short, stable identifier derived from the public key.
	ID() string
}

// KeyStorage provides storage for key pairs keyed by an identifier
// such as an agent ID.
type KeyStorage interface {
	Store(id string, keyPair KeyPair, passphrase string) error
	Load(id string, passphrase string) (KeyPair, error)
	Delete(id string) error
	List() ([]string, error)
	Exists(id string) bool
}

// Common errors.
var (
	ErrKeyNotFound      = errors.New("key not found")
	ErrInvalidKeyType   = errors.New("invalid key type")
	ErrInvalidKeyFormat = errors.New("invalid key format")
	ErrKeyExists        = errors.New("key already exists")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidPassphrase = errors.New("invalid passphrase")
)
