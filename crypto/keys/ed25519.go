// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package keys

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	acpcrypto "github.com/acp-sdk/acp-core/crypto"
)

// ed25519KeyPair implements acpcrypto.KeyPair for Ed25519, one of the
// two optional key types consumers may pick alongside the mandatory
// P-384 AID key (spec.md §4.2/§2.4).
type ed25519KeyPair struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	id         string
}

// GenerateEd25519KeyPair generates a fresh Ed25519 key pair, IDed by
// the first 8 bytes of its public key's SHA-256 digest.
func GenerateEd25519KeyPair() (acpcrypto.KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keys: generate ed25519 key: %w", err)
	}
	return &ed25519KeyPair{
		privateKey: priv,
		publicKey:  pub,
		id:         keyIDFromDigest(pub),
	}, nil
}

func (kp *ed25519KeyPair) PublicKey() crypto.PublicKey  { return kp.publicKey }
func (kp *ed25519KeyPair) PrivateKey() crypto.PrivateKey { return kp.privateKey }
func (kp *ed25519KeyPair) Type() acpcrypto.KeyType       { return acpcrypto.KeyTypeEd25519 }
func (kp *ed25519KeyPair) ID() string                    { return kp.id }

func (kp *ed25519KeyPair) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(kp.privateKey, message), nil
}

func (kp *ed25519KeyPair) Verify(message, signature []byte) error {
	if !ed25519.Verify(kp.publicKey, message, signature) {
		return acpcrypto.ErrInvalidSignature
	}
	return nil
}

// keyIDFromDigest derives the short hex key ID shared by the Ed25519
// and Secp256k1 key types: the first 8 bytes of the public key's
// SHA-256 digest.
func keyIDFromDigest(pub []byte) string {
	hash := sha256.Sum256(pub)
	return hex.EncodeToString(hash[:8])
}
