package keys

import (
	"fmt"

	acpcrypto "github.com/acp-sdk/acp-core/crypto"
)

// GenerateKeyPair dispatches to the concrete generator for keyType.
// ECDSA-P384 is the mandatory AID identity key type (spec.md §3.1);
// Ed25519 and Secp256k1 are kept for consumers per spec.md §4.2/§2.4.
func GenerateKeyPair(keyType acpcrypto.KeyType) (acpcrypto.KeyPair, error) {
	switch keyType {
	case acpcrypto.KeyTypeECDSAP384:
		return GenerateP384KeyPair()
	case acpcrypto.KeyTypeEd25519:
		return GenerateEd25519KeyPair()
	case acpcrypto.KeyTypeSecp256k1:
		return GenerateSecp256k1KeyPair()
	default:
		return nil, fmt.Errorf("keys: %w: %s", acpcrypto.ErrInvalidKeyType, keyType)
	}
}
