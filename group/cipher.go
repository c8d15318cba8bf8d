package group

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// payloadCipherInfo is the HKDF info string binding derived keys to
// this specific use, so the same group secret can't be replayed
// against an unrelated AEAD context.
const payloadCipherInfo = "acp-group-payload-v1"

// PayloadCipher wraps a group_client request's params_json and a
// response's data_json in an AEAD envelope, keyed off a pre-shared
// group secret. It is off by default; Client only seals or opens
// payloads when one is installed via WithPayloadCipher. Keys are
// derived with HKDF-SHA256, payloads sealed with ChaCha20-Poly1305,
// wire format nonce || ciphertext.
type PayloadCipher struct {
	aead cipher.AEAD
}

// NewPayloadCipher derives a ChaCha20-Poly1305 key from groupSecret via
// HKDF-SHA256 and returns a PayloadCipher ready to seal or open group
// payloads. groupSecret is a pre-shared value out of band (e.g. a
// group invite secret); it is never sent over the wire.
func NewPayloadCipher(groupSecret []byte) (*PayloadCipher, error) {
	if len(groupSecret) == 0 {
		return nil, fmt.Errorf("group: payload cipher requires a non-empty secret")
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, groupSecret, nil, []byte(payloadCipherInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("group: derive payload key: %w", err)
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("group: construct payload aead: %w", err)
	}
	return &PayloadCipher{aead: aead}, nil
}

// Seal encrypts plaintext and returns nonce || ciphertext.
func (p *PayloadCipher) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, p.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("group: generate nonce: %w", err)
	}
	ciphertext := p.aead.Seal(nil, nonce, plaintext, nil)
	out := make([]byte, len(nonce)+len(ciphertext))
	copy(out, nonce)
	copy(out[len(nonce):], ciphertext)
	return out, nil
}

// Open decrypts data produced by Seal. Expects input format:
// nonce || ciphertext.
func (p *PayloadCipher) Open(data []byte) ([]byte, error) {
	n := p.aead.NonceSize()
	if len(data) < n {
		return nil, fmt.Errorf("group: encrypted payload shorter than nonce")
	}
	nonce, ciphertext := data[:n], data[n:]
	plaintext, err := p.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("group: open payload: %w", err)
	}
	return plaintext, nil
}

// payloadEnvelope is the wire shape a sealed params_json/data_json
// takes in place of the plaintext object.
type payloadEnvelope struct {
	Encrypted bool   `json:"encrypted"`
	Payload   string `json:"payload"`
}

// sealParams replaces params with a payloadEnvelope body entry when a
// cipher is configured; callers merge the result straight into the
// outgoing request body in place of the plaintext params.
func (c *Client) sealParams(params map[string]any) (map[string]any, error) {
	if c.cipher == nil {
		return params, nil
	}
	plaintext, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("group: marshal params for sealing: %w", err)
	}
	sealed, err := c.cipher.Seal(plaintext)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"encrypted": true,
		"payload":   base64.StdEncoding.EncodeToString(sealed),
	}, nil
}

// openData decrypts data in place when it carries a payloadEnvelope
// and a cipher is configured; otherwise it is returned unchanged,
// so a client without WithPayloadCipher still reads cleartext peers.
func (c *Client) openData(data json.RawMessage) json.RawMessage {
	if c.cipher == nil || len(data) == 0 {
		return data
	}
	var env payloadEnvelope
	if err := json.Unmarshal(data, &env); err != nil || !env.Encrypted {
		return data
	}
	sealed, err := base64.StdEncoding.DecodeString(env.Payload)
	if err != nil {
		c.log.Warn("group: malformed payload envelope")
		return data
	}
	plaintext, err := c.cipher.Open(sealed)
	if err != nil {
		c.log.Warn("group: failed to open sealed payload")
		return data
	}
	return json.RawMessage(plaintext)
}
