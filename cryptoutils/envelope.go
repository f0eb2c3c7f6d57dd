package cryptoutils

import (
	"crypto/rand"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// EnvelopeKeySize is the required length of a per-device envelope key.
const EnvelopeKeySize = chacha20poly1305.KeySize

// RequestEnvelope is the authenticated-encryption wrapper around a request
// payload: XChaCha20-Poly1305 with a random 192-bit nonce.
type RequestEnvelope struct {
	EncPayload []byte `json:"p"`
	EncNonce   []byte `json:"n"`
}

// SealEnvelope encrypts payload under the device's envelope key and returns
// the serialized sealed envelope. The returned bytes are canonical: every
// signature and audit hash over this envelope is computed on exactly these
// bytes, never on a re-encoding.
func SealEnvelope(payload, envelopeKey []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(envelopeKey)
	if err != nil {
		return nil, fmt.Errorf("bad envelope key: %w", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	env := RequestEnvelope{
		EncPayload: aead.Seal(nil, nonce, payload, nil),
		EncNonce:   nonce,
	}
	return json.Marshal(env)
}

// OpenEnvelope decrypts a serialized sealed envelope and returns the
// plaintext payload.
func OpenEnvelope(sealed, envelopeKey []byte) ([]byte, error) {
	var env RequestEnvelope
	if err := json.Unmarshal(sealed, &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}

	aead, err := chacha20poly1305.NewX(envelopeKey)
	if err != nil {
		return nil, fmt.Errorf("bad envelope key: %w", err)
	}
	if len(env.EncNonce) != chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("malformed envelope: bad nonce length %d", len(env.EncNonce))
	}

	payload, err := aead.Open(nil, env.EncNonce, env.EncPayload, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open envelope: %w", err)
	}
	return payload, nil
}
