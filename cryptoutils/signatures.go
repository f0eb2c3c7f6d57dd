package cryptoutils

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"fmt"

	"github.com/quicklock/lock-pairing-backend/interfaces"
)

// SigningAlgorithm is a tagged variant selecting the signature scheme of an
// identity key.
type SigningAlgorithm int

const (
	// AlgorithmEC is ECDSA over P-256 with SHA-256, ASN.1 signatures.
	// Device primary and delegation keys use this scheme.
	AlgorithmEC SigningAlgorithm = iota

	// AlgorithmEd25519 is Ed25519 over raw 32-byte public keys. Audit
	// co-signers use this scheme.
	AlgorithmEd25519
)

// String returns the algorithm name.
func (a SigningAlgorithm) String() string {
	switch a {
	case AlgorithmEC:
		return "ecdsa-p256"
	case AlgorithmEd25519:
		return "ed25519"
	default:
		return "unknown"
	}
}

// Verify checks a signature over the exact payload bytes. Returns
// interfaces.ErrSignatureInvalid on any failure, without detail that could
// serve as a verification oracle.
func (a SigningAlgorithm) Verify(pub interfaces.PublicKey, payload, sig []byte) error {
	switch a {
	case AlgorithmEC:
		parsed, err := x509.ParsePKIXPublicKey(pub)
		if err != nil {
			return interfaces.ErrSignatureInvalid
		}
		ecKey, ok := parsed.(*ecdsa.PublicKey)
		if !ok || ecKey.Curve != elliptic.P256() {
			return interfaces.ErrSignatureInvalid
		}
		digest := sha256.Sum256(payload)
		if !ecdsa.VerifyASN1(ecKey, digest[:], sig) {
			return interfaces.ErrSignatureInvalid
		}
		return nil

	case AlgorithmEd25519:
		if len(pub) != ed25519.PublicKeySize {
			return interfaces.ErrSignatureInvalid
		}
		if !ed25519.Verify(ed25519.PublicKey(pub), payload, sig) {
			return interfaces.ErrSignatureInvalid
		}
		return nil

	default:
		return interfaces.ErrSignatureInvalid
	}
}

// Signer produces signatures with a device identity key. Implementations wrap
// whatever holds the private half; on a real device that is a hardware
// keystore exposing only sign operations.
type Signer interface {
	// Public returns the DER-encoded public key.
	Public() interfaces.PublicKey

	// Algorithm returns the signature scheme of this key.
	Algorithm() SigningAlgorithm

	// Sign signs the exact payload bytes.
	Sign(payload []byte) ([]byte, error)
}

// ECSigner is an in-memory ECDSA P-256 signer used by the CLI client and
// tests in place of a hardware-backed key.
type ECSigner struct {
	key *ecdsa.PrivateKey
	der interfaces.PublicKey
}

// NewECSigner generates a fresh P-256 keypair.
func NewECSigner() (*ECSigner, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	return &ECSigner{key: key, der: der}, nil
}

// NewECSignerFromDER restores a signer from a DER-encoded EC private key
// produced by MarshalPrivate.
func NewECSignerFromDER(der []byte) (*ECSigner, error) {
	key, err := x509.ParseECPrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("invalid EC private key: %w", err)
	}
	pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	return &ECSigner{key: key, der: pub}, nil
}

// MarshalPrivate returns the DER-encoded private key for persistence.
func (s *ECSigner) MarshalPrivate() ([]byte, error) {
	return x509.MarshalECPrivateKey(s.key)
}

// Public returns the DER-encoded public key.
func (s *ECSigner) Public() interfaces.PublicKey { return s.der }

// Algorithm returns AlgorithmEC.
func (s *ECSigner) Algorithm() SigningAlgorithm { return AlgorithmEC }

// Sign signs the payload with SHA-256 and returns an ASN.1 signature.
func (s *ECSigner) Sign(payload []byte) ([]byte, error) {
	digest := sha256.Sum256(payload)
	return ecdsa.SignASN1(rand.Reader, s.key, digest[:])
}

// GenerateSecret returns a base64-encoded 256-bit random value. Challenge IDs
// and the one-time initial pairing secret are generated with it. The URL-safe
// alphabet keeps the value usable in request paths.
func GenerateSecret() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf[:]), nil
}

// NewChallengeID returns a fresh unpredictable challenge identifier.
func NewChallengeID() (interfaces.ChallengeID, error) {
	s, err := GenerateSecret()
	return interfaces.ChallengeID(s), err
}

// Hash returns the SHA-256 digest of data.
func Hash(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// ConstantTimeEq compares two byte strings in constant time.
func ConstantTimeEq(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
