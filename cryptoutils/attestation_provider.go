package cryptoutils

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"

	"github.com/quicklock/lock-pairing-backend/interfaces"
)

// AttestationProvider produces a key-attestation certificate chain for a
// public key bound to a challenge. On a real device this is the hardware
// keystore; the dev provider below stands in for it in tests, the CLI client,
// and development deployments whose verifier trusts the provider's root.
type AttestationProvider interface {
	AttestKey(pub interfaces.PublicKey, challengeID interfaces.ChallengeID, strongPresence bool) ([][]byte, error)
}

// DevAttestationProvider issues attestation chains signed by a locally
// generated root. Not a hardware root of trust; anything it attests is only as
// trustworthy as the machine it runs on.
type DevAttestationProvider struct {
	rootKey  *ecdsa.PrivateKey
	rootCert *x509.Certificate
	rootDER  []byte
}

// NewDevAttestationProvider generates a self-signed attestation root.
func NewDevAttestationProvider() (*DevAttestationProvider, error) {
	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	serial, err := rand.Int(rand.Reader, big.NewInt(1).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, err
	}
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "dev attestation root"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, template, template, &rootKey.PublicKey, rootKey)
	if err != nil {
		return nil, err
	}
	rootCert, err := x509.ParseCertificate(rootDER)
	if err != nil {
		return nil, err
	}

	return &DevAttestationProvider{rootKey: rootKey, rootCert: rootCert, rootDER: rootDER}, nil
}

// Root returns the DER root certificate to add to a verifier's trust set.
func (p *DevAttestationProvider) Root() []byte {
	return p.rootDER
}

// AttestKey issues a two-element chain (leaf, root) whose leaf carries a key
// description binding the key to the challenge. With strongPresence the
// tee-enforced list requires user auth and an unlocked device.
func (p *DevAttestationProvider) AttestKey(pub interfaces.PublicKey, challengeID interfaces.ChallengeID, strongPresence bool) ([][]byte, error) {
	pubKey, err := x509.ParsePKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("unparseable subject key: %w", err)
	}

	extValue, err := buildKeyDescription(challengeID, strongPresence, time.Now().UnixMilli())
	if err != nil {
		return nil, err
	}

	serial, err := rand.Int(rand.Reader, big.NewInt(1).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, err
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "dev attested key"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().AddDate(1, 0, 0),
		ExtraExtensions: []pkix.Extension{{
			Id:    attestationExtensionOID,
			Value: extValue,
		}},
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, template, p.rootCert, pubKey, p.rootKey)
	if err != nil {
		return nil, err
	}

	return [][]byte{leafDER, p.rootDER}, nil
}

// buildKeyDescription assembles the attestation extension DER. The
// authorization lists use high context tag numbers, assembled by hand since
// they cannot be expressed through struct tags on the marshalling side
// without emitting absent optional fields.
func buildKeyDescription(challengeID interfaces.ChallengeID, strongPresence bool, creationMillis int64) ([]byte, error) {
	creation, err := asn1.Marshal(creationMillis)
	if err != nil {
		return nil, err
	}
	software := derSequence(contextField(701, creation))

	var tee []byte
	if strongPresence {
		null := []byte{0x05, 0x00}
		tee = derSequence(contextField(509, null))
	} else {
		noAuth := []byte{0x05, 0x00}
		tee = derSequence(contextField(503, noAuth))
	}

	record := struct {
		AttestationVersion       int64
		AttestationSecurityLevel asn1.Enumerated
		KeymasterVersion         int64
		KeymasterSecurityLevel   asn1.Enumerated
		AttestationChallenge     []byte
		UniqueID                 []byte
		SoftwareEnforced         asn1.RawValue
		TeeEnforced              asn1.RawValue
	}{
		AttestationVersion:       100,
		AttestationSecurityLevel: asn1.Enumerated(interfaces.SecurityLevelTrustedEnvironment),
		KeymasterVersion:         100,
		KeymasterSecurityLevel:   asn1.Enumerated(interfaces.SecurityLevelTrustedEnvironment),
		AttestationChallenge:     []byte(challengeID),
		UniqueID:                 []byte{},
		SoftwareEnforced:         asn1.RawValue{FullBytes: software},
		TeeEnforced:              asn1.RawValue{FullBytes: tee},
	}
	return asn1.Marshal(record)
}

// contextField wraps inner DER in an explicit context-specific tag, using the
// high-tag-number form for tags above 30.
func contextField(tag int, inner []byte) []byte {
	var ident []byte
	if tag < 0x1f {
		ident = []byte{0xa0 | byte(tag)}
	} else {
		ident = []byte{0xbf}
		var digits []byte
		for t := tag; t > 0; t >>= 7 {
			digits = append([]byte{byte(t & 0x7f)}, digits...)
		}
		for i := range digits[:len(digits)-1] {
			digits[i] |= 0x80
		}
		ident = append(ident, digits...)
	}
	return append(append(ident, derLength(len(inner))...), inner...)
}

// derSequence wraps concatenated elements in a SEQUENCE.
func derSequence(elems ...[]byte) []byte {
	var body []byte
	for _, e := range elems {
		body = append(body, e...)
	}
	return append(append([]byte{0x30}, derLength(len(body))...), body...)
}

func derLength(n int) []byte {
	if n < 0x80 {
		return []byte{byte(n)}
	}
	var digits []byte
	for v := n; v > 0; v >>= 8 {
		digits = append([]byte{byte(v)}, digits...)
	}
	return append([]byte{0x80 | byte(len(digits))}, digits...)
}
