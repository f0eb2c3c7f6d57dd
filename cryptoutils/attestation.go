package cryptoutils

import (
	"bytes"
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/quicklock/lock-pairing-backend/interfaces"
)

// attestationExtensionOID identifies the hardware key description extension
// in the leaf certificate.
var attestationExtensionOID = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 11129, 2, 1, 17}

// authorizationList mirrors the KeyMint authorization list schema. Every tag
// must be declared, in ascending order, for the DER parser to walk the
// sequence; only a handful of fields are actually checked.
type authorizationList struct {
	Purpose                   asn1.RawValue `asn1:"tag:1,optional"`
	Algorithm                 asn1.RawValue `asn1:"tag:2,optional"`
	KeySize                   asn1.RawValue `asn1:"tag:3,optional"`
	Digest                    asn1.RawValue `asn1:"tag:5,optional"`
	Padding                   asn1.RawValue `asn1:"tag:6,optional"`
	EcCurve                   asn1.RawValue `asn1:"tag:10,optional"`
	RsaPublicExponent         asn1.RawValue `asn1:"tag:200,optional"`
	MgfDigest                 asn1.RawValue `asn1:"tag:203,optional"`
	RollbackResistance        asn1.RawValue `asn1:"tag:303,optional"`
	EarlyBootOnly             asn1.RawValue `asn1:"tag:305,optional"`
	ActiveDateTime            asn1.RawValue `asn1:"tag:400,optional"`
	OriginationExpireDateTime asn1.RawValue `asn1:"tag:401,optional"`
	UsageExpireDateTime       asn1.RawValue `asn1:"tag:402,optional"`
	UsageCountLimit           asn1.RawValue `asn1:"tag:405,optional"`
	NoAuthRequired            asn1.RawValue `asn1:"tag:503,optional"`
	UserAuthType              asn1.RawValue `asn1:"tag:504,optional"`
	AuthTimeout               asn1.RawValue `asn1:"tag:505,optional"`
	AllowWhileOnBody          asn1.RawValue `asn1:"tag:506,optional"`
	TrustedUserPresence       asn1.RawValue `asn1:"tag:507,optional"`
	TrustedConfirmation       asn1.RawValue `asn1:"tag:508,optional"`
	UnlockedDeviceRequired    asn1.RawValue `asn1:"tag:509,optional"`
	CreationDateTime          asn1.RawValue `asn1:"tag:701,optional"`
	Origin                    asn1.RawValue `asn1:"tag:702,optional"`
	RootOfTrust               asn1.RawValue `asn1:"tag:704,optional"`
	OsVersion                 asn1.RawValue `asn1:"tag:705,optional"`
	OsPatchLevel              asn1.RawValue `asn1:"tag:706,optional"`
	AttestationApplicationID  asn1.RawValue `asn1:"tag:709,optional"`
	AttestationIDBrand        asn1.RawValue `asn1:"tag:710,optional"`
	AttestationIDDevice       asn1.RawValue `asn1:"tag:711,optional"`
	AttestationIDProduct      asn1.RawValue `asn1:"tag:712,optional"`
	AttestationIDSerial       asn1.RawValue `asn1:"tag:713,optional"`
	AttestationIDImei         asn1.RawValue `asn1:"tag:714,optional"`
	AttestationIDMeid         asn1.RawValue `asn1:"tag:715,optional"`
	AttestationIDManufacturer asn1.RawValue `asn1:"tag:716,optional"`
	AttestationIDModel        asn1.RawValue `asn1:"tag:717,optional"`
	VendorPatchLevel          asn1.RawValue `asn1:"tag:718,optional"`
	BootPatchLevel            asn1.RawValue `asn1:"tag:719,optional"`
	DeviceUniqueAttestation   asn1.RawValue `asn1:"tag:720,optional"`
}

// keyDescription is the top-level attestation extension payload.
type keyDescription struct {
	AttestationVersion       int64
	AttestationSecurityLevel asn1.Enumerated
	KeymasterVersion         int64
	KeymasterSecurityLevel   asn1.Enumerated
	AttestationChallenge     []byte
	UniqueID                 []byte
	SoftwareEnforced         authorizationList
	TeeEnforced              authorizationList
}

func present(raw asn1.RawValue) bool {
	return len(raw.FullBytes) > 0
}

// intValue extracts the INTEGER inside an explicitly tagged field.
func intValue(raw asn1.RawValue) (int64, bool, error) {
	if !present(raw) {
		return 0, false, nil
	}
	var v int64
	if _, err := asn1.Unmarshal(raw.Bytes, &v); err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// AttestationVerifier validates hardware key-attestation certificate chains
// against a fixed trusted-root set. It implements
// interfaces.AttestationVerifier.
type AttestationVerifier struct {
	roots [][]byte // DER, byte-exact trust anchors
	grace time.Duration

	// now is replaceable for tests.
	now func() time.Time
}

// NewAttestationVerifier creates a verifier trusting exactly the given
// DER-encoded root certificates. The grace window bounds clock skew tolerance
// on every time comparison; it does not extend validity indefinitely.
func NewAttestationVerifier(roots [][]byte, grace time.Duration) *AttestationVerifier {
	return &AttestationVerifier{roots: roots, grace: grace, now: time.Now}
}

// WithClock returns a copy of the verifier using the given clock. Tests use it
// to pin verification time.
func (v *AttestationVerifier) WithClock(now func() time.Time) *AttestationVerifier {
	return &AttestationVerifier{roots: v.roots, grace: v.grace, now: now}
}

// LoadTrustedRootsPEM parses a PEM bundle into the DER root set the verifier
// expects.
func LoadTrustedRootsPEM(data []byte) ([][]byte, error) {
	var roots [][]byte
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		if _, err := x509.ParseCertificate(block.Bytes); err != nil {
			return nil, fmt.Errorf("invalid root certificate: %w", err)
		}
		roots = append(roots, block.Bytes)
	}
	if len(roots) == 0 {
		return nil, errors.New("no certificates in root bundle")
	}
	return roots, nil
}

// VerifyChain validates an ordered, leaf-first certificate chain and the
// leaf's key attestation. Any violation fails closed with
// interfaces.ErrAttestationInvalid; the wrapped detail is for server-side
// logging only and must not reach clients.
func (v *AttestationVerifier) VerifyChain(chain [][]byte, challengeID interfaces.ChallengeID, requireStrongPresence bool) (*interfaces.AttestedKey, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: empty chain", interfaces.ErrAttestationInvalid)
	}

	certs := make([]*x509.Certificate, len(chain))
	for i, der := range chain {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("%w: cert %d unparseable: %v", interfaces.ErrAttestationInvalid, i, err)
		}
		certs[i] = cert
	}

	// The root (last element) must byte-exactly equal a trust anchor.
	root := certs[len(certs)-1]
	trusted := false
	for _, anchor := range v.roots {
		if ConstantTimeEq(root.Raw, anchor) {
			trusted = true
		}
	}
	if !trusted {
		return nil, fmt.Errorf("%w: untrusted root", interfaces.ErrAttestationInvalid)
	}

	// Walk from the root forward. The first iteration checks the root's
	// self-signature.
	now := v.now()
	parent := root
	for i := len(certs) - 1; i >= 0; i-- {
		cert := certs[i]

		if cert.NotBefore.After(now.Add(v.grace)) || cert.NotAfter.Before(now.Add(-v.grace)) {
			return nil, fmt.Errorf("%w: cert %d outside validity window", interfaces.ErrAttestationInvalid, i)
		}
		if err := parent.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature); err != nil {
			return nil, fmt.Errorf("%w: cert %d signature: %v", interfaces.ErrAttestationInvalid, i, err)
		}
		if !bytes.Equal(cert.RawIssuer, parent.RawSubject) {
			return nil, fmt.Errorf("%w: cert %d not issued by its parent", interfaces.ErrAttestationInvalid, i)
		}
		parent = cert
	}

	leaf := certs[0]
	record, err := parseKeyDescription(leaf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrAttestationInvalid, err)
	}

	if err := v.checkKeyDescription(record, challengeID, requireStrongPresence); err != nil {
		return nil, err
	}

	return &interfaces.AttestedKey{
		PublicKey:        interfaces.PublicKey(leaf.RawSubjectPublicKeyInfo),
		AttestationLevel: interfaces.SecurityLevel(record.AttestationSecurityLevel),
		KeymasterLevel:   interfaces.SecurityLevel(record.KeymasterSecurityLevel),
	}, nil
}

func parseKeyDescription(leaf *x509.Certificate) (*keyDescription, error) {
	var extValue []byte
	for _, ext := range leaf.Extensions {
		if ext.Id.Equal(attestationExtensionOID) {
			if extValue != nil {
				return nil, errors.New("duplicate attestation extension")
			}
			extValue = ext.Value
		}
	}
	if extValue == nil {
		return nil, errors.New("no attestation extension")
	}

	var record keyDescription
	rest, err := asn1.Unmarshal(extValue, &record)
	if err != nil {
		return nil, fmt.Errorf("malformed key description: %v", err)
	}
	if len(rest) != 0 {
		return nil, errors.New("trailing data after key description")
	}
	return &record, nil
}

func (v *AttestationVerifier) checkKeyDescription(record *keyDescription, challengeID interfaces.ChallengeID, requireStrongPresence bool) error {
	// The embedded challenge binds the key to this pairing attempt; a
	// pre-generated attestation for any other challenge is worthless here.
	if !ConstantTimeEq(record.AttestationChallenge, []byte(challengeID)) {
		return fmt.Errorf("%w: challenge mismatch", interfaces.ErrAttestationInvalid)
	}

	if !interfaces.SecurityLevel(record.AttestationSecurityLevel).AtLeastTEE() {
		return fmt.Errorf("%w: attestation security level %d", interfaces.ErrAttestationInvalid, record.AttestationSecurityLevel)
	}
	if !interfaces.SecurityLevel(record.KeymasterSecurityLevel).AtLeastTEE() {
		return fmt.Errorf("%w: keymaster security level %d", interfaces.ErrAttestationInvalid, record.KeymasterSecurityLevel)
	}

	nowMillis := v.now().UnixMilli()
	graceMillis := v.grace.Milliseconds()

	if t, ok, err := intValue(record.SoftwareEnforced.ActiveDateTime); err != nil {
		return fmt.Errorf("%w: bad activeDateTime", interfaces.ErrAttestationInvalid)
	} else if ok && t > nowMillis+graceMillis {
		return fmt.Errorf("%w: key not yet active", interfaces.ErrAttestationInvalid)
	}
	if t, ok, err := intValue(record.SoftwareEnforced.CreationDateTime); err != nil {
		return fmt.Errorf("%w: bad creationDateTime", interfaces.ErrAttestationInvalid)
	} else if ok && t > nowMillis+graceMillis {
		return fmt.Errorf("%w: key created in the future", interfaces.ErrAttestationInvalid)
	}
	if t, ok, err := intValue(record.SoftwareEnforced.UsageExpireDateTime); err != nil {
		return fmt.Errorf("%w: bad usageExpireDateTime", interfaces.ErrAttestationInvalid)
	} else if ok && t < nowMillis-graceMillis {
		return fmt.Errorf("%w: key usage expired", interfaces.ErrAttestationInvalid)
	}

	if requireStrongPresence {
		// Delegation keys must demand user authentication at use and a
		// device unlocked at generation time.
		if present(record.TeeEnforced.NoAuthRequired) {
			return fmt.Errorf("%w: key does not require user auth", interfaces.ErrAttestationInvalid)
		}
		if !present(record.TeeEnforced.UnlockedDeviceRequired) {
			return fmt.Errorf("%w: key does not require unlocked device", interfaces.ErrAttestationInvalid)
		}
	}
	return nil
}
