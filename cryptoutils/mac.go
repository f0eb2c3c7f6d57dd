package cryptoutils

import (
	"crypto/hmac"
	"crypto/sha256"

	"github.com/quicklock/lock-pairing-backend/interfaces"
)

// ComputeMAC returns the HMAC-SHA256 of the exact payload bytes under key.
func ComputeMAC(key, payload []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return mac.Sum(nil)
}

// VerifyMAC checks an HMAC-SHA256 in constant time. Returns
// interfaces.ErrMacInvalid on mismatch.
func VerifyMAC(key, payload, tag []byte) error {
	if !hmac.Equal(ComputeMAC(key, payload), tag) {
		return interfaces.ErrMacInvalid
	}
	return nil
}
