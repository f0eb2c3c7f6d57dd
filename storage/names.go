package storage

import "encoding/base64"

// sanitizeName maps a record name to a path- and key-safe token. Record names
// include base64 device fingerprints, which contain '/' and '+', so every
// backend stores under the URL-safe encoding of the name.
func sanitizeName(name string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(name))
}
