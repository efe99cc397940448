package challenge

import "strings"

// MinSecretBytes is the recommended minimum secret size for HMAC-SHA256.
const MinSecretBytes = 32

// SecretKey returns the secret bytes exactly as configured, enforcing a
// minimum byte length when minBytes > 0. Blank secrets yield ErrSecretMissing.
// Surrounding whitespace is part of the key: the game derives from raw bytes.
func SecretKey(raw string, minBytes int) ([]byte, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrSecretMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return b, ErrSecretTooShort
	}
	return b, nil
}
