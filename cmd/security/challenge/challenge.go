package challenge

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

const (
	// NonceDigits is the length of a session nonce.
	NonceDigits = 6
	// AccessKeyDigits is the length of an ACCESS KEY (nonce + 2 check digits).
	AccessKeyDigits = 8
	// ResponseDigits is the length of an Evacom ID without its prefix.
	ResponseDigits = 6

	challengePrefix = "CHAL|"
	responsePrefix  = "RESP|"
)

// Codes is the pair derived from one nonce.
type Codes struct {
	AccessKey    string
	ResponseCode string
}

// Derive returns both codes for nonce. The nonce is expected to be 6 digits.
func Derive(secret []byte, nonce string) Codes {
	return Codes{
		AccessKey:    AccessKey(secret, nonce),
		ResponseCode: ResponseCode(secret, nonce),
	}
}

// AccessKey returns the 8-digit ACCESS KEY for nonce.
func AccessKey(secret []byte, nonce string) string {
	return nonce + checkDigits(secret, nonce)
}

// ResponseCode returns the 6-digit response code for nonce.
func ResponseCode(secret []byte, nonce string) string {
	return fmt.Sprintf("%06d", hmacU32(secret, responsePrefix+nonce)%1_000_000)
}

func checkDigits(secret []byte, nonce string) string {
	return fmt.Sprintf("%02d", hmacU32(secret, challengePrefix+nonce)%100)
}

// hmacU32 reads the first 4 bytes of HMAC-SHA256(secret, msg) as big-endian.
func hmacU32(secret []byte, msg string) uint32 {
	m := hmac.New(sha256.New, secret)
	_, _ = m.Write([]byte(msg))
	return binary.BigEndian.Uint32(m.Sum(nil)[:4])
}

// ValidNonce reports whether s is exactly NonceDigits ASCII digits.
func ValidNonce(s string) bool {
	return len(s) == NonceDigits && allDigits(s)
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
