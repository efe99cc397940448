package challenge

import (
	"crypto/subtle"
	"strings"
)

// EvacomIDPrefix is shown by the game in front of the response code.
const EvacomIDPrefix = "B-"

// FormatAccessKey renders an 8-digit key as two groups of four ("1234 5678").
// Other lengths are returned unchanged.
func FormatAccessKey(key string) string {
	if len(key) != AccessKeyDigits {
		return key
	}
	return key[:4] + " " + key[4:]
}

// FormatEvacomID renders a response code the way the game displays it.
func FormatEvacomID(code string) string {
	return EvacomIDPrefix + code
}

// ExtractResponseDigits drops every non-digit from text and returns the rest
// when exactly ResponseDigits remain, otherwise "".
//
//	"B-123456"    -> "123456"
//	"1 2 3 4 5 6" -> "123456"
//	"12-34"       -> ""
func ExtractResponseDigits(text string) string {
	d := digitsOnly(text)
	if len(d) != ResponseDigits {
		return ""
	}
	return d
}

// MatchResponse compares a submitted code with the expected one in constant time.
func MatchResponse(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// Redeem is the Service Console side of the flow: it validates an ACCESS KEY
// typed by the user and returns the response code for its nonce.
func Redeem(secret []byte, rawAccessKey string) (string, error) {
	key := digitsOnly(rawAccessKey)
	if len(key) != AccessKeyDigits {
		return "", ErrAccessKeyMalformed
	}
	nonce, check := key[:NonceDigits], key[NonceDigits:]
	if subtle.ConstantTimeCompare([]byte(check), []byte(checkDigits(secret, nonce))) != 1 {
		return "", ErrAccessKeyChecksum
	}
	return ResponseCode(secret, nonce), nil
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
