package challenge

import "errors"

// Public, stable errors for callers.
var (
	ErrNonceMalformed     = errors.New("nonce must be 6 digits")
	ErrAccessKeyMalformed = errors.New("access key must be 8 digits")
	ErrAccessKeyChecksum  = errors.New("access key check digits mismatch")
	ErrSecretMissing      = errors.New("secret key missing")
	ErrSecretTooShort     = errors.New("secret key too short")
)
