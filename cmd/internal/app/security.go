package app

import (
	"errors"
	"fmt"
	"log/slog"

	"evacom/cmd/security/challenge"
)

// ValidateSecurityConfig enforces the startup policy on the shared secret.
// A missing secret always fails. A short one fails only under
// EVACOM_REQUIRE_STRONG_SECRET, otherwise it is logged.
func ValidateSecurityConfig(cfg Config, secret string, log *slog.Logger) error {
	_, err := challenge.SecretKey(secret, challenge.MinSecretBytes)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, challenge.ErrSecretMissing):
		return errors.New("security policy: SECRET_KEY is missing")
	case errors.Is(err, challenge.ErrSecretTooShort):
		if cfg.RequireStrongSecret {
			return fmt.Errorf("security policy: EVACOM_REQUIRE_STRONG_SECRET=true but SECRET_KEY is too short (min %d bytes)", challenge.MinSecretBytes)
		}
		if log != nil {
			log.Warn("security.secret.short", "min_bytes", challenge.MinSecretBytes)
		}
		return nil
	default:
		return err
	}
}
