package verify

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the link-flow policy. All values come from the environment and
// are validated once at startup; a zero or missing value aborts the process.
type Config struct {
	// SecretKey is the process-wide HMAC secret. It is never rotated at runtime.
	SecretKey string `env:"SECRET_KEY"`

	TTLSeconds      int `env:"TTL_SECONDS"      envDefault:"300"`
	CooldownSeconds int `env:"COOLDOWN_SECONDS" envDefault:"30"`
	MaxAttempts     int `env:"MAX_ATTEMPTS"     envDefault:"3"`

	// ReaperInterval is how often expired sessions are purged.
	ReaperInterval time.Duration `env:"REAPER_INTERVAL" envDefault:"30s"`
}

// DefaultConfig returns the defaults without a secret.
func DefaultConfig() Config {
	return Config{
		TTLSeconds:      300,
		CooldownSeconds: 30,
		MaxAttempts:     3,
		ReaperInterval:  30 * time.Second,
	}
}

// LoadConfigFromEnv loads Config from environment variables.
//
// Required:
//   - SECRET_KEY
//
// Optional:
//   - TTL_SECONDS, COOLDOWN_SECONDS, MAX_ATTEMPTS (positive integers)
//   - REAPER_INTERVAL (Go duration)
//
// Returns an error wrapping ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.SecretKey) == "":
		return fmt.Errorf("%w: SECRET_KEY is required", ErrConfig)
	case c.TTLSeconds <= 0:
		return fmt.Errorf("%w: TTL_SECONDS must be positive", ErrConfig)
	case c.CooldownSeconds <= 0:
		return fmt.Errorf("%w: COOLDOWN_SECONDS must be positive", ErrConfig)
	case c.MaxAttempts <= 0:
		return fmt.Errorf("%w: MAX_ATTEMPTS must be positive", ErrConfig)
	case c.ReaperInterval <= 0:
		return fmt.Errorf("%w: REAPER_INTERVAL must be positive", ErrConfig)
	}
	return nil
}

// TTL is the maximum session age.
func (c Config) TTL() time.Duration { return time.Duration(c.TTLSeconds) * time.Second }

// Cooldown is the minimum interval between Link calls of one user.
func (c Config) Cooldown() time.Duration { return time.Duration(c.CooldownSeconds) * time.Second }
