package telegram

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ErrConfig indicates invalid adapter configuration.
var ErrConfig = errors.New("telegram config invalid")

// Config holds the Telegram adapter settings.
type Config struct {
	Token string `env:"TELEGRAM_TOKEN"`

	// LinkChatID is the group hosting the panel; only its members may link.
	LinkChatID int64 `env:"LINK_CHAT_ID"`
	// AuthorizedChatID is the chat whose membership is the capability.
	AuthorizedChatID int64 `env:"AUTHORIZED_CHAT_ID"`

	// InviteTTL bounds the lifetime of the single-use invite link.
	InviteTTL time.Duration `env:"TELEGRAM_INVITE_TTL" envDefault:"10m"`

	PollTimeout    int           `env:"TELEGRAM_POLL_TIMEOUT"    envDefault:"60"`
	Workers        int           `env:"TELEGRAM_WORKERS"         envDefault:"32"`
	HandlerTimeout time.Duration `env:"TELEGRAM_HANDLER_TIMEOUT" envDefault:"15s"`
}

// LoadConfigFromEnv loads Config from environment variables.
//
// Required: TELEGRAM_TOKEN, LINK_CHAT_ID, AUTHORIZED_CHAT_ID.
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
	case strings.TrimSpace(c.Token) == "":
		return fmt.Errorf("%w: TELEGRAM_TOKEN is required", ErrConfig)
	case c.LinkChatID == 0:
		return fmt.Errorf("%w: LINK_CHAT_ID is required", ErrConfig)
	case c.AuthorizedChatID == 0:
		return fmt.Errorf("%w: AUTHORIZED_CHAT_ID is required", ErrConfig)
	case c.InviteTTL <= 0:
		return fmt.Errorf("%w: TELEGRAM_INVITE_TTL must be positive", ErrConfig)
	case c.PollTimeout <= 0:
		return fmt.Errorf("%w: TELEGRAM_POLL_TIMEOUT must be positive", ErrConfig)
	case c.Workers <= 0:
		return fmt.Errorf("%w: TELEGRAM_WORKERS must be positive", ErrConfig)
	case c.HandlerTimeout <= 0:
		return fmt.Errorf("%w: TELEGRAM_HANDLER_TIMEOUT must be positive", ErrConfig)
	}
	return nil
}
