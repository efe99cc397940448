package console

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// ErrConfig indicates invalid console configuration.
var ErrConfig = errors.New("console config invalid")

// Config controls the console endpoints. The console is off unless Enabled.
type Config struct {
	Enabled bool `env:"EVACOM_CONSOLE_ENABLED" envDefault:"false"`

	// Game clients normally send no Origin header.
	OriginRequired bool     `env:"EVACOM_CONSOLE_ORIGIN_REQUIRED" envDefault:"false"`
	AllowedOrigins []string `env:"EVACOM_CONSOLE_ALLOWED_ORIGINS" envDefault:"http://localhost,http://127.0.0.1" envSeparator:","`
	DevInsecure    bool     `env:"EVACOM_CONSOLE_DEV_INSECURE"    envDefault:"false"`
	TrustProxy     bool     `env:"EVACOM_CONSOLE_TRUST_PROXY"     envDefault:"false"`

	IPRateEvents   int           `env:"EVACOM_CONSOLE_IP_RATE_EVENTS"   envDefault:"30"`
	IPRateWindow   time.Duration `env:"EVACOM_CONSOLE_IP_RATE_WINDOW"   envDefault:"1m"`
	ConnRateEvents int           `env:"EVACOM_CONSOLE_CONN_RATE_EVENTS" envDefault:"10"`
	ConnRateWindow time.Duration `env:"EVACOM_CONSOLE_CONN_RATE_WINDOW" envDefault:"10s"`

	WriteTimeout      time.Duration `env:"EVACOM_CONSOLE_WRITE_TIMEOUT"      envDefault:"5s"`
	ReadIdleTimeout   time.Duration `env:"EVACOM_CONSOLE_READ_IDLE_TIMEOUT"  envDefault:"2m"`
	HeartbeatInterval time.Duration `env:"EVACOM_CONSOLE_HEARTBEAT_INTERVAL" envDefault:"25s"`
	HeartbeatTimeout  time.Duration `env:"EVACOM_CONSOLE_HEARTBEAT_TIMEOUT"  envDefault:"5s"`
}

// DefaultConfig mirrors the envDefault tags.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins:    []string{"http://localhost", "http://127.0.0.1"},
		IPRateEvents:      30,
		IPRateWindow:      time.Minute,
		ConnRateEvents:    10,
		ConnRateWindow:    10 * time.Second,
		WriteTimeout:      5 * time.Second,
		ReadIdleTimeout:   2 * time.Minute,
		HeartbeatInterval: 25 * time.Second,
		HeartbeatTimeout:  5 * time.Second,
	}
}

// LoadConfigFromEnv loads Config from EVACOM_CONSOLE_* variables.
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
	case c.IPRateEvents <= 0 || c.IPRateWindow <= 0:
		return fmt.Errorf("%w: IP rate limit must be positive", ErrConfig)
	case c.ConnRateEvents <= 0 || c.ConnRateWindow <= 0:
		return fmt.Errorf("%w: connection rate limit must be positive", ErrConfig)
	case c.WriteTimeout <= 0 || c.ReadIdleTimeout <= 0:
		return fmt.Errorf("%w: timeouts must be positive", ErrConfig)
	case c.HeartbeatInterval <= 0 || c.HeartbeatTimeout <= 0:
		return fmt.Errorf("%w: heartbeat settings must be positive", ErrConfig)
	}
	return nil
}
