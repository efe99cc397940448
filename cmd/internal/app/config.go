package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// ErrConfig indicates invalid runtime configuration.
var ErrConfig = errors.New("app config invalid")

// Config contains the process-level settings loaded from EVACOM_* variables.
// Link-flow, Telegram and console settings live in their own packages.
type Config struct {
	HTTPAddr  string `env:"EVACOM_HTTP_ADDR"   envDefault:"0.0.0.0:8080"`
	LogLevel  string `env:"EVACOM_LOG_LEVEL"   envDefault:"info"`
	LogFormat string `env:"EVACOM_LOG_FORMAT"  envDefault:"json"`
	LogColor  bool   `env:"EVACOM_LOG_COLOR"   envDefault:"true"`

	ReadHeaderTimeout time.Duration `env:"EVACOM_HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `env:"EVACOM_HTTP_READ_TIMEOUT"        envDefault:"15s"`
	WriteTimeout      time.Duration `env:"EVACOM_HTTP_WRITE_TIMEOUT"       envDefault:"15s"`
	IdleTimeout       time.Duration `env:"EVACOM_HTTP_IDLE_TIMEOUT"        envDefault:"60s"`
	MaxHeaderBytes    int           `env:"EVACOM_HTTP_MAX_HEADER_BYTES"    envDefault:"1048576"`

	// DatabaseURL enables the Postgres audit log and the readiness ping.
	DatabaseURL string `env:"EVACOM_DATABASE_URL"`
	DBMaxConns  int32  `env:"EVACOM_DB_MAX_CONNS" envDefault:"10"`
	DBMinConns  int32  `env:"EVACOM_DB_MIN_CONNS" envDefault:"0"`
	DBSchema    string `env:"EVACOM_DB_SCHEMA"    envDefault:"evacom"`

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool `env:"EVACOM_READINESS_REQUIRE_DB" envDefault:"false"`

	// AuditSQLitePath is used when no DatabaseURL is set. Empty disables auditing.
	AuditSQLitePath string `env:"EVACOM_AUDIT_SQLITE_PATH"`
	AuditBuffer     int    `env:"EVACOM_AUDIT_BUFFER" envDefault:"1024"`

	// OTelEndpoint enables OTLP/HTTP trace export when set.
	OTelEndpoint string `env:"EVACOM_OTEL_ENDPOINT"`

	// Security policy: refuse to start with a secret shorter than 32 bytes.
	RequireStrongSecret bool `env:"EVACOM_REQUIRE_STRONG_SECRET" envDefault:"false"`
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	switch cfg.LogFormat {
	case "json", "console":
	default:
		return Config{}, fmt.Errorf("%w: EVACOM_LOG_FORMAT must be json or console", ErrConfig)
	}
	if cfg.DBMaxConns <= 0 || cfg.DBMinConns < 0 {
		return Config{}, fmt.Errorf("%w: invalid DB pool size", ErrConfig)
	}
	if cfg.AuditBuffer <= 0 {
		return Config{}, fmt.Errorf("%w: EVACOM_AUDIT_BUFFER must be positive", ErrConfig)
	}
	return cfg, nil
}
