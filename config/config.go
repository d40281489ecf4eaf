package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env      string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	Port     string `env:"PORT" envDefault:"8080" validate:"required"`

	DatabaseURL         string `env:"DATABASE_URL,required" validate:"required"`
	WorkerCount         int    `env:"WORKER_COUNT" envDefault:"2" validate:"min=1,max=100"`
	PollIntervalSec     int    `env:"POLL_INTERVAL_SEC" envDefault:"2" validate:"min=1,max=60"`
	HeartbeatTimeoutSec int    `env:"HEARTBEAT_TIMEOUT_SEC" envDefault:"60" validate:"min=10,max=3600"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`

	SchemaDir     string `env:"SCHEMA_DIR" envDefault:"schemas" validate:"required"`
	DefaultSchema string `env:"DEFAULT_SCHEMA" envDefault:"qes-1.0.xsd" validate:"required"`

	PWCommand     string `env:"PW_COMMAND" envDefault:"pw.x" validate:"required"`
	MPICommand    string `env:"MPI_COMMAND"`
	WorkDir       string `env:"WORK_DIR" envDefault:"/var/lib/pwchain/work" validate:"required"`
	PseudoDir     string `env:"PSEUDO_DIR" envDefault:"/var/lib/pwchain/pseudo" validate:"required"`
	MaxIterations int    `env:"MAX_ITERATIONS" envDefault:"5" validate:"min=1,max=50"`

	// PseudoFamiliesFile is a YAML table of pseudo families. Empty means
	// workchains must name their pseudos explicitly.
	PseudoFamiliesFile string `env:"PSEUDO_FAMILIES_FILE"`

	CleanupTimeoutSec     int    `env:"CLEANUP_TIMEOUT_SEC" envDefault:"30" validate:"min=1,max=600"`
	JanitorSchedule       string `env:"JANITOR_SCHEDULE" envDefault:"0 3 * * *" validate:"required"`
	WorkdirRetentionHours int    `env:"WORKDIR_RETENTION_HOURS" envDefault:"168" validate:"min=1"`

	JWTSecret    string `env:"JWT_SECRET,required" validate:"required,min=32"`
	JWKSURL      string `env:"JWKS_URL"            validate:"omitempty,url"`
	ResendAPIKey string `env:"RESEND_API_KEY"      validate:"required_if=Env production,required_if=Env staging"`
	ResendFrom   string `env:"RESEND_FROM"         validate:"required_if=Env production,required_if=Env staging"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatTimeoutSec) * time.Second
}

func (c *Config) CleanupTimeout() time.Duration {
	return time.Duration(c.CleanupTimeoutSec) * time.Second
}

func (c *Config) WorkdirRetention() time.Duration {
	return time.Duration(c.WorkdirRetentionHours) * time.Hour
}
