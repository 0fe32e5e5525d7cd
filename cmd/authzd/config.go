package main

import (
	"log/slog"
	"time"

	"github.com/StricklySoft/stricklysoft-authz/pkg/auth"
	"github.com/StricklySoft/stricklysoft-authz/pkg/clients/minio"
	"github.com/StricklySoft/stricklysoft-authz/pkg/clients/postgres"
	"github.com/StricklySoft/stricklysoft-authz/pkg/clients/redis"
	sserr "github.com/StricklySoft/stricklysoft-authz/pkg/errors"
)

// envPrefix is prepended to every environment variable, so the issuer is
// read from AUTHZ_AUTH_ISSUER.
const envPrefix = "AUTHZ"

// Config is the root configuration of authzd.
type Config struct {
	ListenAddr      string        `env:"LISTEN_ADDR" envDefault:":8080" yaml:"listen_addr" json:"listen_addr"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info" yaml:"log_level" json:"log_level"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s" yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// KeyRefreshInterval is the period of the background key set refresh.
	KeyRefreshInterval time.Duration `env:"KEY_REFRESH_INTERVAL" envDefault:"5m" yaml:"key_refresh_interval" json:"key_refresh_interval"`

	Auth     auth.Config     `env:"AUTH" yaml:"auth" json:"auth"`
	Postgres postgres.Config `env:"POSTGRES" yaml:"postgres" json:"postgres"`
	Redis    RedisSection    `env:"REDIS" yaml:"redis" json:"redis"`
	Archive  ArchiveSection  `env:"ARCHIVE" yaml:"archive" json:"archive"`
}

// RedisSection shares the key refresh cool-down between replicas when
// enabled.
type RedisSection struct {
	Enabled bool         `env:"ENABLED" yaml:"enabled" json:"enabled"`
	Client  redis.Config `yaml:",inline" json:"client"`
}

// IsEnabled implements config.Toggler.
func (s *RedisSection) IsEnabled() bool { return s.Enabled }

// ArchiveSection copies every audit entry to object storage when enabled.
type ArchiveSection struct {
	Enabled bool         `env:"ENABLED" yaml:"enabled" json:"enabled"`
	Bucket  string       `env:"BUCKET" envDefault:"authz-audit" yaml:"bucket" json:"bucket"`
	MinIO   minio.Config `env:"MINIO" yaml:"minio" json:"minio"`
}

// IsEnabled implements config.Toggler.
func (s *ArchiveSection) IsEnabled() bool { return s.Enabled }

// Validate implements config.Validator.
func (c *Config) Validate() error {
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.ShutdownTimeout <= 0 {
		return sserr.New(sserr.CodeValidationRange, "authzd: shutdown_timeout must be positive")
	}
	if c.KeyRefreshInterval <= 0 {
		return sserr.New(sserr.CodeValidationRange, "authzd: key_refresh_interval must be positive")
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return sserr.New(sserr.CodeValidationRequired, "authzd: archive bucket is required")
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, sserr.Wrapf(err, sserr.CodeValidationFormat, "authzd: invalid log_level %q", s)
	}
	return level, nil
}
