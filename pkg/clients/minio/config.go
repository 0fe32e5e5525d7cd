package minio

import (
	"strings"
	"time"

	sserr "github.com/StricklySoft/stricklysoft-authz/pkg/errors"
)

const maxStatementLen = 100

const (
	DefaultEndpoint      = "localhost:9000"
	DefaultRegion        = "us-east-1"
	DefaultHealthTimeout = 3 * time.Second

	// healthProbeBucket is probed by Health when no bucket is configured. It
	// need not exist; any answer proves the server is reachable.
	healthProbeBucket = "health-check-probe"
)

// Secret holds a credential and never prints it.
type Secret string

const redacted = "[REDACTED]"

func (s Secret) String() string   { return redacted }
func (s Secret) GoString() string { return redacted }

// Value returns the underlying credential.
func (s Secret) Value() string { return string(s) }

// MarshalText implements encoding.TextMarshaler.
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// Config is the S3-compatible endpoint holding the audit archive.
type Config struct {
	// Endpoint is host:port without a scheme; UseSSL selects https.
	Endpoint  string `env:"ENDPOINT" envDefault:"localhost:9000" yaml:"endpoint" json:"endpoint,omitempty"`
	AccessKey string `env:"ACCESS_KEY" yaml:"access_key" json:"access_key,omitempty" required:"true"`
	SecretKey Secret `env:"SECRET_KEY" yaml:"secret_key" json:"-"`
	Region    string `env:"REGION" envDefault:"us-east-1" yaml:"region" json:"region,omitempty"`
	UseSSL    bool   `env:"USE_SSL" yaml:"use_ssl" json:"use_ssl,omitempty"`

	// HealthBucket is probed by Health. Empty uses a fixed probe name.
	HealthBucket string `env:"HEALTH_BUCKET" yaml:"health_bucket" json:"health_bucket,omitempty"`
}

// DefaultConfig returns a Config with endpoint and region at their defaults
// and no credentials.
func DefaultConfig() Config {
	return Config{Endpoint: DefaultEndpoint, Region: DefaultRegion}
}

// Validate implements config.Validator.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return sserr.New(sserr.CodeValidationRequired, "minio: endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return sserr.Newf(sserr.CodeValidationFormat,
			"minio: endpoint %q must be host:port without a scheme", c.Endpoint)
	}
	if c.AccessKey == "" {
		return sserr.New(sserr.CodeValidationRequired, "minio: access_key is required")
	}
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	return nil
}

func (c *Config) healthBucket() string {
	if c.HealthBucket != "" {
		return c.HealthBucket
	}
	return healthProbeBucket
}

func truncateStatement(s string) string {
	runes := []rune(s)
	if len(runes) <= maxStatementLen {
		return s
	}
	return string(runes[:maxStatementLen]) + "..."
}
