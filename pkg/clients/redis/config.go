package redis

import (
	"net/url"
	"time"

	sserr "github.com/StricklySoft/stricklysoft-authz/pkg/errors"
)

const maxStatementLen = 100

// Defaults. The coordination traffic is a handful of SETNX calls per
// cool-down window, so the pool is small and timeouts are short: a slow
// Redis must not hold up a key refresh.
const (
	DefaultHost         = "localhost"
	DefaultPort         = 6379
	DefaultPoolSize     = 4
	DefaultMinIdleConns = 1
	DefaultMaxRetries   = 1
	DefaultDialTimeout  = 2 * time.Second
	DefaultReadTimeout  = 500 * time.Millisecond
	DefaultWriteTimeout = 500 * time.Millisecond

	DefaultHealthTimeout = 2 * time.Second
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

// Config is the Redis connection used to share the key refresh cool-down
// between replicas. URI, when set, replaces Host, Port, DB and Password;
// rediss:// enables TLS.
type Config struct {
	URI      string `env:"URI" yaml:"uri" json:"uri,omitempty"`
	Host     string `env:"HOST" envDefault:"localhost" yaml:"host" json:"host,omitempty"`
	Port     int    `env:"PORT" envDefault:"6379" yaml:"port" json:"port,omitempty"`
	DB       int    `env:"DB" yaml:"db" json:"db"`
	Password Secret `env:"PASSWORD" yaml:"password" json:"-"`

	// KeyPrefix namespaces every key the service writes.
	KeyPrefix string `env:"KEY_PREFIX" envDefault:"authz:" yaml:"key_prefix" json:"key_prefix"`

	PoolSize     int           `env:"POOL_SIZE" envDefault:"4" yaml:"pool_size" json:"pool_size,omitempty"`
	MinIdleConns int           `env:"MIN_IDLE_CONNS" envDefault:"1" yaml:"min_idle_conns" json:"min_idle_conns,omitempty"`
	MaxRetries   int           `env:"MAX_RETRIES" envDefault:"1" yaml:"max_retries" json:"max_retries,omitempty"`
	DialTimeout  time.Duration `env:"DIAL_TIMEOUT" envDefault:"2s" yaml:"dial_timeout" json:"dial_timeout,omitempty"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"500ms" yaml:"read_timeout" json:"read_timeout,omitempty"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"500ms" yaml:"write_timeout" json:"write_timeout,omitempty"`
	TLSEnabled   bool          `env:"TLS_ENABLED" yaml:"tls_enabled" json:"tls_enabled,omitempty"`
}

// DefaultConfig returns a Config with every field at its default.
func DefaultConfig() Config {
	return Config{
		Host:         DefaultHost,
		Port:         DefaultPort,
		KeyPrefix:    "authz:",
		PoolSize:     DefaultPoolSize,
		MinIdleConns: DefaultMinIdleConns,
		MaxRetries:   DefaultMaxRetries,
		DialTimeout:  DefaultDialTimeout,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
}

// Validate implements config.Validator. Zero pool and timeout settings are
// replaced by their defaults first.
func (c *Config) Validate() error {
	c.applyDefaults()

	switch {
	case c.PoolSize < 1:
		return sserr.Newf(sserr.CodeValidationRange, "redis: pool_size must be >= 1, got %d", c.PoolSize)
	case c.MinIdleConns < 0 || c.MinIdleConns > c.PoolSize:
		return sserr.Newf(sserr.CodeValidationRange,
			"redis: min_idle_conns must be between 0 and pool_size (%d), got %d", c.PoolSize, c.MinIdleConns)
	case c.DialTimeout < 0 || c.ReadTimeout < 0 || c.WriteTimeout < 0:
		return sserr.New(sserr.CodeValidationRange, "redis: timeouts must not be negative")
	}

	if c.URI != "" {
		u, err := url.Parse(c.URI)
		if err != nil {
			return sserr.Wrap(err, sserr.CodeValidationFormat, "redis: uri is invalid")
		}
		if u.Scheme != "redis" && u.Scheme != "rediss" {
			return sserr.Newf(sserr.CodeValidationFormat,
				"redis: uri scheme must be redis or rediss, got %q", u.Scheme)
		}
		return nil
	}

	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Port < 1 || c.Port > 65535 {
		return sserr.Newf(sserr.CodeValidationRange, "redis: port %d is out of range", c.Port)
	}
	if c.DB < 0 {
		return sserr.Newf(sserr.CodeValidationRange, "redis: db index %d is negative", c.DB)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.PoolSize == 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
}

// truncateStatement shortens s to maxStatementLen runes for span attributes.
func truncateStatement(s string) string {
	runes := []rune(s)
	if len(runes) <= maxStatementLen {
		return s
	}
	return string(runes[:maxStatementLen]) + "..."
}
