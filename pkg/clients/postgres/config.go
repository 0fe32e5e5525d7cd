package postgres

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	sserr "github.com/StricklySoft/stricklysoft-authz/pkg/errors"
)

// maxStatementLen bounds the SQL text recorded on spans so bound values in
// long statements do not leak into telemetry.
const maxStatementLen = 100

// Defaults for the authorization service database.
const (
	DefaultHost     = "localhost"
	DefaultPort     = 5432
	DefaultDatabase = "authz"
	DefaultUser     = "authz"

	DefaultMaxConns          int32 = 10
	DefaultMinConns          int32 = 2
	DefaultMaxConnLifetime         = time.Hour
	DefaultMaxConnIdleTime         = 15 * time.Minute
	DefaultHealthCheckPeriod       = time.Minute
	DefaultConnectTimeout          = 5 * time.Second

	// DefaultHealthTimeout applies to Health when the caller's context has
	// no deadline.
	DefaultHealthTimeout = 2 * time.Second
)

// SSLMode is the libpq sslmode connection parameter.
type SSLMode string

const (
	SSLModeDisable    SSLMode = "disable"
	SSLModeAllow      SSLMode = "allow"
	SSLModePrefer     SSLMode = "prefer"
	SSLModeRequire    SSLMode = "require"
	SSLModeVerifyCA   SSLMode = "verify-ca"
	SSLModeVerifyFull SSLMode = "verify-full"
)

// Valid reports whether m is a recognized mode.
func (m SSLMode) Valid() bool {
	switch m {
	case SSLModeDisable, SSLModeAllow, SSLModePrefer,
		SSLModeRequire, SSLModeVerifyCA, SSLModeVerifyFull:
		return true
	}
	return false
}

// Secret holds a credential. It prints, formats and marshals as
// "[REDACTED]"; use Value for the real string.
type Secret string

const redacted = "[REDACTED]"

func (s Secret) String() string   { return redacted }
func (s Secret) GoString() string { return redacted }

// Value returns the underlying credential.
func (s Secret) Value() string { return string(s) }

// MarshalText implements encoding.TextMarshaler.
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// Config is the connection configuration for the directory and audit
// database. It is loaded with pkg/config, typically nested under
// `env:"POSTGRES"`. When URI is set it replaces the structured fields.
type Config struct {
	URI string `env:"URI" yaml:"uri" json:"uri,omitempty"`

	Host     string `env:"HOST" envDefault:"localhost" yaml:"host" json:"host,omitempty"`
	Port     int    `env:"PORT" envDefault:"5432" yaml:"port" json:"port,omitempty"`
	Database string `env:"DATABASE" envDefault:"authz" yaml:"database" json:"database"`
	User     string `env:"USER" envDefault:"authz" yaml:"user" json:"user"`
	Password Secret `env:"PASSWORD" yaml:"password" json:"-"`

	SSLMode SSLMode `env:"SSLMODE" envDefault:"prefer" yaml:"ssl_mode" json:"ssl_mode,omitempty"`

	// SSLRootCert is a PEM CA bundle used for verify-ca and verify-full.
	SSLRootCert string `env:"SSL_ROOT_CERT" yaml:"ssl_root_cert" json:"ssl_root_cert,omitempty"`

	MaxConns          int32         `env:"MAX_CONNS" envDefault:"10" yaml:"max_conns" json:"max_conns,omitempty"`
	MinConns          int32         `env:"MIN_CONNS" envDefault:"2" yaml:"min_conns" json:"min_conns,omitempty"`
	MaxConnLifetime   time.Duration `env:"MAX_CONN_LIFETIME" envDefault:"1h" yaml:"max_conn_lifetime" json:"max_conn_lifetime,omitempty"`
	MaxConnIdleTime   time.Duration `env:"MAX_CONN_IDLE_TIME" envDefault:"15m" yaml:"max_conn_idle_time" json:"max_conn_idle_time,omitempty"`
	HealthCheckPeriod time.Duration `env:"HEALTH_CHECK_PERIOD" envDefault:"1m" yaml:"health_check_period" json:"health_check_period,omitempty"`
	ConnectTimeout    time.Duration `env:"CONNECT_TIMEOUT" envDefault:"5s" yaml:"connect_timeout" json:"connect_timeout,omitempty"`
}

// DefaultConfig returns a Config with every field at its default.
func DefaultConfig() Config {
	return Config{
		Host:              DefaultHost,
		Port:              DefaultPort,
		Database:          DefaultDatabase,
		User:              DefaultUser,
		SSLMode:           SSLModePrefer,
		MaxConns:          DefaultMaxConns,
		MinConns:          DefaultMinConns,
		MaxConnLifetime:   DefaultMaxConnLifetime,
		MaxConnIdleTime:   DefaultMaxConnIdleTime,
		HealthCheckPeriod: DefaultHealthCheckPeriod,
		ConnectTimeout:    DefaultConnectTimeout,
	}
}

// Validate implements config.Validator. Zero pool settings are replaced by
// their defaults before the checks run.
func (c *Config) Validate() error {
	c.applyPoolDefaults()

	if c.MaxConns < c.MinConns {
		return sserr.Newf(sserr.CodeValidation,
			"postgres: max_conns (%d) must be >= min_conns (%d)", c.MaxConns, c.MinConns)
	}

	if c.URI != "" {
		u, err := url.Parse(c.URI)
		if err != nil {
			return sserr.Wrap(err, sserr.CodeValidationFormat, "postgres: uri is invalid")
		}
		if u.Scheme != "postgres" && u.Scheme != "postgresql" {
			return sserr.Newf(sserr.CodeValidationFormat,
				"postgres: uri scheme %q is not postgres", u.Scheme)
		}
		return nil
	}

	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.SSLMode == "" {
		c.SSLMode = SSLModePrefer
	}
	switch {
	case c.Port < 1 || c.Port > 65535:
		return sserr.Newf(sserr.CodeValidation, "postgres: port %d is out of range", c.Port)
	case c.Database == "":
		return sserr.New(sserr.CodeValidationRequired, "postgres: database is required")
	case c.User == "":
		return sserr.New(sserr.CodeValidationRequired, "postgres: user is required")
	case !c.SSLMode.Valid():
		return sserr.Newf(sserr.CodeValidation, "postgres: ssl_mode %q is not valid", c.SSLMode)
	}
	if c.SSLRootCert != "" {
		if _, err := os.Stat(c.SSLRootCert); err != nil {
			return sserr.Wrapf(err, sserr.CodeValidation,
				"postgres: ssl_root_cert %q is not readable", c.SSLRootCert)
		}
	}
	return nil
}

func (c *Config) applyPoolDefaults() {
	if c.MaxConns == 0 {
		c.MaxConns = DefaultMaxConns
	}
	if c.MinConns == 0 {
		c.MinConns = DefaultMinConns
	}
	if c.MaxConnLifetime == 0 {
		c.MaxConnLifetime = DefaultMaxConnLifetime
	}
	if c.MaxConnIdleTime == 0 {
		c.MaxConnIdleTime = DefaultMaxConnIdleTime
	}
	if c.HealthCheckPeriod == 0 {
		c.HealthCheckPeriod = DefaultHealthCheckPeriod
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
}

// ConnectionString returns URI when set, otherwise a postgres:// URL built
// from the structured fields. The result contains the password in clear.
func (c *Config) ConnectionString() string {
	if c.URI != "" {
		return c.URI
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password.Value()),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   c.Database,
	}
	q := u.Query()
	if c.SSLMode != "" {
		q.Set("sslmode", string(c.SSLMode))
	}
	if c.ConnectTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(c.ConnectTimeout.Seconds())))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// databaseName is the name recorded as db.name on spans.
func (c *Config) databaseName() string {
	if c.URI != "" {
		if u, err := url.Parse(c.URI); err == nil && len(u.Path) > 1 {
			return u.Path[1:]
		}
	}
	return c.Database
}

// tlsConfig returns nil unless a custom CA is configured and TLS is on.
// verify-full checks chain and hostname; verify-ca checks the chain only.
func (c *Config) tlsConfig() (*tls.Config, error) {
	if c.SSLRootCert == "" || c.SSLMode == SSLModeDisable {
		return nil, nil
	}
	pem, err := os.ReadFile(c.SSLRootCert)
	if err != nil {
		return nil, fmt.Errorf("read CA certificate %q: %w", c.SSLRootCert, err)
	}
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %q", c.SSLRootCert)
	}

	cfg := &tls.Config{RootCAs: roots, MinVersion: tls.VersionTLS12}
	switch c.SSLMode {
	case SSLModeVerifyFull:
		cfg.ServerName = c.Host
	case SSLModeVerifyCA:
		cfg.InsecureSkipVerify = true
		cfg.VerifyConnection = func(cs tls.ConnectionState) error {
			if len(cs.PeerCertificates) == 0 {
				return errors.New("server presented no certificate")
			}
			opts := x509.VerifyOptions{Roots: roots, Intermediates: x509.NewCertPool()}
			for _, cert := range cs.PeerCertificates[1:] {
				opts.Intermediates.AddCert(cert)
			}
			_, err := cs.PeerCertificates[0].Verify(opts)
			return err
		}
	default:
		cfg.InsecureSkipVerify = true
	}
	return cfg, nil
}

func truncateStatement(sql string) string {
	if len(sql) <= maxStatementLen {
		return sql
	}
	return sql[:maxStatementLen] + "..."
}
