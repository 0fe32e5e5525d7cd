package auth

import (
	"net/url"
	"strings"
	"time"

	sserr "github.com/StricklySoft/stricklysoft-authz/pkg/errors"
)

// MaxClockSkew is the largest clock skew tolerance Config accepts.
const MaxClockSkew = 60 * time.Second

// acceptedAlgorithms lists the asymmetric JWS algorithms that may be
// configured. Symmetric and unsecured algorithms are never accepted.
var acceptedAlgorithms = map[string]bool{
	"RS256": true, "RS384": true, "RS512": true,
	"PS256": true, "PS384": true, "PS512": true,
	"ES256": true, "ES384": true, "ES512": true,
}

// Config configures token verification and identity resolution. It is
// loaded with pkg/config, usually nested under an `env:"AUTH"` field.
type Config struct {
	// Issuer is the exact "iss" value tokens must carry, for hosted
	// tenants "https://<domain>/".
	Issuer string `env:"ISSUER" yaml:"issuer" json:"issuer" required:"true"`

	// Audience is the API identifier that must appear in "aud".
	Audience string `env:"AUDIENCE" yaml:"audience" json:"audience" required:"true"`

	// JWKSURL overrides the key set location. When empty it is derived from
	// Issuer as <issuer>/.well-known/jwks.json.
	JWKSURL string `env:"JWKS_URL" yaml:"jwks_url" json:"jwks_url"`

	// Algorithm is the only signing algorithm accepted.
	Algorithm string `env:"ALGORITHM" envDefault:"RS256" yaml:"algorithm" json:"algorithm"`

	// ClockSkew is the tolerance applied to exp, iat and nbf. At most
	// MaxClockSkew.
	ClockSkew time.Duration `env:"CLOCK_SKEW" envDefault:"30s" yaml:"clock_skew" json:"clock_skew"`

	// KeyRefreshCooldown bounds refreshes triggered by unknown key ids to
	// one per window.
	KeyRefreshCooldown time.Duration `env:"KEY_REFRESH_COOLDOWN" envDefault:"1m" yaml:"key_refresh_cooldown" json:"key_refresh_cooldown"`

	// KeyMaxAge is the age after which cached keys are refreshed on the next
	// lookup.
	KeyMaxAge time.Duration `env:"KEY_MAX_AGE" envDefault:"10m" yaml:"key_max_age" json:"key_max_age"`

	KeyFetchTimeout       time.Duration `env:"KEY_FETCH_TIMEOUT" envDefault:"5s" yaml:"key_fetch_timeout" json:"key_fetch_timeout"`
	IdentityLookupTimeout time.Duration `env:"IDENTITY_LOOKUP_TIMEOUT" envDefault:"3s" yaml:"identity_lookup_timeout" json:"identity_lookup_timeout"`
}

// DefaultConfig returns a Config with every tunable at its default. Issuer
// and Audience are left empty.
func DefaultConfig() Config {
	return Config{
		Algorithm:             "RS256",
		ClockSkew:             30 * time.Second,
		KeyRefreshCooldown:    time.Minute,
		KeyMaxAge:             10 * time.Minute,
		KeyFetchTimeout:       5 * time.Second,
		IdentityLookupTimeout: 3 * time.Second,
	}
}

// Validate implements config.Validator.
func (c *Config) Validate() error {
	if c.Issuer == "" {
		return sserr.New(sserr.CodeValidationRequired, "auth: issuer is required")
	}
	if c.Audience == "" {
		return sserr.New(sserr.CodeValidationRequired, "auth: audience is required")
	}
	if !acceptedAlgorithms[c.Algorithm] {
		return sserr.Newf(sserr.CodeValidation,
			"auth: algorithm %q is not an accepted asymmetric algorithm", c.Algorithm)
	}
	if c.ClockSkew < 0 || c.ClockSkew > MaxClockSkew {
		return sserr.Newf(sserr.CodeValidationRange,
			"auth: clock skew %s must be between 0 and %s", c.ClockSkew, MaxClockSkew)
	}
	for name, d := range map[string]time.Duration{
		"key refresh cooldown":    c.KeyRefreshCooldown,
		"key max age":             c.KeyMaxAge,
		"key fetch timeout":       c.KeyFetchTimeout,
		"identity lookup timeout": c.IdentityLookupTimeout,
	} {
		if d <= 0 {
			return sserr.Newf(sserr.CodeValidationRange, "auth: %s must be positive", name)
		}
	}
	u, err := url.Parse(c.JWKSEndpoint())
	if err != nil || u.Scheme == "" || u.Host == "" {
		return sserr.Newf(sserr.CodeValidationFormat,
			"auth: key set URL %q is not an absolute URL", c.JWKSEndpoint())
	}
	return nil
}

// JWKSEndpoint returns the key set URL.
func (c Config) JWKSEndpoint() string {
	if c.JWKSURL != "" {
		return c.JWKSURL
	}
	return strings.TrimRight(c.Issuer, "/") + "/.well-known/jwks.json"
}

// KeySourceConfig returns the KeySource settings.
func (c Config) KeySourceConfig() KeySourceConfig {
	return KeySourceConfig{
		URL:          c.JWKSEndpoint(),
		Cooldown:     c.KeyRefreshCooldown,
		MaxAge:       c.KeyMaxAge,
		FetchTimeout: c.KeyFetchTimeout,
	}
}

// VerifierConfig returns the Verifier settings.
func (c Config) VerifierConfig() VerifierConfig {
	return VerifierConfig{
		Audience:  c.Audience,
		Issuer:    c.Issuer,
		Algorithm: c.Algorithm,
		ClockSkew: c.ClockSkew,
	}
}
