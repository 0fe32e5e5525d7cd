package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-authz/internal/testutil"
	"github.com/StricklySoft/stricklysoft-authz/internal/testutil/fixtures"
	"github.com/StricklySoft/stricklysoft-authz/pkg/config"
	sserr "github.com/StricklySoft/stricklysoft-authz/pkg/errors"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.Issuer = fixtures.Issuer
	cfg.Audience = fixtures.Audience
	return cfg
}

func TestConfig_JWKSEndpoint(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	assert.Equal(t, "https://tenant.auth.stricklysoft.test/.well-known/jwks.json", cfg.JWKSEndpoint())

	cfg.Issuer = "https://tenant.auth.stricklysoft.test"
	assert.Equal(t, "https://tenant.auth.stricklysoft.test/.well-known/jwks.json", cfg.JWKSEndpoint())

	cfg.JWKSURL = "https://keys.internal.test/jwks"
	assert.Equal(t, "https://keys.internal.test/jwks", cfg.JWKSEndpoint())
	assert.Equal(t, cfg.JWKSURL, cfg.KeySourceConfig().URL)
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		code   sserr.Code
	}{
		{"missing issuer", func(c *Config) { c.Issuer = "" }, sserr.CodeValidationRequired},
		{"missing audience", func(c *Config) { c.Audience = "" }, sserr.CodeValidationRequired},
		{"symmetric algorithm", func(c *Config) { c.Algorithm = "HS512" }, sserr.CodeValidation},
		{"skew too large", func(c *Config) { c.ClockSkew = 2 * time.Minute }, sserr.CodeValidationRange},
		{"zero cooldown", func(c *Config) { c.KeyRefreshCooldown = 0 }, sserr.CodeValidationRange},
		{"zero lookup timeout", func(c *Config) { c.IdentityLookupTimeout = 0 }, sserr.CodeValidationRange},
		{"relative key set url", func(c *Config) { c.JWKSURL = "/jwks.json" }, sserr.CodeValidationFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(&cfg)
			testutil.AssertErrorCode(t, cfg.Validate(), tt.code)
		})
	}

	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestConfig_LoadedThroughConfigPackage(t *testing.T) {
	type root struct {
		Auth Config `env:"AUTH" yaml:"auth"`
	}
	testutil.SetEnv(t, "AUTHZTEST_AUTH_ISSUER", fixtures.Issuer)
	testutil.SetEnv(t, "AUTHZTEST_AUTH_AUDIENCE", fixtures.Audience)
	testutil.SetEnv(t, "AUTHZTEST_AUTH_CLOCK_SKEW", "45s")

	var cfg root
	require.NoError(t, config.New().WithEnvPrefix(fixtures.EnvPrefix).Load(&cfg))

	assert.Equal(t, DefaultConfig().Algorithm, cfg.Auth.Algorithm)
	assert.Equal(t, 45*time.Second, cfg.Auth.ClockSkew)
	assert.Equal(t, time.Minute, cfg.Auth.KeyRefreshCooldown)

	vc := cfg.Auth.VerifierConfig()
	assert.Equal(t, fixtures.Audience, vc.Audience)
	assert.Equal(t, fixtures.Issuer, vc.Issuer)
}

func TestConfig_LoadRejectsUnsafeSkew(t *testing.T) {
	type root struct {
		Auth Config `env:"AUTH"`
	}
	testutil.SetEnv(t, "AUTHZSKEW_AUTH_ISSUER", fixtures.Issuer)
	testutil.SetEnv(t, "AUTHZSKEW_AUTH_AUDIENCE", fixtures.Audience)
	testutil.SetEnv(t, "AUTHZSKEW_AUTH_CLOCK_SKEW", "5m")

	var cfg root
	err := config.New().WithEnvPrefix("AUTHZSKEW").Load(&cfg)
	testutil.AssertErrorCode(t, err, sserr.CodeValidationRange)
}
