package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/StricklySoft/stricklysoft-authz/internal/testutil"
	"github.com/StricklySoft/stricklysoft-authz/internal/testutil/fixtures"
	"github.com/StricklySoft/stricklysoft-authz/internal/testutil/idp"
	sserr "github.com/StricklySoft/stricklysoft-authz/pkg/errors"
)

// ---------------------------------------------------------------------------
// NewVerifier
// ---------------------------------------------------------------------------

func TestNewVerifier_RejectsUnsafeConfiguration(t *testing.T) {
	t.Parallel()
	keys := &countingKeys{}

	tests := []struct {
		name   string
		mutate func(*VerifierConfig)
		code   sserr.Code
	}{
		{"symmetric algorithm", func(c *VerifierConfig) { c.Algorithm = "HS256" }, sserr.CodeValidation},
		{"unsecured algorithm", func(c *VerifierConfig) { c.Algorithm = "none" }, sserr.CodeValidation},
		{"empty algorithm", func(c *VerifierConfig) { c.Algorithm = "" }, sserr.CodeValidation},
		{"skew above maximum", func(c *VerifierConfig) { c.ClockSkew = 61 * time.Second }, sserr.CodeValidationRange},
		{"negative skew", func(c *VerifierConfig) { c.ClockSkew = -time.Second }, sserr.CodeValidationRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testVerifierConfig()
			tt.mutate(&cfg)
			_, err := NewVerifier(keys, cfg)
			testutil.AssertErrorCode(t, err, tt.code)
		})
	}
}

func TestNewVerifier_RequiresKeyProvider(t *testing.T) {
	t.Parallel()
	_, err := NewVerifier(nil, testVerifierConfig())
	testutil.AssertErrorCode(t, err, sserr.CodeValidationRequired)
}

// ---------------------------------------------------------------------------
// Verify: success
// ---------------------------------------------------------------------------

func TestVerify_ValidToken(t *testing.T) {
	t.Parallel()
	h := newVerifierHarness(t)
	claims := idp.Claims(h.clock.Now())
	claims["permissions"] = []string{"write:photos", "read:projects", "read:projects"}
	claims["scope"] = "openid email"

	got, err := h.verifier.Verify(context.Background(), h.idp.Mint(claims))
	require.NoError(t, err)

	assert.Equal(t, fixtures.Subject, got.Subject())
	assert.Equal(t, fixtures.Email, got.Email())
	assert.Equal(t, fixtures.Issuer, got.Issuer())
	assert.Equal(t, []string{fixtures.Audience}, got.Audience())
	assert.Equal(t, "openid email", got.Scope())
	assert.Equal(t, []string{"read:projects", "write:photos"}, got.Permissions())
	assert.True(t, got.HasPermission("write:photos"))
	assert.False(t, got.HasPermission("write:users"))
	assert.Equal(t, testEpoch, got.IssuedAt().UTC())
	assert.Equal(t, testEpoch.Add(time.Hour), got.ExpiresAt().UTC())
}

func TestVerify_AcceptsSingleStringAudienceAndEmptyPermissions(t *testing.T) {
	t.Parallel()
	h := newVerifierHarness(t)
	claims := idp.Claims(h.clock.Now())
	claims["aud"] = fixtures.Audience
	claims["permissions"] = []string{}

	got, err := h.verifier.Verify(context.Background(), h.idp.Mint(claims))
	require.NoError(t, err)
	assert.Empty(t, got.Permissions())
}

func TestVerify_PermissionsCopyIsIndependent(t *testing.T) {
	t.Parallel()
	h := newVerifierHarness(t)
	got, err := h.verifier.Verify(context.Background(), h.idp.Mint(idp.Claims(h.clock.Now())))
	require.NoError(t, err)

	perms := got.Permissions()
	perms[0] = "write:users"
	assert.NotContains(t, got.Permissions(), "write:users")
}

func TestVerify_ToleratesSkew(t *testing.T) {
	t.Parallel()
	h := newVerifierHarness(t)
	ctx := context.Background()

	expiredWithinSkew := idp.Claims(h.clock.Now())
	expiredWithinSkew["exp"] = h.clock.Now().Add(-testSkew / 2).Unix()
	_, err := h.verifier.Verify(ctx, h.idp.Mint(expiredWithinSkew))
	assert.NoError(t, err, "exp within skew")

	issuedSlightlyAhead := idp.Claims(h.clock.Now())
	issuedSlightlyAhead["iat"] = h.clock.Now().Add(testSkew / 2).Unix()
	_, err = h.verifier.Verify(ctx, h.idp.Mint(issuedSlightlyAhead))
	assert.NoError(t, err, "iat within skew")
}

func TestVerify_AfterKeyRotation(t *testing.T) {
	t.Parallel()
	h := newVerifierHarness(t)
	ctx := context.Background()
	oldToken := h.idp.Mint(idp.Claims(h.clock.Now()))

	h.idp.Rotate(fixtures.RotatedKeyID)
	newToken := h.idp.Mint(idp.Claims(h.clock.Now()))

	_, err := h.verifier.Verify(ctx, newToken)
	require.NoError(t, err, "new kid is picked up by the miss refresh")
	_, err = h.verifier.Verify(ctx, oldToken)
	assert.NoError(t, err, "old key stays valid while published")
}

// ---------------------------------------------------------------------------
// Verify: failures
// ---------------------------------------------------------------------------

func TestVerify_Failures(t *testing.T) {
	t.Parallel()
	h := newVerifierHarness(t)
	now := h.clock.Now()

	with := func(mutate func(jwt.MapClaims)) jwt.MapClaims {
		c := idp.Claims(now)
		mutate(c)
		return c
	}

	tests := []struct {
		name  string
		token func() string
		code  sserr.Code
	}{
		{"empty", func() string { return "" }, sserr.CodeMalformedToken},
		{"one segment", func() string { return "opaque-token" }, sserr.CodeMalformedToken},
		{"four segments", func() string { return "a.b.c.d" }, sserr.CodeMalformedToken},
		{"undecodable header", func() string { return "a.b.c" }, sserr.CodeMalformedToken},
		{"oversized", func() string { return strings.Repeat("a", maxTokenSize) + ".b.c" }, sserr.CodeMalformedToken},
		{"missing kid", func() string {
			return h.idp.Mint(idp.Claims(now), idp.WithoutKeyID())
		}, sserr.CodeUnknownSigningKey},
		{"unknown kid", func() string {
			return h.idp.Mint(idp.Claims(now), idp.WithKeyID("forged-kid"))
		}, sserr.CodeUnknownSigningKey},
		{"foreign key under known kid", func() string {
			return h.idp.Mint(idp.Claims(now), idp.WithForeignKey(idp.GenerateKey(t)))
		}, sserr.CodeInvalidSignature},
		{"tampered payload", func() string {
			parts := strings.Split(h.idp.Mint(idp.Claims(now)), ".")
			other := strings.Split(h.idp.Mint(with(func(c jwt.MapClaims) { c["sub"] = fixtures.UnknownSubject })), ".")
			return parts[0] + "." + other[1] + "." + parts[2]
		}, sserr.CodeInvalidSignature},
		{"expired", func() string {
			return h.idp.Mint(with(func(c jwt.MapClaims) { c["exp"] = now.Add(-2 * time.Minute).Unix() }))
		}, sserr.CodeTokenExpired},
		{"issued in the future", func() string {
			return h.idp.Mint(with(func(c jwt.MapClaims) { c["iat"] = now.Add(5 * time.Minute).Unix() }))
		}, sserr.CodeTokenNotYetValid},
		{"not before in the future", func() string {
			return h.idp.Mint(with(func(c jwt.MapClaims) { c["nbf"] = now.Add(5 * time.Minute).Unix() }))
		}, sserr.CodeTokenNotYetValid},
		{"wrong audience", func() string {
			return h.idp.Mint(with(func(c jwt.MapClaims) { c["aud"] = []string{fixtures.OtherAudience} }))
		}, sserr.CodeAudienceMismatch},
		{"wrong issuer", func() string {
			return h.idp.Mint(with(func(c jwt.MapClaims) { c["iss"] = "https://evil.example.test/" }))
		}, sserr.CodeIssuerMismatch},
		{"missing audience", func() string {
			return h.idp.Mint(with(func(c jwt.MapClaims) { delete(c, "aud") }))
		}, sserr.CodeAudienceMismatch},
		{"empty audience list", func() string {
			return h.idp.Mint(with(func(c jwt.MapClaims) { c["aud"] = []string{} }))
		}, sserr.CodeAudienceMismatch},
		{"missing issuer", func() string {
			return h.idp.Mint(with(func(c jwt.MapClaims) { delete(c, "iss") }))
		}, sserr.CodeIssuerMismatch},
		{"missing exp", func() string {
			return h.idp.Mint(with(func(c jwt.MapClaims) { delete(c, "exp") }))
		}, sserr.CodeMissingRequiredClaim},
		{"missing sub", func() string {
			return h.idp.Mint(with(func(c jwt.MapClaims) { delete(c, "sub") }))
		}, sserr.CodeMissingRequiredClaim},
		{"blank sub", func() string {
			return h.idp.Mint(with(func(c jwt.MapClaims) { c["sub"] = "  " }))
		}, sserr.CodeMissingRequiredClaim},
		{"missing permissions", func() string {
			return h.idp.Mint(with(func(c jwt.MapClaims) { delete(c, "permissions") }))
		}, sserr.CodeMissingRequiredClaim},
		{"permissions as string", func() string {
			return h.idp.Mint(with(func(c jwt.MapClaims) { c["permissions"] = "read:projects" }))
		}, sserr.CodeMissingRequiredClaim},
		{"permissions with non-string", func() string {
			return h.idp.Mint(with(func(c jwt.MapClaims) { c["permissions"] = []any{"read:projects", 7} }))
		}, sserr.CodeMissingRequiredClaim},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.verifier.Verify(context.Background(), tt.token())
			testutil.AssertErrorCode(t, err, tt.code)
			assert.True(t, sserr.IsAuthentication(err))
		})
	}
}

func TestVerify_CheckOrder(t *testing.T) {
	t.Parallel()
	h := newVerifierHarness(t)
	now := h.clock.Now()

	tests := []struct {
		name   string
		mutate func(jwt.MapClaims)
		opts   []idp.MintOption
		code   sserr.Code
	}{
		{
			name:   "signature before expiry",
			mutate: func(c jwt.MapClaims) { c["exp"] = now.Add(-time.Hour).Unix() },
			opts:   []idp.MintOption{idp.WithForeignKey(idp.GenerateKey(t))},
			code:   sserr.CodeInvalidSignature,
		},
		{
			name: "expiry before audience",
			mutate: func(c jwt.MapClaims) {
				c["exp"] = now.Add(-time.Hour).Unix()
				c["aud"] = fixtures.OtherAudience
			},
			code: sserr.CodeTokenExpired,
		},
		{
			name: "audience before issuer",
			mutate: func(c jwt.MapClaims) {
				c["aud"] = fixtures.OtherAudience
				c["iss"] = "https://evil.example.test/"
			},
			code: sserr.CodeAudienceMismatch,
		},
		{
			name: "issuer before required claims",
			mutate: func(c jwt.MapClaims) {
				c["iss"] = "https://evil.example.test/"
				delete(c, "permissions")
			},
			code: sserr.CodeIssuerMismatch,
		},
		{
			name: "not yet valid before audience",
			mutate: func(c jwt.MapClaims) {
				c["nbf"] = now.Add(time.Hour).Unix()
				c["aud"] = fixtures.OtherAudience
			},
			code: sserr.CodeTokenNotYetValid,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := idp.Claims(now)
			tt.mutate(c)
			_, err := h.verifier.Verify(context.Background(), h.idp.Mint(c, tt.opts...))
			testutil.AssertErrorCode(t, err, tt.code)
		})
	}
}

func TestVerify_RejectsAlgorithmBeforeKeyLookup(t *testing.T) {
	t.Parallel()
	h := newVerifierHarness(t)
	keys := &countingKeys{next: h.keys}
	v, err := NewVerifier(keys, testVerifierConfig(), WithVerifierClock(h.clock))
	require.NoError(t, err)
	claims := idp.Claims(h.clock.Now())

	tests := []struct {
		name  string
		token string
	}{
		{"alg none", h.idp.ForgeNone(claims)},
		{"HS256 keyed with public modulus", h.idp.ForgeHS256(claims)},
		{"RS512 when RS256 is configured", h.idp.Mint(claims, idp.WithMethod(jwt.SigningMethodRS512))},
		{"PS256 when RS256 is configured", h.idp.Mint(claims, idp.WithMethod(jwt.SigningMethodPS256))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tt.token)
			testutil.AssertErrorCode(t, err, sserr.CodeUnsupportedAlgorithm)
		})
	}
	assert.Zero(t, keys.calls.Load(), "rejected algorithms must never reach the key source")
	assert.Equal(t, 1, h.idp.Fetches())
}

func TestVerify_ExpiryFollowsInjectedClock(t *testing.T) {
	t.Parallel()
	h := newVerifierHarness(t)
	token := h.idp.Mint(idp.Claims(h.clock.Now()))

	_, err := h.verifier.Verify(context.Background(), token)
	require.NoError(t, err)

	h.clock.Advance(time.Hour + testSkew + time.Second)
	_, err = h.verifier.Verify(context.Background(), token)
	testutil.AssertErrorCode(t, err, sserr.CodeTokenExpired)
}

func TestVerify_KeySourceUnavailable(t *testing.T) {
	t.Parallel()
	p := idp.New(t)
	p.SetFailing(true)
	clock := testutil.NewFakeClock(testEpoch)
	v, err := NewVerifier(newTestKeySource(t, p, clock), testVerifierConfig(), WithVerifierClock(clock))
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), p.Mint(idp.Claims(clock.Now())))
	testutil.AssertErrorCode(t, err, sserr.CodeKeySourceUnavailable)
	assert.True(t, sserr.IsRetryable(err))
}

func TestVerifyFor_ExplicitAudienceAndIssuer(t *testing.T) {
	t.Parallel()
	h := newVerifierHarness(t)
	claims := idp.Claims(h.clock.Now())
	claims["aud"] = fixtures.OtherAudience
	token := h.idp.Mint(claims)

	_, err := h.verifier.VerifyFor(context.Background(), token, fixtures.OtherAudience, fixtures.Issuer)
	assert.NoError(t, err)
	_, err = h.verifier.Verify(context.Background(), token)
	testutil.AssertErrorCode(t, err, sserr.CodeAudienceMismatch)
}

// ---------------------------------------------------------------------------
// Tracing
// ---------------------------------------------------------------------------

func TestVerify_RecordsSpanWithErrorCode(t *testing.T) {
	t.Parallel()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	h := newVerifierHarness(t, WithVerifierTracerProvider(tp))
	_, err := h.verifier.Verify(context.Background(), "opaque-token")
	require.Error(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "auth.Verify", spans[0].Name)

	var code string
	for _, attr := range spans[0].Attributes {
		if attr.Key == "auth.error_code" {
			code = attr.Value.AsString()
		}
	}
	assert.Equal(t, sserr.CodeMalformedToken.String(), code)
}
