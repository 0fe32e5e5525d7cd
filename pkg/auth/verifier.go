package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-authz/pkg/errors"
)

// maxTokenSize bounds the token text accepted for parsing.
const maxTokenSize = 8192

// VerifierConfig configures a Verifier.
type VerifierConfig struct {
	Audience  string
	Issuer    string
	Algorithm string
	ClockSkew time.Duration
}

// VerifierOption customizes a Verifier.
type VerifierOption func(*Verifier)

// WithVerifierClock sets the clock used for exp, iat and nbf checks.
func WithVerifierClock(c Clock) VerifierOption {
	return func(v *Verifier) { v.clock = c }
}

// WithVerifierLogger sets the logger.
func WithVerifierLogger(l *slog.Logger) VerifierOption {
	return func(v *Verifier) { v.logger = l }
}

// WithVerifierTracerProvider sets the tracer provider.
func WithVerifierTracerProvider(tp trace.TracerProvider) VerifierOption {
	return func(v *Verifier) { v.tracer = tp.Tracer(tracerName) }
}

// Verifier checks bearer tokens against the provider's signing keys.
//
// Checks run in a fixed order and the first failure is reported:
//
//  1. structure (three segments, decodable header)   CodeMalformedToken
//  2. header alg equals the configured algorithm     CodeUnsupportedAlgorithm
//  3. signing key for the header kid                 CodeUnknownSigningKey
//  4. signature                                      CodeInvalidSignature
//  5. exp, then iat/nbf, within the clock skew       CodeTokenExpired, CodeTokenNotYetValid
//  6. audience, then issuer                          CodeAudienceMismatch, CodeIssuerMismatch
//  7. non-empty sub, array-typed permissions         CodeMissingRequiredClaim
//
// No claim is read before the signature has been verified. Verifier is safe
// for concurrent use.
type Verifier struct {
	keys   KeyProvider
	cfg    VerifierConfig
	clock  Clock
	logger *slog.Logger
	tracer trace.Tracer
}

// NewVerifier returns a Verifier that resolves keys through keys.
func NewVerifier(keys KeyProvider, cfg VerifierConfig, opts ...VerifierOption) (*Verifier, error) {
	if keys == nil {
		return nil, sserr.New(sserr.CodeValidationRequired, "auth: verifier requires a key provider")
	}
	if !acceptedAlgorithms[cfg.Algorithm] {
		return nil, sserr.Newf(sserr.CodeValidation,
			"auth: algorithm %q is not an accepted asymmetric algorithm", cfg.Algorithm)
	}
	if cfg.ClockSkew < 0 || cfg.ClockSkew > MaxClockSkew {
		return nil, sserr.Newf(sserr.CodeValidationRange,
			"auth: clock skew %s must be between 0 and %s", cfg.ClockSkew, MaxClockSkew)
	}
	v := &Verifier{
		keys:   keys,
		cfg:    cfg,
		clock:  SystemClock,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify checks token against the configured audience and issuer.
func (v *Verifier) Verify(ctx context.Context, token string) (*ClaimSet, error) {
	return v.VerifyFor(ctx, token, v.cfg.Audience, v.cfg.Issuer)
}

// VerifyFor checks token against an explicit audience and issuer.
func (v *Verifier) VerifyFor(ctx context.Context, token, audience, issuer string) (*ClaimSet, error) {
	ctx, span := startSpan(ctx, v.tracer, "auth.Verify")
	defer span.End()

	claims, err := v.verify(ctx, token, audience, issuer)
	if err != nil {
		code := sserr.GetCode(err)
		span.SetAttributes(attribute.String("auth.error_code", code.String()))
		finishSpan(span, err)
		v.logger.DebugContext(ctx, "auth: token rejected", "code", code)
		return nil, err
	}
	span.SetAttributes(attribute.String("auth.subject", claims.Subject()))
	return claims, nil
}

func (v *Verifier) verify(ctx context.Context, token, audience, issuer string) (*ClaimSet, error) {
	if token == "" {
		return nil, sserr.New(sserr.CodeMalformedToken, "auth: token must not be empty")
	}
	if len(token) > maxTokenSize {
		return nil, sserr.New(sserr.CodeMalformedToken, "auth: token exceeds maximum size")
	}
	if strings.Count(token, ".") != 2 {
		return nil, sserr.New(sserr.CodeMalformedToken, "auth: token must have three segments")
	}

	// Header inspection only; the unverified claims are discarded.
	header, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if header == nil || errors.Is(err, jwt.ErrTokenMalformed) {
		return nil, sserr.Wrap(err, sserr.CodeMalformedToken, "auth: token is malformed")
	}
	alg, _ := header.Header["alg"].(string)
	if alg != v.cfg.Algorithm {
		return nil, sserr.Newf(sserr.CodeUnsupportedAlgorithm,
			"auth: signing algorithm %q is not accepted", truncate(alg, 16))
	}
	kid, _ := header.Header["kid"].(string)
	if kid == "" {
		return nil, sserr.New(sserr.CodeUnknownSigningKey, "auth: token header carries no key id")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{v.cfg.Algorithm}),
		jwt.WithAudience(audience),
		jwt.WithIssuer(issuer),
		jwt.WithLeeway(v.cfg.ClockSkew),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.clock.Now),
	)
	var claims accessClaims
	_, err = parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.keys.GetKey(ctx, kid)
	})
	if err != nil {
		return nil, classifyVerifyError(err)
	}
	return claims.claimSet(), nil
}

// classifyVerifyError maps parser errors to codes. The parser reports every
// failed registered-claim check at once, so precedence here follows the
// documented check order.
func classifyVerifyError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return sserr.Wrap(err, sserr.CodeInvalidSignature, "auth: token signature is invalid")
	case errors.Is(err, jwt.ErrTokenExpired):
		return sserr.Wrap(err, sserr.CodeTokenExpired, "auth: token has expired")
	case errors.Is(err, jwt.ErrTokenUsedBeforeIssued), errors.Is(err, jwt.ErrTokenNotValidYet):
		return sserr.Wrap(err, sserr.CodeTokenNotYetValid, "auth: token is not yet valid")
	case errors.Is(err, jwt.ErrTokenInvalidAudience), missingClaim(err, "aud"):
		return sserr.Wrap(err, sserr.CodeAudienceMismatch, "auth: token audience does not match")
	case errors.Is(err, jwt.ErrTokenInvalidIssuer), missingClaim(err, "iss"):
		return sserr.Wrap(err, sserr.CodeIssuerMismatch, "auth: token issuer does not match")
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return sserr.Wrap(err, sserr.CodeMissingRequiredClaim, "auth: token is missing a required claim")
	}
	// Key lookup and claim validation failures are already coded.
	if e, ok := sserr.AsError(err); ok {
		return e
	}
	if errors.Is(err, jwt.ErrTokenMalformed) {
		return sserr.Wrap(err, sserr.CodeMalformedToken, "auth: token is malformed")
	}
	return sserr.Wrap(err, sserr.CodeAuthentication, "auth: token validation failed")
}

// missingClaim reports whether the parser rejected the token because the
// named registered claim is absent. The parser only carries the claim name in
// the message text of ErrTokenRequiredClaimMissing.
func missingClaim(err error, name string) bool {
	return errors.Is(err, jwt.ErrTokenRequiredClaimMissing) &&
		strings.Contains(err.Error(), name+" claim is required")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
