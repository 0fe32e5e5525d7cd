package auth

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-authz/pkg/errors"
)

// TokenVerifier verifies a bearer token. *Verifier implements it.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*ClaimSet, error)
}

// IdentityResolver resolves verified claims to an identity. *Resolver
// implements it.
type IdentityResolver interface {
	Resolve(ctx context.Context, claims *ClaimSet) (*Identity, error)
}

// GatekeeperOption customizes a Gatekeeper.
type GatekeeperOption func(*Gatekeeper)

// WithGatekeeperLogger sets the logger.
func WithGatekeeperLogger(l *slog.Logger) GatekeeperOption {
	return func(g *Gatekeeper) { g.logger = l }
}

// WithGatekeeperTracerProvider sets the tracer provider.
func WithGatekeeperTracerProvider(tp trace.TracerProvider) GatekeeperOption {
	return func(g *Gatekeeper) { g.tracer = tp.Tracer(tracerName) }
}

// Gatekeeper runs the full pipeline for one request: verify the token,
// resolve the principal, then decide. Transport adapters call
// [Gatekeeper.AuthenticateAndAuthorize] once per request.
type Gatekeeper struct {
	verifier TokenVerifier
	resolver IdentityResolver
	engine   *Engine
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewGatekeeper wires the pipeline. A nil engine uses [DefaultRoleTable].
func NewGatekeeper(verifier TokenVerifier, resolver IdentityResolver, engine *Engine, opts ...GatekeeperOption) *Gatekeeper {
	if engine == nil {
		engine = NewEngine(nil)
	}
	g := &Gatekeeper{
		verifier: verifier,
		resolver: resolver,
		engine:   engine,
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AuthenticateAndAuthorize admits or rejects one request.
//
// A public requirement returns (nil, nil) without looking at token. For any
// other requirement an empty token is an Unauthenticated denial. Errors are
// always *errors.Error values from the authentication, authorization,
// provisioning or unavailable categories; anything else, panics included,
// is logged and reported as the generic authentication failure.
func (g *Gatekeeper) AuthenticateAndAuthorize(ctx context.Context, token string, req AccessRequirement) (identity *Identity, err error) {
	if req.IsPublic() {
		return nil, nil
	}

	ctx, span := startSpan(ctx, g.tracer, "auth.AuthenticateAndAuthorize")
	defer span.End()
	span.SetAttributes(attribute.String("auth.requirement", req.String()))

	defer func() {
		if r := recover(); r != nil {
			identity = nil
			err = g.generic(ctx, fmt.Errorf("panic: %v", r))
		}
		if err != nil {
			span.SetAttributes(attribute.String("auth.error_code", sserr.GetCode(err).String()))
			finishSpan(span, err)
		}
	}()

	identity, err = g.run(ctx, token, req)
	if err != nil {
		return nil, g.classify(ctx, err)
	}
	span.SetAttributes(attribute.String("auth.user_id", identity.UserID()))
	return identity, nil
}

func (g *Gatekeeper) run(ctx context.Context, token string, req AccessRequirement) (*Identity, error) {
	if token == "" {
		return nil, g.engine.Decide(req, nil).Err()
	}
	claims, err := g.verifier.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	identity, err := g.resolver.Resolve(ctx, claims)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return nil, sserr.New(sserr.CodeInternal, "auth: resolver returned no identity")
	}
	if decision := g.engine.Decide(req, identity); !decision.Allowed {
		g.logger.InfoContext(ctx, "auth: access denied",
			"user_id", identity.UserID(),
			"reason", decision.Reason,
			"requirement", req.String(),
		)
		return nil, decision.Err()
	}
	return identity, nil
}

// classify passes expected failures through and hides everything else
// behind the generic authentication failure.
func (g *Gatekeeper) classify(ctx context.Context, err error) error {
	if sserr.IsAuthentication(err) || sserr.IsAuthorization(err) ||
		sserr.IsProvisioning(err) || sserr.IsUnavailable(err) {
		return err
	}
	return g.generic(ctx, err)
}

func (g *Gatekeeper) generic(ctx context.Context, cause error) error {
	g.logger.ErrorContext(ctx, "auth: unexpected failure during authentication", "error", cause)
	return sserr.Wrap(cause, sserr.CodeAuthentication, "auth: authentication failed")
}
