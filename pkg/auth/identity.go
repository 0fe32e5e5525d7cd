package auth

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-authz/pkg/errors"
)

// UserRecord is the directory's view of a provisioned principal.
type UserRecord struct {
	ID             string
	ExternalID     string
	Email          string
	OrganizationID string
	Active         bool
}

// IdentityStore is the directory the resolver reads. Implementations own the
// schema; the resolver only reads.
type IdentityStore interface {
	// FindUserByExternalID returns the user whose external id is externalID.
	// found is false, with a nil error, when there is none.
	FindUserByExternalID(ctx context.Context, externalID string) (user UserRecord, found bool, err error)

	// RolesOf returns the roles assigned to userID.
	RolesOf(ctx context.Context, userID string) ([]Role, error)
}

// Identity is a resolved principal for one request. It is immutable and is
// never cached across requests, so role changes apply to the next request.
type Identity struct {
	subjectID        string
	email            string
	userID           string
	organizationID   string
	roles            []Role
	permissions      PermissionSet
	tokenPermissions []string
}

// SubjectID returns the identity provider's subject id.
func (i *Identity) SubjectID() string { return i.subjectID }

// Email returns the token email, or the directory email when the token has
// none.
func (i *Identity) Email() string { return i.email }

// UserID returns the directory user id.
func (i *Identity) UserID() string { return i.userID }

// OrganizationID returns the directory organization id, or "" when the user
// belongs to none.
func (i *Identity) OrganizationID() string { return i.organizationID }

// Roles returns a sorted copy of the stored roles.
func (i *Identity) Roles() []Role { return slices.Clone(i.roles) }

// HasRole reports whether the identity holds role.
func (i *Identity) HasRole(role Role) bool {
	_, ok := slices.BinarySearch(i.roles, role)
	return ok
}

// HasAnyRole reports whether the identity holds at least one of roles.
func (i *Identity) HasAnyRole(roles []Role) bool {
	return slices.ContainsFunc(roles, i.HasRole)
}

// Permissions returns the permissions derived from the stored roles. These,
// not the token's permissions claim, are what authorization checks.
func (i *Identity) Permissions() PermissionSet { return i.permissions }

// TokenPermissions returns the token's own permissions claim. It is kept
// for display and diagnostics only.
func (i *Identity) TokenPermissions() []string { return slices.Clone(i.tokenPermissions) }

// ResolverOption customizes a Resolver.
type ResolverOption func(*Resolver)

// WithLookupTimeout bounds each directory lookup. Default 3s.
func WithLookupTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) { r.timeout = d }
}

// WithResolverLogger sets the logger.
func WithResolverLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = l }
}

// WithResolverTracerProvider sets the tracer provider.
func WithResolverTracerProvider(tp trace.TracerProvider) ResolverOption {
	return func(r *Resolver) { r.tracer = tp.Tracer(tracerName) }
}

// Resolver turns verified claims into an Identity using the directory.
// Unknown subjects are rejected; accounts are never created here.
type Resolver struct {
	store   IdentityStore
	roles   *RoleTable
	timeout time.Duration
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewResolver returns a Resolver reading store and deriving permissions from
// roles. A nil roles uses [DefaultRoleTable].
func NewResolver(store IdentityStore, roles *RoleTable, opts ...ResolverOption) *Resolver {
	if roles == nil {
		roles = DefaultRoleTable()
	}
	r := &Resolver{
		store:   store,
		roles:   roles,
		timeout: 3 * time.Second,
		logger:  slog.Default(),
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve looks up the subject of claims. It fails with
// CodeUnprovisionedPrincipal when the directory has no such user, with
// CodePrincipalDeactivated when the user is inactive, and with
// CodeIdentityStoreUnavailable when the directory fails or times out.
func (r *Resolver) Resolve(ctx context.Context, claims *ClaimSet) (*Identity, error) {
	ctx, span := startSpan(ctx, r.tracer, "auth.Resolve")
	defer span.End()

	identity, err := r.resolve(ctx, claims)
	if err != nil {
		finishSpan(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("auth.user_id", identity.userID),
		attribute.Int("auth.role_count", len(identity.roles)),
	)
	return identity, nil
}

func (r *Resolver) resolve(ctx context.Context, claims *ClaimSet) (*Identity, error) {
	if claims == nil {
		return nil, sserr.New(sserr.CodeInternal, "auth: resolve requires verified claims")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	user, found, err := r.store.FindUserByExternalID(ctx, claims.Subject())
	if err != nil {
		return nil, r.storeUnavailable(ctx, err, "find user")
	}
	if !found {
		r.logger.InfoContext(ctx, "auth: token subject is not provisioned")
		return nil, sserr.New(sserr.CodeUnprovisionedPrincipal,
			"auth: principal is not provisioned; contact an administrator")
	}
	if !user.Active {
		r.logger.InfoContext(ctx, "auth: deactivated user presented a valid token", "user_id", user.ID)
		return nil, sserr.New(sserr.CodePrincipalDeactivated, "auth: principal has been deactivated")
	}

	stored, err := r.store.RolesOf(ctx, user.ID)
	if err != nil {
		return nil, r.storeUnavailable(ctx, err, "load roles")
	}
	roles := slices.Clone(stored)
	slices.Sort(roles)
	roles = slices.Compact(roles)

	email := claims.Email()
	if email == "" {
		email = user.Email
	}
	return &Identity{
		subjectID:        claims.Subject(),
		email:            email,
		userID:           user.ID,
		organizationID:   user.OrganizationID,
		roles:            roles,
		permissions:      r.roles.EffectivePermissions(roles),
		tokenPermissions: claims.Permissions(),
	}, nil
}

func (r *Resolver) storeUnavailable(ctx context.Context, err error, op string) error {
	r.logger.WarnContext(ctx, "auth: identity store lookup failed", "op", op, "error", err)
	if sserr.HasCode(err, sserr.CodeIdentityStoreUnavailable) {
		return err
	}
	return sserr.Wrap(err, sserr.CodeIdentityStoreUnavailable, "auth: identity store unavailable")
}
