package auth

import (
	"slices"

	sserr "github.com/StricklySoft/stricklysoft-authz/pkg/errors"
)

// DenyReason says why a Decision denied access.
type DenyReason string

const (
	ReasonNone                   DenyReason = ""
	ReasonUnauthenticated        DenyReason = "unauthenticated"
	ReasonInsufficientRole       DenyReason = "insufficient_role"
	ReasonInsufficientPermission DenyReason = "insufficient_permission"
)

// Decision is the outcome of evaluating an AccessRequirement.
type Decision struct {
	Allowed bool
	Reason  DenyReason

	// RequiredRoles is set when Reason is ReasonInsufficientRole.
	RequiredRoles []Role

	// MissingPermissions is set when Reason is ReasonInsufficientPermission.
	MissingPermissions []string
}

// Allow is the allowing Decision.
func Allow() Decision { return Decision{Allowed: true} }

// Err converts a deny into the error reported to the caller, or nil for an
// allow.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	switch d.Reason {
	case ReasonUnauthenticated:
		return sserr.New(sserr.CodeUnauthenticated, "auth: authentication required")
	case ReasonInsufficientRole:
		return sserr.New(sserr.CodeInsufficientRole, "auth: insufficient role").
			WithDetail("required_roles", d.RequiredRoles)
	case ReasonInsufficientPermission:
		return sserr.New(sserr.CodeInsufficientPermission, "auth: insufficient permissions").
			WithDetail("missing_permissions", d.MissingPermissions)
	default:
		return sserr.New(sserr.CodeAuthorization, "auth: access denied")
	}
}

// Engine evaluates access requirements against resolved identities. It is
// pure: no I/O, no clock and no shared mutable state.
type Engine struct {
	roles *RoleTable
}

// NewEngine returns an Engine backed by roles. A nil roles uses
// [DefaultRoleTable].
func NewEngine(roles *RoleTable) *Engine {
	if roles == nil {
		roles = DefaultRoleTable()
	}
	return &Engine{roles: roles}
}

// RoleTable returns the engine's role table.
func (e *Engine) RoleTable() *RoleTable { return e.roles }

// Decide evaluates req for identity, which is nil for an anonymous caller.
//
// Public requirements allow everyone. Otherwise an identity is required,
// then any one of the listed roles, then every listed permission, where
// permissions come from the identity's stored roles and a wildcard role
// satisfies all of them.
func (e *Engine) Decide(req AccessRequirement, identity *Identity) Decision {
	if req.public {
		return Allow()
	}
	if identity == nil {
		return Decision{Reason: ReasonUnauthenticated}
	}
	if len(req.roles) > 0 && !identity.HasAnyRole(req.roles) {
		return Decision{Reason: ReasonInsufficientRole, RequiredRoles: slices.Clone(req.roles)}
	}
	if len(req.permissions) > 0 {
		effective := e.roles.EffectivePermissions(identity.roles)
		if missing := effective.Missing(req.permissions); len(missing) > 0 {
			return Decision{Reason: ReasonInsufficientPermission, MissingPermissions: missing}
		}
	}
	return Allow()
}
