package auth

import (
	"fmt"
	"slices"
	"strings"
)

// AccessRequirement is what an operation demands of its caller. It is built
// once, when the operation is registered, and never changes.
//
// Roles use any-of semantics and permissions use all-of semantics; when both
// are set both must hold. A public requirement allows every caller,
// regardless of the roles or permissions it also lists.
type AccessRequirement struct {
	public      bool
	roles       []Role
	permissions []string
}

// Public allows any caller, with or without a token.
func Public() AccessRequirement {
	return AccessRequirement{public: true}
}

// Authenticated requires a verified, provisioned and active principal and
// nothing else.
func Authenticated() AccessRequirement {
	return AccessRequirement{}
}

// RequireRoles requires at least one of roles.
func RequireRoles(roles ...Role) AccessRequirement {
	return Authenticated().WithRoles(roles...)
}

// RequirePermissions requires every one of perms.
func RequirePermissions(perms ...string) AccessRequirement {
	return Authenticated().WithPermissions(perms...)
}

// WithRoles returns a copy of r that also accepts roles.
func (r AccessRequirement) WithRoles(roles ...Role) AccessRequirement {
	merged := append(slices.Clone(r.roles), roles...)
	slices.Sort(merged)
	r.roles = slices.Compact(merged)
	return r
}

// WithPermissions returns a copy of r that also requires perms.
func (r AccessRequirement) WithPermissions(perms ...string) AccessRequirement {
	merged := append(slices.Clone(r.permissions), perms...)
	slices.Sort(merged)
	r.permissions = slices.Compact(merged)
	return r
}

// IsPublic reports whether the requirement allows anonymous callers.
func (r AccessRequirement) IsPublic() bool { return r.public }

// Roles returns a copy of the accepted roles.
func (r AccessRequirement) Roles() []Role { return slices.Clone(r.roles) }

// Permissions returns a copy of the required permissions.
func (r AccessRequirement) Permissions() []string { return slices.Clone(r.permissions) }

// String describes the requirement for logs.
func (r AccessRequirement) String() string {
	if r.public {
		return "public"
	}
	var b strings.Builder
	b.WriteString("authenticated")
	if len(r.roles) > 0 {
		fmt.Fprintf(&b, " roles=any%v", r.roles)
	}
	if len(r.permissions) > 0 {
		fmt.Fprintf(&b, " permissions=all%v", r.permissions)
	}
	return b.String()
}
