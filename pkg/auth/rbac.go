package auth

import (
	"maps"
	"slices"

	sserr "github.com/StricklySoft/stricklysoft-authz/pkg/errors"
)

// Role is a coarse-grained tag stored on a user in the directory.
type Role string

// Roles known to the default role table.
const (
	RoleSystemAdmin Role = "system_admin"
	RoleBranchAdmin Role = "branch_admin"
	RoleSupervisor  Role = "supervisor"
	RoleWorker      Role = "worker"
	RoleViewer      Role = "viewer"
)

// WildcardPermission in a role's permission list grants every permission.
const WildcardPermission = "*"

// Permissions used by the default role table.
const (
	PermReadProjects      = "read:projects"
	PermWriteProjects     = "write:projects"
	PermReadPhotos        = "read:photos"
	PermWritePhotos       = "write:photos"
	PermReadUsers         = "read:users"
	PermWriteUsers        = "write:users"
	PermReadOrganizations = "read:organizations"
)

// PermissionSet is an immutable set of permission strings, or the universal
// set.
type PermissionSet struct {
	universal bool
	perms     map[string]struct{}
}

// NewPermissionSet builds a set. Including [WildcardPermission] makes it
// universal.
func NewPermissionSet(perms ...string) PermissionSet {
	s := PermissionSet{perms: make(map[string]struct{}, len(perms))}
	for _, p := range perms {
		if p == WildcardPermission {
			s.universal = true
			continue
		}
		s.perms[p] = struct{}{}
	}
	return s
}

// IsUniversal reports whether the set grants every permission.
func (s PermissionSet) IsUniversal() bool { return s.universal }

// Has reports whether perm is granted.
func (s PermissionSet) Has(perm string) bool {
	if s.universal {
		return true
	}
	_, ok := s.perms[perm]
	return ok
}

// Missing returns the members of required the set does not grant, in the
// order given.
func (s PermissionSet) Missing(required []string) []string {
	if s.universal {
		return nil
	}
	var missing []string
	for _, p := range required {
		if !s.Has(p) {
			missing = append(missing, p)
		}
	}
	return missing
}

// Strings returns the sorted members; a universal set returns ["*"].
func (s PermissionSet) Strings() []string {
	if s.universal {
		return []string{WildcardPermission}
	}
	return slices.Sorted(maps.Keys(s.perms))
}

func (s PermissionSet) union(o PermissionSet) PermissionSet {
	if s.universal || o.universal {
		return PermissionSet{universal: true, perms: map[string]struct{}{}}
	}
	out := PermissionSet{perms: make(map[string]struct{}, len(s.perms)+len(o.perms))}
	maps.Copy(out.perms, s.perms)
	maps.Copy(out.perms, o.perms)
	return out
}

// RoleTable is the fixed role-to-permission mapping. It is read-only after
// construction and safe for concurrent use.
type RoleTable struct {
	roles map[Role]PermissionSet
}

type roleTableOptions struct {
	forbidUniversal bool
}

// RoleTableOption customizes NewRoleTable.
type RoleTableOption func(*roleTableOptions)

// ForbidUniversalAccess requires that no role maps to the wildcard.
func ForbidUniversalAccess() RoleTableOption {
	return func(o *roleTableOptions) { o.forbidUniversal = true }
}

// NewRoleTable validates and freezes a role mapping. Exactly one role must
// map to [WildcardPermission], or none when [ForbidUniversalAccess] is given.
// Role names and permission strings must be non-empty.
func NewRoleTable(mapping map[Role][]string, opts ...RoleTableOption) (*RoleTable, error) {
	var o roleTableOptions
	for _, opt := range opts {
		opt(&o)
	}

	t := &RoleTable{roles: make(map[Role]PermissionSet, len(mapping))}
	var universal []Role
	for role, perms := range mapping {
		if role == "" {
			return nil, sserr.New(sserr.CodeValidation, "auth: role name must not be empty")
		}
		if slices.Contains(perms, "") {
			return nil, sserr.Newf(sserr.CodeValidation, "auth: role %q has an empty permission", role)
		}
		set := NewPermissionSet(perms...)
		if set.universal {
			universal = append(universal, role)
		}
		t.roles[role] = set
	}

	switch {
	case o.forbidUniversal && len(universal) > 0:
		return nil, sserr.Newf(sserr.CodeValidation,
			"auth: universal access is forbidden but roles %v map to %q", universal, WildcardPermission)
	case !o.forbidUniversal && len(universal) != 1:
		return nil, sserr.Newf(sserr.CodeValidation,
			"auth: exactly one role must map to %q, found %d", WildcardPermission, len(universal))
	}
	return t, nil
}

// DefaultRoleTable returns the standard mapping: system_admin holds every
// permission; branch_admin manages projects, photos and users and reads
// organizations; supervisor manages projects and photos; worker manages
// photos; viewer reads projects and photos.
func DefaultRoleTable() *RoleTable {
	t, err := NewRoleTable(map[Role][]string{
		RoleSystemAdmin: {WildcardPermission},
		RoleBranchAdmin: {
			PermReadProjects, PermWriteProjects,
			PermReadPhotos, PermWritePhotos,
			PermReadUsers, PermWriteUsers,
			PermReadOrganizations,
		},
		RoleSupervisor: {PermReadProjects, PermWriteProjects, PermReadPhotos, PermWritePhotos},
		RoleWorker:     {PermReadPhotos, PermWritePhotos},
		RoleViewer:     {PermReadPhotos, PermReadProjects},
	})
	if err != nil {
		panic(err)
	}
	return t
}

// PermissionsOf returns the permissions of one role. An unknown role has
// none.
func (t *RoleTable) PermissionsOf(role Role) PermissionSet {
	if set, ok := t.roles[role]; ok {
		return set
	}
	return NewPermissionSet()
}

// EffectivePermissions returns the union of the roles' permissions. It stops
// at the first role granting universal access.
func (t *RoleTable) EffectivePermissions(roles []Role) PermissionSet {
	out := NewPermissionSet()
	for _, r := range roles {
		set := t.PermissionsOf(r)
		if set.universal {
			return set
		}
		out = out.union(set)
	}
	return out
}

// Roles returns the roles in the table, sorted.
func (t *RoleTable) Roles() []Role {
	return slices.Sorted(maps.Keys(t.roles))
}

// Has reports whether role is defined in the table.
func (t *RoleTable) Has(role Role) bool {
	_, ok := t.roles[role]
	return ok
}
