package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-authz/internal/testutil"
	sserr "github.com/StricklySoft/stricklysoft-authz/pkg/errors"
)

func TestEngine_Decide(t *testing.T) {
	t.Parallel()
	engine := NewEngine(nil)

	tests := []struct {
		name     string
		req      AccessRequirement
		identity *Identity
		want     Decision
	}{
		{
			name: "public allows anonymous",
			req:  Public(),
			want: Allow(),
		},
		{
			name:     "public ignores listed roles",
			req:      Public().WithRoles(RoleSystemAdmin),
			identity: identityWithRoles(RoleViewer),
			want:     Allow(),
		},
		{
			name: "anonymous on protected",
			req:  Authenticated(),
			want: Decision{Reason: ReasonUnauthenticated},
		},
		{
			name:     "authenticated with no roles",
			req:      Authenticated(),
			identity: identityWithRoles(),
			want:     Allow(),
		},
		{
			name:     "any one role suffices",
			req:      RequireRoles(RoleSystemAdmin, RoleBranchAdmin),
			identity: identityWithRoles(RoleBranchAdmin),
			want:     Allow(),
		},
		{
			name:     "no matching role",
			req:      RequireRoles(RoleSystemAdmin, RoleBranchAdmin),
			identity: identityWithRoles(RoleSupervisor, RoleWorker),
			want: Decision{
				Reason:        ReasonInsufficientRole,
				RequiredRoles: []Role{RoleBranchAdmin, RoleSystemAdmin},
			},
		},
		{
			name:     "every permission held",
			req:      RequirePermissions(PermReadProjects, PermWriteProjects),
			identity: identityWithRoles(RoleSupervisor),
			want:     Allow(),
		},
		{
			name:     "permissions are all-of",
			req:      RequirePermissions(PermReadPhotos, PermWriteUsers, PermReadUsers),
			identity: identityWithRoles(RoleWorker),
			want: Decision{
				Reason:             ReasonInsufficientPermission,
				MissingPermissions: []string{PermReadUsers, PermWriteUsers},
			},
		},
		{
			name:     "permissions combine across roles",
			req:      RequirePermissions(PermReadProjects, PermWritePhotos),
			identity: identityWithRoles(RoleViewer, RoleWorker),
			want:     Allow(),
		},
		{
			name:     "wildcard role satisfies any permission",
			req:      RequirePermissions("delete:everything", PermWriteUsers),
			identity: identityWithRoles(RoleSystemAdmin),
			want:     Allow(),
		},
		{
			name:     "role checked before permissions",
			req:      RequireRoles(RoleBranchAdmin).WithPermissions(PermWriteUsers),
			identity: identityWithRoles(RoleWorker),
			want: Decision{
				Reason:        ReasonInsufficientRole,
				RequiredRoles: []Role{RoleBranchAdmin},
			},
		},
		{
			name:     "role and permission both required",
			req:      RequireRoles(RoleSupervisor).WithPermissions(PermWriteUsers),
			identity: identityWithRoles(RoleSupervisor),
			want: Decision{
				Reason:             ReasonInsufficientPermission,
				MissingPermissions: []string{PermWriteUsers},
			},
		},
		{
			name:     "unknown stored role grants nothing",
			req:      RequirePermissions(PermReadProjects),
			identity: identityWithRoles("auditor"),
			want: Decision{
				Reason:             ReasonInsufficientPermission,
				MissingPermissions: []string{PermReadProjects},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, engine.Decide(tt.req, tt.identity))
		})
	}
}

func TestEngine_DecideIgnoresTokenPermissions(t *testing.T) {
	t.Parallel()
	identity := identityWithRoles(RoleViewer)
	identity.tokenPermissions = []string{PermWriteUsers}

	d := NewEngine(nil).Decide(RequirePermissions(PermWriteUsers), identity)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonInsufficientPermission, d.Reason)
}

func TestEngine_CustomRoleTable(t *testing.T) {
	t.Parallel()
	table, err := NewRoleTable(map[Role][]string{
		"auditor": {"read:audit"},
		"viewer":  {"read:projects"},
	}, ForbidUniversalAccess())
	require.NoError(t, err)
	engine := NewEngine(table)

	identity := identityWithRoles("auditor")
	assert.True(t, engine.Decide(RequirePermissions("read:audit"), identity).Allowed)
	assert.Same(t, table, engine.RoleTable())
}

func TestDecision_Err(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Allow().Err())

	err := Decision{Reason: ReasonUnauthenticated}.Err()
	testutil.AssertErrorCode(t, err, sserr.CodeUnauthenticated)
	assert.True(t, sserr.IsAuthentication(err))

	err = Decision{Reason: ReasonInsufficientRole, RequiredRoles: []Role{RoleSystemAdmin}}.Err()
	testutil.AssertErrorCode(t, err, sserr.CodeInsufficientRole)
	e, _ := sserr.AsError(err)
	assert.Equal(t, []Role{RoleSystemAdmin}, e.Details["required_roles"])
	assert.Equal(t, 403, e.HTTPStatus())

	err = Decision{Reason: ReasonInsufficientPermission, MissingPermissions: []string{PermWriteUsers}}.Err()
	testutil.AssertErrorCode(t, err, sserr.CodeInsufficientPermission)
	e, _ = sserr.AsError(err)
	assert.Equal(t, []string{PermWriteUsers}, e.Details["missing_permissions"])
}
