package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-authz/internal/testutil"
	"github.com/StricklySoft/stricklysoft-authz/internal/testutil/fixtures"
	sserr "github.com/StricklySoft/stricklysoft-authz/pkg/errors"
)

func TestResolver_ProvisionedActiveUser(t *testing.T) {
	t.Parallel()
	store := newMemoryStore().withProvisionedUser(true, RoleWorker, RoleViewer, RoleWorker)
	r := NewResolver(store, nil)

	identity, err := r.Resolve(context.Background(), testClaims())
	require.NoError(t, err)

	assert.Equal(t, fixtures.Subject, identity.SubjectID())
	assert.Equal(t, fixtures.Email, identity.Email(), "the token email wins")
	assert.Equal(t, fixtures.UserID, identity.UserID())
	assert.Equal(t, fixtures.OrganizationID, identity.OrganizationID())
	assert.Equal(t, []Role{RoleViewer, RoleWorker}, identity.Roles())
	assert.True(t, identity.HasRole(RoleWorker))
	assert.False(t, identity.HasRole(RoleSystemAdmin))
	assert.Equal(t, []string{PermReadPhotos, PermReadProjects, PermWritePhotos}, identity.Permissions().Strings())
	assert.Equal(t, []string{PermReadPhotos, PermReadProjects}, identity.TokenPermissions())
}

func TestResolver_FallsBackToStoredEmail(t *testing.T) {
	t.Parallel()
	store := newMemoryStore().withProvisionedUser(true, RoleViewer)
	claims := testClaims()
	claims.email = ""

	identity, err := NewResolver(store, nil).Resolve(context.Background(), claims)
	require.NoError(t, err)
	assert.Equal(t, fixtures.StoredEmail, identity.Email())
}

func TestResolver_IsIdempotent(t *testing.T) {
	t.Parallel()
	store := newMemoryStore().withProvisionedUser(true, RoleSupervisor)
	r := NewResolver(store, nil)

	first, err := r.Resolve(context.Background(), testClaims())
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), testClaims())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.NotSame(t, first, second)
}

func TestResolver_RoleChangesApplyToNextResolve(t *testing.T) {
	t.Parallel()
	store := newMemoryStore().withProvisionedUser(true, RoleViewer)
	r := NewResolver(store, nil)

	before, err := r.Resolve(context.Background(), testClaims())
	require.NoError(t, err)
	store.setRoles(fixtures.UserID, RoleBranchAdmin)
	after, err := r.Resolve(context.Background(), testClaims())
	require.NoError(t, err)

	assert.Equal(t, []Role{RoleViewer}, before.Roles())
	assert.Equal(t, []Role{RoleBranchAdmin}, after.Roles())
	assert.True(t, after.Permissions().Has(PermWriteUsers))
}

func TestResolver_UnprovisionedSubject(t *testing.T) {
	t.Parallel()
	store := newMemoryStore().withProvisionedUser(true, RoleViewer)
	claims := testClaims()
	claims.subject = fixtures.UnknownSubject

	_, err := NewResolver(store, nil).Resolve(context.Background(), claims)
	testutil.RequireErrorCode(t, err, sserr.CodeUnprovisionedPrincipal)
	assert.True(t, sserr.IsProvisioning(err))
	assert.False(t, sserr.IsRetryable(err))
	assert.Len(t, store.users, 1, "resolution never provisions")
}

func TestResolver_DeactivatedUser(t *testing.T) {
	t.Parallel()
	store := newMemoryStore().withProvisionedUser(false, RoleSystemAdmin)

	_, err := NewResolver(store, nil).Resolve(context.Background(), testClaims())
	testutil.RequireErrorCode(t, err, sserr.CodePrincipalDeactivated)
	assert.Zero(t, store.roleRead, "roles are not read for deactivated users")
}

func TestResolver_StoreFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(*memoryStore)
		opts  []ResolverOption
	}{
		{
			name:  "find fails",
			setup: func(s *memoryStore) { s.findErr = errors.New("connection reset") },
		},
		{
			name:  "roles fail",
			setup: func(s *memoryStore) { s.rolesErr = errors.New("connection reset") },
		},
		{
			name:  "lookup exceeds timeout",
			setup: func(s *memoryStore) { s.delay = time.Second },
			opts:  []ResolverOption{WithLookupTimeout(20 * time.Millisecond)},
		},
		{
			name: "store reports coded unavailability",
			setup: func(s *memoryStore) {
				s.findErr = sserr.New(sserr.CodeIdentityStoreUnavailable, "pool exhausted")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store := newMemoryStore().withProvisionedUser(true, RoleViewer)
			tt.setup(store)

			_, err := NewResolver(store, nil, tt.opts...).Resolve(context.Background(), testClaims())
			testutil.RequireErrorCode(t, err, sserr.CodeIdentityStoreUnavailable)
			assert.True(t, sserr.IsRetryable(err))
		})
	}
}

func TestResolver_NilClaims(t *testing.T) {
	t.Parallel()
	_, err := NewResolver(newMemoryStore(), nil).Resolve(context.Background(), nil)
	testutil.AssertErrorCode(t, err, sserr.CodeInternal)
}

func TestIdentity_ReturnsCopies(t *testing.T) {
	t.Parallel()
	identity := identityWithRoles(RoleViewer)
	identity.tokenPermissions = []string{PermReadProjects}

	roles := identity.Roles()
	roles[0] = RoleSystemAdmin
	perms := identity.TokenPermissions()
	perms[0] = PermWriteUsers

	assert.Equal(t, []Role{RoleViewer}, identity.Roles())
	assert.Equal(t, []string{PermReadProjects}, identity.TokenPermissions())
}

func TestContextWithIdentity(t *testing.T) {
	t.Parallel()
	identity := identityWithRoles(RoleViewer)

	_, ok := IdentityFromContext(context.Background())
	assert.False(t, ok)

	ctx := ContextWithIdentity(context.Background(), identity)
	got, ok := IdentityFromContext(ctx)
	require.True(t, ok)
	assert.Same(t, identity, got)
	assert.Same(t, identity, MustIdentityFromContext(ctx))

	_, ok = IdentityFromContext(ContextWithIdentity(context.Background(), nil))
	assert.False(t, ok)

	assert.Panics(t, func() { MustIdentityFromContext(context.Background()) })
}
