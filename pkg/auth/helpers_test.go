package auth

import (
	"context"
	"crypto"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-authz/internal/testutil"
	"github.com/StricklySoft/stricklysoft-authz/internal/testutil/fixtures"
	"github.com/StricklySoft/stricklysoft-authz/internal/testutil/idp"
)

// testEpoch is the fake clock's starting point in every test.
var testEpoch = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

const (
	testCooldown = time.Minute
	testMaxAge   = 10 * time.Minute
	testSkew     = 30 * time.Second
)

// ---------------------------------------------------------------------------
// Key source and verifier fixtures
// ---------------------------------------------------------------------------

func newTestKeySource(t *testing.T, p *idp.Provider, clock Clock, opts ...KeySourceOption) *KeySource {
	t.Helper()
	opts = append([]KeySourceOption{WithHTTPClient(p.Client()), WithClock(clock)}, opts...)
	ks, err := NewKeySource(KeySourceConfig{
		URL:          p.JWKSURL(),
		Cooldown:     testCooldown,
		MaxAge:       testMaxAge,
		FetchTimeout: 2 * time.Second,
	}, opts...)
	require.NoError(t, err)
	return ks
}

func testVerifierConfig() VerifierConfig {
	return VerifierConfig{
		Audience:  fixtures.Audience,
		Issuer:    fixtures.Issuer,
		Algorithm: "RS256",
		ClockSkew: testSkew,
	}
}

// verifierHarness bundles a provider, a warmed key source and a verifier
// sharing one fake clock.
type verifierHarness struct {
	idp      *idp.Provider
	clock    *testutil.FakeClock
	keys     *KeySource
	verifier *Verifier
}

func newVerifierHarness(t *testing.T, opts ...VerifierOption) *verifierHarness {
	t.Helper()
	p := idp.New(t)
	clock := testutil.NewFakeClock(testEpoch)
	ks := newTestKeySource(t, p, clock)
	require.NoError(t, ks.Refresh(context.Background()))

	opts = append([]VerifierOption{WithVerifierClock(clock)}, opts...)
	v, err := NewVerifier(ks, testVerifierConfig(), opts...)
	require.NoError(t, err)
	return &verifierHarness{idp: p, clock: clock, keys: ks, verifier: v}
}

// countingKeys records every key lookup.
type countingKeys struct {
	next  KeyProvider
	calls atomic.Int64
}

func (c *countingKeys) GetKey(ctx context.Context, kid string) (crypto.PublicKey, error) {
	c.calls.Add(1)
	return c.next.GetKey(ctx, kid)
}

// ---------------------------------------------------------------------------
// Identity store fake
// ---------------------------------------------------------------------------

// memoryStore is an in-memory IdentityStore keyed by external id.
type memoryStore struct {
	mu       sync.Mutex
	users    map[string]UserRecord
	roles    map[string][]Role
	findErr  error
	rolesErr error
	delay    time.Duration
	finds    int
	roleRead int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{users: map[string]UserRecord{}, roles: map[string][]Role{}}
}

// withProvisionedUser adds fixtures.Subject with the given roles.
func (s *memoryStore) withProvisionedUser(active bool, roles ...Role) *memoryStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[fixtures.Subject] = UserRecord{
		ID:             fixtures.UserID,
		ExternalID:     fixtures.Subject,
		Email:          fixtures.StoredEmail,
		OrganizationID: fixtures.OrganizationID,
		Active:         active,
	}
	s.roles[fixtures.UserID] = roles
	return s
}

func (s *memoryStore) setRoles(userID string, roles ...Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[userID] = roles
}

func (s *memoryStore) FindUserByExternalID(ctx context.Context, externalID string) (UserRecord, bool, error) {
	s.mu.Lock()
	s.finds++
	delay, findErr := s.delay, s.findErr
	user, ok := s.users[externalID]
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return UserRecord{}, false, ctx.Err()
		}
	}
	if findErr != nil {
		return UserRecord{}, false, findErr
	}
	return user, ok, nil
}

func (s *memoryStore) RolesOf(_ context.Context, userID string) ([]Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roleRead++
	if s.rolesErr != nil {
		return nil, s.rolesErr
	}
	return append([]Role(nil), s.roles[userID]...), nil
}

// ---------------------------------------------------------------------------
// Identities
// ---------------------------------------------------------------------------

// identityWithRoles builds an identity the way Resolver would, using the
// default role table.
func identityWithRoles(roles ...Role) *Identity {
	sorted := slices.Clone(roles)
	slices.Sort(sorted)
	return &Identity{
		subjectID:      fixtures.Subject,
		email:          fixtures.Email,
		userID:         fixtures.UserID,
		organizationID: fixtures.OrganizationID,
		roles:          sorted,
		permissions:    DefaultRoleTable().EffectivePermissions(sorted),
	}
}

// ---------------------------------------------------------------------------
// Pipeline stubs
// ---------------------------------------------------------------------------

func testClaims() *ClaimSet {
	return &ClaimSet{
		subject:     fixtures.Subject,
		email:       fixtures.Email,
		issuer:      fixtures.Issuer,
		audience:    []string{fixtures.Audience},
		permissions: []string{PermReadPhotos, PermReadProjects},
		issuedAt:    testEpoch,
		expiresAt:   testEpoch.Add(time.Hour),
	}
}

type stubVerifier struct {
	claims *ClaimSet
	err    error
	panic  any
	calls  atomic.Int64
	tokens chan string
}

func (s *stubVerifier) Verify(_ context.Context, token string) (*ClaimSet, error) {
	s.calls.Add(1)
	if s.tokens != nil {
		s.tokens <- token
	}
	if s.panic != nil {
		panic(s.panic)
	}
	return s.claims, s.err
}

type stubResolver struct {
	identity *Identity
	err      error
}

func (s *stubResolver) Resolve(context.Context, *ClaimSet) (*Identity, error) {
	return s.identity, s.err
}

// newStubGatekeeper admits tokens as the given identity.
func newStubGatekeeper(identity *Identity) (*Gatekeeper, *stubVerifier) {
	v := &stubVerifier{claims: testClaims()}
	return NewGatekeeper(v, &stubResolver{identity: identity}, NewEngine(nil)), v
}
