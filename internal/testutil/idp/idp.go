// Package idp is an in-process identity provider for tests. It publishes a
// JWKS document over httptest, counts fetches, can be switched to fail or
// to hold fetches open, rotates keys, and mints signed tokens as well as the
// usual forgeries (alg "none", HS256 signed with public material, foreign
// keys).
package idp

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"maps"
	"math/big"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-authz/internal/testutil/fixtures"
)

// JWKSPath is where the provider serves its key set.
const JWKSPath = "/.well-known/jwks.json"

// Provider is a fake identity provider. It is safe for concurrent use.
type Provider struct {
	t      testing.TB
	server *httptest.Server

	fetches atomic.Int64
	failing atomic.Bool

	mu      sync.Mutex
	keys    map[string]*rsa.PrivateKey
	current string
	hold    chan struct{}
}

// New starts a provider publishing one key, fixtures.KeyID. The server is
// closed when the test ends.
func New(t testing.TB) *Provider {
	t.Helper()
	p := &Provider{
		t:       t,
		keys:    map[string]*rsa.PrivateKey{fixtures.KeyID: GenerateKey(t)},
		current: fixtures.KeyID,
	}
	p.server = httptest.NewServer(http.HandlerFunc(p.serveJWKS))
	t.Cleanup(p.server.Close)
	return p
}

// GenerateKey returns a fresh 2048-bit RSA key.
func GenerateKey(t testing.TB) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "generate RSA key")
	return key
}

// JWKSURL returns the key set URL.
func (p *Provider) JWKSURL() string { return p.server.URL + JWKSPath }

// Client returns an HTTP client for the provider's server.
func (p *Provider) Client() *http.Client { return p.server.Client() }

// Fetches returns the number of key set requests served, failed ones
// included.
func (p *Provider) Fetches() int { return int(p.fetches.Load()) }

// SetFailing makes subsequent key set requests answer 503 when failing is
// true.
func (p *Provider) SetFailing(failing bool) { p.failing.Store(failing) }

// Hold makes key set requests block until the returned release func is
// called. Release is idempotent.
func (p *Provider) Hold() (release func()) {
	ch := make(chan struct{})
	p.mu.Lock()
	p.hold = ch
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			if p.hold == ch {
				p.hold = nil
			}
			p.mu.Unlock()
			close(ch)
		})
	}
}

// Rotate publishes a new key under kid and signs subsequent tokens with it.
// Earlier keys stay published until Retire.
func (p *Provider) Rotate(kid string) {
	key := GenerateKey(p.t)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys[kid] = key
	p.current = kid
}

// Retire removes kid from the published key set.
func (p *Provider) Retire(kid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.keys, kid)
}

// PublishedKeyIDs returns the published key ids, sorted.
func (p *Provider) PublishedKeyIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Sorted(maps.Keys(p.keys))
}

func (p *Provider) serveJWKS(w http.ResponseWriter, r *http.Request) {
	p.fetches.Add(1)

	p.mu.Lock()
	hold := p.hold
	p.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
	}

	if r.URL.Path != JWKSPath {
		http.NotFound(w, r)
		return
	}
	if p.failing.Load() {
		http.Error(w, "provider unavailable", http.StatusServiceUnavailable)
		return
	}

	p.mu.Lock()
	doc := jwks{Keys: make([]jwk, 0, len(p.keys))}
	for kid, key := range p.keys {
		doc.Keys = append(doc.Keys, publicJWK(kid, &key.PublicKey))
	}
	p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func publicJWK(kid string, pub *rsa.PublicKey) jwk {
	return jwk{
		Kty: "RSA",
		Kid: kid,
		Use: "sig",
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

// Claims returns a valid claim set for fixtures.Subject issued at now and
// expiring an hour later. Callers edit the map to build invalid tokens.
func Claims(now time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"iss":         fixtures.Issuer,
		"aud":         []string{fixtures.Audience},
		"sub":         fixtures.Subject,
		"email":       fixtures.Email,
		"permissions": []string{"read:projects", "read:photos"},
		"iat":         now.Unix(),
		"exp":         now.Add(time.Hour).Unix(),
	}
}

// MintOption customizes a minted token.
type MintOption func(*mintOptions)

type mintOptions struct {
	kid        string
	omitKID    bool
	foreignKey *rsa.PrivateKey
	method     jwt.SigningMethod
}

// WithKeyID sets the kid header. When kid is not published the token is
// signed with an unpublished key.
func WithKeyID(kid string) MintOption {
	return func(o *mintOptions) { o.kid = kid }
}

// WithoutKeyID omits the kid header.
func WithoutKeyID() MintOption {
	return func(o *mintOptions) { o.omitKID = true }
}

// WithForeignKey signs with key while keeping the kid header, producing a
// token whose signature does not verify.
func WithForeignKey(key *rsa.PrivateKey) MintOption {
	return func(o *mintOptions) { o.foreignKey = key }
}

// WithMethod signs with another RSA method, such as jwt.SigningMethodRS512
// or jwt.SigningMethodPS256.
func WithMethod(m jwt.SigningMethod) MintOption {
	return func(o *mintOptions) { o.method = m }
}

// Mint signs claims with the current key.
func (p *Provider) Mint(claims jwt.MapClaims, opts ...MintOption) string {
	p.t.Helper()

	p.mu.Lock()
	o := mintOptions{kid: p.current, method: jwt.SigningMethodRS256}
	for _, opt := range opts {
		opt(&o)
	}
	key, ok := p.keys[o.kid]
	p.mu.Unlock()

	switch {
	case o.foreignKey != nil:
		key = o.foreignKey
	case !ok:
		key = GenerateKey(p.t)
	}

	token := jwt.NewWithClaims(o.method, claims)
	if !o.omitKID {
		token.Header["kid"] = o.kid
	}
	signed, err := token.SignedString(key)
	require.NoError(p.t, err, "sign token")
	return signed
}

// ForgeNone returns an unsigned token with alg "none" and the current kid.
func (p *Provider) ForgeNone(claims jwt.MapClaims) string {
	p.t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	token.Header["kid"] = p.currentKID()
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(p.t, err, "forge alg none token")
	return signed
}

// ForgeHS256 returns a token HMAC-signed with the current public key's
// modulus as the secret, the classic algorithm-confusion forgery.
func (p *Provider) ForgeHS256(claims jwt.MapClaims) string {
	p.t.Helper()
	p.mu.Lock()
	kid := p.current
	secret := p.keys[kid].PublicKey.N.Bytes()
	p.mu.Unlock()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(secret)
	require.NoError(p.t, err, "forge HS256 token")
	return signed
}

func (p *Provider) currentKID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}
