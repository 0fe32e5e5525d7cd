package auth

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	sserr "github.com/StricklySoft/stricklysoft-authz/pkg/errors"
)

// maxKeySetSize caps the key set response body.
const maxKeySetSize = 1 << 20

// refreshKey is the singleflight key shared by every refresh.
const refreshKey = "jwks"

var errRefreshSuppressed = errors.New("auth: key refresh suppressed by cool-down")

// HTTPClient is the subset of *http.Client used to fetch the key set.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// KeyProvider resolves a signing key by key id.
type KeyProvider interface {
	GetKey(ctx context.Context, kid string) (crypto.PublicKey, error)
}

// KeySourceConfig configures a KeySource.
type KeySourceConfig struct {
	URL          string
	Cooldown     time.Duration
	MaxAge       time.Duration
	FetchTimeout time.Duration
}

// KeySourceOption customizes a KeySource.
type KeySourceOption func(*KeySource)

// WithHTTPClient sets the client used for key set fetches.
func WithHTTPClient(c HTTPClient) KeySourceOption {
	return func(s *KeySource) { s.client = c }
}

// WithClock sets the clock used for cache age and cool-down.
func WithClock(c Clock) KeySourceOption {
	return func(s *KeySource) { s.clock = c }
}

// WithSharedRefreshLimiter adds a limiter consulted after the local
// cool-down allows a refresh, typically a [SharedRefreshLimiter].
func WithSharedRefreshLimiter(l RefreshLimiter) KeySourceOption {
	return func(s *KeySource) { s.shared = l }
}

// WithKeySourceLogger sets the logger.
func WithKeySourceLogger(l *slog.Logger) KeySourceOption {
	return func(s *KeySource) { s.logger = l }
}

// WithKeySourceTracerProvider sets the tracer provider.
func WithKeySourceTracerProvider(tp trace.TracerProvider) KeySourceOption {
	return func(s *KeySource) { s.tracer = tp.Tracer(tracerName) }
}

// KeySource caches the identity provider's signing keys.
//
// A lookup for a cached key returns immediately. Once the cache is older
// than MaxAge the next lookup refreshes it; if that refresh fails a cached
// key is still served, and the stale cache is not refetched for Cooldown. A lookup for an unknown key id triggers at most one
// refresh per Cooldown, so forged key ids cannot be used to hammer the
// provider. All concurrent refresh attempts share one in-flight fetch.
//
// KeySource is safe for concurrent use.
type KeySource struct {
	cfg    KeySourceConfig
	client HTTPClient
	clock  Clock
	local  RefreshLimiter
	shared RefreshLimiter
	logger *slog.Logger
	tracer trace.Tracer
	group  singleflight.Group

	mu        sync.RWMutex
	keys      map[string]crypto.PublicKey
	fetchedAt time.Time
	failedAt  time.Time
	lastErr   error
}

// NewKeySource returns a KeySource with an empty cache. Call
// [KeySource.Refresh] at startup to warm it.
func NewKeySource(cfg KeySourceConfig, opts ...KeySourceOption) (*KeySource, error) {
	if cfg.URL == "" {
		return nil, sserr.New(sserr.CodeValidationRequired, "auth: key set URL is required")
	}
	if cfg.Cooldown <= 0 || cfg.MaxAge <= 0 || cfg.FetchTimeout <= 0 {
		return nil, sserr.New(sserr.CodeValidationRange,
			"auth: key source cooldown, max age and fetch timeout must be positive")
	}
	s := &KeySource{
		cfg:    cfg,
		client: &http.Client{},
		clock:  SystemClock,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
		keys:   map[string]crypto.PublicKey{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.local = newLocalLimiter(cfg.Cooldown, s.clock)
	return s, nil
}

// GetKey implements KeyProvider. It fails with CodeUnknownSigningKey when
// the key id is not in the provider's key set, and with
// CodeKeySourceUnavailable when the key set could not be fetched and no
// cached key matches.
func (s *KeySource) GetKey(ctx context.Context, kid string) (crypto.PublicKey, error) {
	key, found, populated, fresh := s.lookup(kid)
	if found && fresh {
		return key, nil
	}

	// A stale cache is refreshed on schedule, but not again within Cooldown
	// of a failed fetch. Misses against a fresh or never-populated cache are
	// subject to the cool-down.
	stale := populated && !fresh
	var err error
	if stale && s.failedRecently() {
		err = errRefreshSuppressed
	} else {
		err = s.refresh(ctx, !stale)
	}

	if key, found, _, _ = s.lookup(kid); found {
		if err != nil && !errors.Is(err, errRefreshSuppressed) {
			s.logger.WarnContext(ctx, "auth: serving cached signing key after failed refresh",
				"kid", kid, "error", err)
		}
		return key, nil
	}

	switch {
	case err == nil:
		return nil, unknownKey(kid)
	case errors.Is(err, errRefreshSuppressed):
		s.mu.RLock()
		lastErr := s.lastErr
		s.mu.RUnlock()
		if lastErr != nil {
			return nil, s.unavailable(lastErr)
		}
		return nil, unknownKey(kid)
	default:
		return nil, s.unavailable(err)
	}
}

// Refresh fetches the key set now, bypassing the cool-down. It joins a
// refresh already in flight.
func (s *KeySource) Refresh(ctx context.Context) error {
	return s.refresh(ctx, false)
}

// Run refreshes the key set every interval until ctx is done. Failures are
// logged; the cache keeps its previous keys.
func (s *KeySource) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
				s.logger.WarnContext(ctx, "auth: scheduled key refresh failed", "error", err)
			}
		}
	}
}

// KeyIDs returns the ids currently cached.
func (s *KeySource) KeyIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.keys))
	for kid := range s.keys {
		ids = append(ids, kid)
	}
	return ids
}

func (s *KeySource) failedRecently() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.failedAt.IsZero() && s.clock.Now().Sub(s.failedAt) < s.cfg.Cooldown
}

func (s *KeySource) lookup(kid string) (key crypto.PublicKey, found, populated, fresh bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, found = s.keys[kid]
	populated = !s.fetchedAt.IsZero()
	fresh = populated && s.clock.Now().Sub(s.fetchedAt) < s.cfg.MaxAge
	return key, found, populated, fresh
}

// refresh runs or joins the shared fetch. Each caller stops waiting when its
// own ctx is done; the fetch itself is detached from the leader's
// cancellation and bounded by FetchTimeout.
func (s *KeySource) refresh(ctx context.Context, limited bool) error {
	fetchCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(refreshKey, func() (any, error) {
		if limited && !s.allowRefresh(fetchCtx) {
			return nil, errRefreshSuppressed
		}
		return nil, s.fetch(fetchCtx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return sserr.Wrap(ctx.Err(), sserr.CodeKeySourceUnavailable,
			"auth: gave up waiting for signing key refresh")
	}
}

func (s *KeySource) allowRefresh(ctx context.Context) bool {
	ok, _ := s.local.AllowRefresh(ctx)
	if !ok || s.shared == nil {
		return ok
	}
	ok, err := s.shared.AllowRefresh(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "auth: shared refresh limiter unavailable, using local cool-down",
			"error", err)
		return true
	}
	return ok
}

func (s *KeySource) fetch(ctx context.Context) error {
	ctx, span := startSpan(ctx, s.tracer, "auth.KeySource.Refresh")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	keys, err := fetchKeySet(ctx, s.client, s.cfg.URL)

	s.mu.Lock()
	if err != nil {
		s.lastErr = err
		s.failedAt = s.clock.Now()
	} else {
		s.keys = keys
		s.fetchedAt = s.clock.Now()
		s.failedAt = time.Time{}
		s.lastErr = nil
	}
	s.mu.Unlock()

	if err != nil {
		wrapped := sserr.Wrap(err, sserr.CodeKeySourceUnavailable, "auth: signing key set could not be fetched")
		finishSpan(span, wrapped)
		s.logger.WarnContext(ctx, "auth: signing key set fetch failed", "url", s.cfg.URL, "error", err)
		return wrapped
	}
	span.SetAttributes(attribute.Int("auth.key_count", len(keys)))
	s.logger.DebugContext(ctx, "auth: signing key set refreshed", "keys", len(keys))
	return nil
}

func (s *KeySource) unavailable(err error) error {
	if sserr.HasCode(err, sserr.CodeKeySourceUnavailable) {
		return err
	}
	return sserr.Wrap(err, sserr.CodeKeySourceUnavailable, "auth: signing key set could not be fetched")
}

func unknownKey(kid string) error {
	return sserr.New(sserr.CodeUnknownSigningKey, "auth: token signed with an unknown key").
		WithDetail("kid", kid)
}

type keySetDocument struct {
	Keys []jsonWebKey `json:"keys"`
}

type jsonWebKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// fetchKeySet downloads and decodes a JWKS document. Keys without a kid,
// keys not meant for signatures and keys that fail to decode are skipped.
func fetchKeySet(ctx context.Context, client HTTPClient, url string) (map[string]crypto.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request key set: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("key set endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeySetSize))
	if err != nil {
		return nil, fmt.Errorf("read key set: %w", err)
	}

	var doc keySetDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode key set: %w", err)
	}

	keys := make(map[string]crypto.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kid == "" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		var (
			pub crypto.PublicKey
			err error
		)
		switch k.Kty {
		case "RSA":
			pub, err = decodeRSAKey(k.N, k.E)
		case "EC":
			pub, err = decodeECKey(k.Crv, k.X, k.Y)
		default:
			continue
		}
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}
	return keys, nil
}

func decodeRSAKey(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	exp := new(big.Int).SetBytes(eb)
	if len(nb) == 0 || !exp.IsInt64() || exp.Int64() < 3 {
		return nil, errors.New("invalid RSA key parameters")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: int(exp.Int64())}, nil
}

func decodeECKey(crv, x, y string) (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("unsupported curve %q", crv)
	}
	xb, err := base64.RawURLEncoding.DecodeString(x)
	if err != nil {
		return nil, fmt.Errorf("decode x: %w", err)
	}
	yb, err := base64.RawURLEncoding.DecodeString(y)
	if err != nil {
		return nil, fmt.Errorf("decode y: %w", err)
	}
	return &ecdsa.PublicKey{Curve: curve, X: new(big.Int).SetBytes(xb), Y: new(big.Int).SetBytes(yb)}, nil
}
