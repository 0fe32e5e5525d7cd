package auth

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Clock supplies the current time. Components take a Clock so tests can
// control expiry, cool-down windows and audit timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// RefreshLimiter decides whether an on-demand key refresh may run now.
type RefreshLimiter interface {
	AllowRefresh(ctx context.Context) (bool, error)
}

// localLimiter allows one refresh per window on this process.
type localLimiter struct {
	clock   Clock
	limiter *rate.Limiter
}

func newLocalLimiter(window time.Duration, clock Clock) *localLimiter {
	return &localLimiter{
		clock:   clock,
		limiter: rate.NewLimiter(rate.Every(window), 1),
	}
}

func (l *localLimiter) AllowRefresh(context.Context) (bool, error) {
	return l.limiter.AllowN(l.clock.Now(), 1), nil
}

// LockStore is the slice of a key-value store the shared limiter needs.
// pkg/clients/redis.Client satisfies it.
type LockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
}

// SharedRefreshLimiter extends the cool-down across every replica that
// shares a LockStore: the first replica to claim the window's lock key
// refreshes, the others wait for the next window.
type SharedRefreshLimiter struct {
	store  LockStore
	key    string
	owner  string
	window time.Duration
}

// NewSharedRefreshLimiter returns a limiter that claims key for window.
// owner is stored as the lock value for operators inspecting the store.
func NewSharedRefreshLimiter(store LockStore, key, owner string, window time.Duration) *SharedRefreshLimiter {
	return &SharedRefreshLimiter{store: store, key: key, owner: owner, window: window}
}

// AllowRefresh implements RefreshLimiter.
func (s *SharedRefreshLimiter) AllowRefresh(ctx context.Context) (bool, error) {
	return s.store.SetNX(ctx, s.key, s.owner, s.window)
}
