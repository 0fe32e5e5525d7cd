package audit

import (
	"context"
	"sync"
)

// memoryStore is an in-memory Store. err, when set, fails every append;
// panicMsg, when set, panics instead.
type memoryStore struct {
	mu       sync.Mutex
	entries  []Entry
	err      error
	panicMsg string
	ctxErrs  []error
}

func (s *memoryStore) Append(ctx context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *memoryStore) all() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

// gatedStore blocks the first append until release is closed and records
// the context error each append observes once it runs.
type gatedStore struct {
	entered chan struct{}
	release chan struct{}

	mu      sync.Mutex
	ctxErrs []error
}

func (s *gatedStore) Append(ctx context.Context, _ Entry) error {
	s.entered <- struct{}{}
	<-s.release
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	return nil
}

func (s *gatedStore) errs() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.ctxErrs...)
}

func deactivation() Event {
	return Event{
		PrincipalID: "0d6b5d0e-7f47-4a53-9a6a-2f0f6f6c1a01",
		Action:      "user.deactivate",
		EntityType:  "user",
		EntityID:    "9f1c2a44-1111-4c5e-8f9a-0b1c2d3e4f50",
		Metadata:    map[string]any{"reason": "left the company"},
	}
}
