package audit

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/stricklysoft-authz/pkg/auth"
	sserr "github.com/StricklySoft/stricklysoft-authz/pkg/errors"
)

const tracerName = "github.com/StricklySoft/stricklysoft-authz/pkg/audit"

// DefaultAppendTimeout bounds a single append.
const DefaultAppendTimeout = 5 * time.Second

// Option customizes a Recorder.
type Option func(*Recorder)

// WithClock sets the clock entries are stamped with.
func WithClock(c auth.Clock) Option {
	return func(r *Recorder) { r.clock = c }
}

// WithLogger sets the logger recording failures are reported to.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Recorder) { r.tracer = tp.Tracer(tracerName) }
}

// WithAppendTimeout overrides DefaultAppendTimeout.
func WithAppendTimeout(d time.Duration) Option {
	return func(r *Recorder) { r.timeout = d }
}

// Recorder is safe for concurrent use. Appends are serialized, so the
// order entries reach the store is the order of their timestamps, and
// timestamps never decrease even if the clock steps back.
type Recorder struct {
	store   Store
	clock   auth.Clock
	logger  *slog.Logger
	tracer  trace.Tracer
	timeout time.Duration

	mu   sync.Mutex
	last time.Time
}

// NewRecorder returns a Recorder appending to store.
func NewRecorder(store Store, opts ...Option) *Recorder {
	r := &Recorder{
		store:   store,
		clock:   auth.SystemClock,
		logger:  slog.Default(),
		tracer:  otel.Tracer(tracerName),
		timeout: DefaultAppendTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends ev and returns the stored entry.
//
// The append runs detached from ctx's cancellation: the action being
// recorded has already happened even if the client went away. A missing
// principal, action or entity type is VAL_002. A store failure is INT_004,
// logged at Error with the event so it can be followed up.
func (r *Recorder) Record(ctx context.Context, ev Event) (entry Entry, err error) {
	ctx, span := r.tracer.Start(ctx, "audit.Record", trace.WithAttributes(
		attribute.String("audit.action", ev.Action),
		attribute.String("audit.entity_type", ev.EntityType),
	))
	defer func() {
		if err == nil {
			span.SetAttributes(attribute.String("audit.entry_id", entry.ID))
		}
		finishSpan(span, err)
	}()

	if err := validate(ev); err != nil {
		return Entry{}, err
	}
	ev.Metadata = maps.Clone(ev.Metadata)
	entry = Entry{ID: uuid.NewString(), Event: ev}

	r.mu.Lock()
	defer r.mu.Unlock()

	// The timeout covers the append only, not the wait for earlier appends.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	entry.Timestamp = r.clock.Now().UTC()
	if entry.Timestamp.Before(r.last) {
		entry.Timestamp = r.last
	}
	if err := r.append(ctx, entry); err != nil {
		r.logger.ErrorContext(ctx, "audit: failed to record action",
			"principal_id", ev.PrincipalID,
			"action", ev.Action,
			"entity_type", ev.EntityType,
			"entity_id", ev.EntityID,
			"error", err,
		)
		return Entry{}, sserr.Wrap(err, sserr.CodeAuditRecordingFailed, "audit: recording failed")
	}
	r.last = entry.Timestamp
	return entry, nil
}

// append calls the store, turning a panic into an error.
func (r *Recorder) append(ctx context.Context, entry Entry) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("audit: store panicked: %v", p)
		}
	}()
	return r.store.Append(ctx, entry)
}

func validate(ev Event) error {
	switch {
	case ev.PrincipalID == "":
		return sserr.New(sserr.CodeValidationRequired, "audit: principal id is required")
	case ev.Action == "":
		return sserr.New(sserr.CodeValidationRequired, "audit: action is required")
	case ev.EntityType == "":
		return sserr.New(sserr.CodeValidationRequired, "audit: entity type is required")
	}
	return nil
}
