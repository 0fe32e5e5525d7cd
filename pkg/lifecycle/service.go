package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	sserr "github.com/StricklySoft/stricklysoft-authz/pkg/errors"
)

const tracerName = "github.com/StricklySoft/stricklysoft-authz/pkg/lifecycle"

// DefaultCheckTimeout bounds each dependency check in Ready.
const DefaultCheckTimeout = 2 * time.Second

// Hook runs during Start or Stop.
type Hook func(ctx context.Context) error

// StateChangeHandler observes transitions. Handlers run under the state
// lock and must not call back into the Service.
type StateChangeHandler func(old, new State)

// Info is a point-in-time snapshot of a Service.
type Info struct {
	Name      string        `json:"name"`
	Version   string        `json:"version"`
	State     State         `json:"state"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	Uptime    time.Duration `json:"uptime_ns,omitempty"`
}

// Readiness statuses.
const (
	StatusOK          = "ok"
	StatusDegraded    = "degraded"
	StatusUnavailable = "unavailable"
)

// CheckResult is the outcome of one dependency check.
type CheckResult struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Optional bool   `json:"optional,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Report is the readiness of a Service.
type Report struct {
	Status string        `json:"status"`
	State  State         `json:"state"`
	Checks []CheckResult `json:"checks,omitempty"`
}

// Ready reports whether traffic should be routed to the service. A degraded
// service is still ready.
func (r Report) Ready() bool { return r.Status != StatusUnavailable }

// Service is safe for concurrent use. Build one with [NewServiceBuilder].
type Service struct {
	name    string
	version string

	mu        sync.RWMutex
	state     State
	startedAt *time.Time

	deps         []Dependency
	checkTimeout time.Duration

	tracer trace.Tracer
	logger *slog.Logger

	onStart       []Hook
	onStop        []Hook
	stateHandlers []StateChangeHandler
}

// Name returns the service name given to the builder.
func (s *Service) Name() string { return s.name }

// Version returns the service version given to the builder.
func (s *Service) Version() string { return s.version }

// State returns the current state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Info returns a snapshot. Uptime is only set while running.
func (s *Service) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := Info{Name: s.name, Version: s.version, State: s.state}
	if s.startedAt != nil && s.state == StateRunning {
		t := *s.startedAt
		info.StartedAt = &t
		info.Uptime = time.Since(t)
	}
	return info
}

// SetState moves the service to next. An invalid transition is CONF_001.
// A panicking handler is logged and does not affect the transition.
func (s *Service) SetState(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.state
	if !ValidTransition(old, next) {
		return sserr.Newf(sserr.CodeConflict,
			"lifecycle: invalid state transition from %q to %q", old, next)
	}
	s.state = next

	for _, h := range s.stateHandlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("lifecycle: state change handler panicked",
						"panic", r, "service", s.name, "old_state", string(old), "new_state", string(next))
				}
			}()
			h(old, next)
		}()
	}
	return nil
}

// Start runs the start hooks in registration order and moves the service
// to StateRunning. If a hook fails the service is Failed, the hooks that
// already ran are not undone, and the error is INT_001.
func (s *Service) Start(ctx context.Context) (err error) {
	ctx, span := s.startSpan(ctx, "lifecycle.Start")
	defer func() { finishSpan(span, err) }()

	if err := ctx.Err(); err != nil {
		return sserr.Wrap(err, sserr.CodeTimeout, "lifecycle: start canceled before execution")
	}
	if err := s.SetState(StateStarting); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "lifecycle: starting service", "service", s.name, "version", s.version)

	for i, hook := range s.onStart {
		if err := hook(ctx); err != nil {
			s.logger.ErrorContext(ctx, "lifecycle: start hook failed", "service", s.name, "hook", i, "error", err)
			_ = s.SetState(StateFailed)
			if _, coded := sserr.AsError(err); coded {
				return err
			}
			return sserr.Wrap(err, sserr.CodeInternal, "lifecycle: start hook failed")
		}
	}

	if err := s.SetState(StateRunning); err != nil {
		return err
	}
	now := time.Now().UTC()
	s.mu.Lock()
	s.startedAt = &now
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "lifecycle: service started", "service", s.name)
	return nil
}

// Stop runs the stop hooks in reverse registration order and moves the
// service to StateStopped. Every hook runs even if an earlier one fails;
// the first failure is returned and the service ends Failed. Stop on a
// terminal or never-started service is a no-op.
func (s *Service) Stop(ctx context.Context) (err error) {
	ctx, span := s.startSpan(ctx, "lifecycle.Stop")
	defer func() { finishSpan(span, err) }()

	if st := s.State(); st.IsTerminal() || st == StateUnknown {
		return nil
	}
	if err := s.SetState(StateStopping); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "lifecycle: stopping service", "service", s.name)

	var first error
	for i := len(s.onStop) - 1; i >= 0; i-- {
		if err := s.onStop[i](ctx); err != nil {
			s.logger.ErrorContext(ctx, "lifecycle: stop hook failed", "service", s.name, "hook", i, "error", err)
			if first == nil {
				first = err
			}
		}
	}
	if first != nil {
		_ = s.SetState(StateFailed)
		return sserr.Wrap(first, sserr.CodeInternal, "lifecycle: stop hook failed")
	}

	if err := s.SetState(StateStopped); err != nil {
		return err
	}
	s.mu.Lock()
	s.startedAt = nil
	s.mu.Unlock()
	s.logger.InfoContext(ctx, "lifecycle: service stopped", "service", s.name)
	return nil
}

// Health is the liveness check: nil while running, UNAVAIL_001 otherwise.
func (s *Service) Health(context.Context) error {
	if st := s.State(); st != StateRunning {
		return sserr.Newf(sserr.CodeUnavailable, "lifecycle: service is not running, current state is %q", st)
	}
	return nil
}

// Ready checks every dependency concurrently, each bounded by the check
// timeout. A failing required dependency makes the service unavailable; a
// failing optional one makes it degraded.
func (s *Service) Ready(ctx context.Context) Report {
	state := s.State()
	report := Report{Status: StatusOK, State: state}
	if state != StateRunning {
		report.Status = StatusUnavailable
		return report
	}

	results := make([]CheckResult, len(s.deps))
	var g errgroup.Group
	for i, dep := range s.deps {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, s.checkTimeout)
			defer cancel()
			results[i] = CheckResult{Name: dep.Name, Status: StatusOK, Optional: dep.Optional}
			if err := dep.Checker.Health(cctx); err != nil {
				results[i].Status = StatusUnavailable
				results[i].Error = sserr.GetCode(err).String()
				if results[i].Error == "" {
					results[i].Error = sserr.CodeUnavailableDependency.String()
				}
				s.logger.WarnContext(ctx, "lifecycle: dependency unhealthy", "dependency", dep.Name, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r.Status == StatusOK {
			continue
		}
		if !r.Optional {
			report.Status = StatusUnavailable
		} else if report.Status == StatusOK {
			report.Status = StatusDegraded
		}
	}
	report.Checks = results
	return report
}

// Dependencies returns the registered dependency names.
func (s *Service) Dependencies() []string {
	names := make([]string, len(s.deps))
	for i, d := range s.deps {
		names[i] = d.Name
	}
	return names
}

func (s *Service) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("service.name", s.name)),
	)
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
