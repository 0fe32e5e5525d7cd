package lifecycle

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-authz/pkg/errors"
)

// ServiceBuilder constructs a [Service].
//
//	svc, err := lifecycle.NewServiceBuilder("authzd", version).
//	    WithDependency(lifecycle.Dependency{Name: "postgres", Checker: pg}).
//	    WithOnStart(keys.Refresh).
//	    WithOnStop(func(ctx context.Context) error { pg.Close(); return nil }).
//	    Build()
type ServiceBuilder struct {
	name          string
	version       string
	deps          []Dependency
	checkTimeout  time.Duration
	logger        *slog.Logger
	tracer        trace.Tracer
	onStart       []Hook
	onStop        []Hook
	stateHandlers []StateChangeHandler
}

// NewServiceBuilder starts a builder. name and version are checked by
// Build.
func NewServiceBuilder(name, version string) *ServiceBuilder {
	return &ServiceBuilder{name: name, version: version, checkTimeout: DefaultCheckTimeout}
}

// WithDependency registers a dependency checked by Ready.
func (b *ServiceBuilder) WithDependency(d Dependency) *ServiceBuilder {
	b.deps = append(b.deps, d)
	return b
}

// WithCheckTimeout overrides DefaultCheckTimeout.
func (b *ServiceBuilder) WithCheckTimeout(d time.Duration) *ServiceBuilder {
	b.checkTimeout = d
	return b
}

func (b *ServiceBuilder) WithLogger(logger *slog.Logger) *ServiceBuilder {
	b.logger = logger
	return b
}

func (b *ServiceBuilder) WithTracerProvider(tp trace.TracerProvider) *ServiceBuilder {
	b.tracer = tp.Tracer(tracerName)
	return b
}

// WithOnStart appends a start hook. Hooks run in the order added.
func (b *ServiceBuilder) WithOnStart(hook Hook) *ServiceBuilder {
	b.onStart = append(b.onStart, hook)
	return b
}

// WithOnStop appends a stop hook. Hooks run in reverse order, so a
// component added after the one it depends on is closed first.
func (b *ServiceBuilder) WithOnStop(hook Hook) *ServiceBuilder {
	b.onStop = append(b.onStop, hook)
	return b
}

// OnStateChange registers a transition observer.
func (b *ServiceBuilder) OnStateChange(handler StateChangeHandler) *ServiceBuilder {
	b.stateHandlers = append(b.stateHandlers, handler)
	return b
}

// Build validates the configuration. Errors are VAL_001: an empty name or
// version, an invalid dependency, a duplicate dependency name, a nil hook
// or a non-positive check timeout.
func (b *ServiceBuilder) Build() (*Service, error) {
	if b.name == "" {
		return nil, sserr.New(sserr.CodeValidation, "lifecycle: service name must not be empty")
	}
	if b.version == "" {
		return nil, sserr.New(sserr.CodeValidation, "lifecycle: service version must not be empty")
	}
	if b.checkTimeout <= 0 {
		return nil, sserr.New(sserr.CodeValidation, "lifecycle: check timeout must be positive")
	}

	seen := make(map[string]bool, len(b.deps))
	for _, d := range b.deps {
		if err := validateDependency(d); err != nil {
			return nil, err
		}
		if seen[d.Name] {
			return nil, sserr.Newf(sserr.CodeValidation, "lifecycle: duplicate dependency %q", d.Name)
		}
		seen[d.Name] = true
	}
	for _, hooks := range [][]Hook{b.onStart, b.onStop} {
		for _, h := range hooks {
			if h == nil {
				return nil, sserr.New(sserr.CodeValidation, "lifecycle: hook must not be nil")
			}
		}
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := b.tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Service{
		name:          b.name,
		version:       b.version,
		state:         StateUnknown,
		deps:          append([]Dependency(nil), b.deps...),
		checkTimeout:  b.checkTimeout,
		tracer:        tracer,
		logger:        logger,
		onStart:       append([]Hook(nil), b.onStart...),
		onStop:        append([]Hook(nil), b.onStop...),
		stateHandlers: append([]StateChangeHandler(nil), b.stateHandlers...),
	}, nil
}
