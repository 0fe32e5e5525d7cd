package lifecycle

import (
	"context"

	sserr "github.com/StricklySoft/stricklysoft-authz/pkg/errors"
)

// HealthChecker is implemented by the client wrappers in pkg/clients.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthFunc adapts a function to HealthChecker.
type HealthFunc func(ctx context.Context) error

// Health implements HealthChecker.
func (f HealthFunc) Health(ctx context.Context) error { return f(ctx) }

// Dependency is a backing service whose health gates readiness.
type Dependency struct {
	// Name appears in readiness reports, e.g. "postgres".
	Name string

	Checker HealthChecker

	// Optional dependencies mark the service degraded rather than
	// unavailable when unhealthy.
	Optional bool
}

func validateDependency(d Dependency) error {
	if d.Name == "" {
		return sserr.New(sserr.CodeValidation, "lifecycle: dependency name must not be empty")
	}
	if d.Checker == nil {
		return sserr.Newf(sserr.CodeValidation, "lifecycle: dependency %q has no health checker", d.Name)
	}
	return nil
}
