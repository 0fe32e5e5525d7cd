// Package lifecycle runs the authorization service as a small state
// machine: it starts the service's components through hooks, stops them in
// reverse order, and reports liveness and readiness from the current state
// and the health of the backing stores.
//
// The normal flow is
//
//	Unknown -> Starting -> Running -> Stopping -> Stopped
//
// and any non-terminal state may move to Failed. Stopped and Failed may be
// started again.
//
// Lifecycle operations open spans under the scope
// "github.com/StricklySoft/stricklysoft-authz/pkg/lifecycle".
package lifecycle

import "slices"

// State is the lifecycle state of a Service. The zero value is not valid;
// services begin in StateUnknown.
type State string

const (
	// StateUnknown is the state of a service that was never started.
	StateUnknown State = "unknown"

	// StateStarting is held while the start hooks run.
	StateStarting State = "starting"

	// StateRunning is the only state in which the service is ready.
	StateRunning State = "running"

	// StateStopping is held while the stop hooks drain and close
	// components.
	StateStopping State = "stopping"

	// StateStopped follows a clean shutdown.
	StateStopped State = "stopped"

	// StateFailed follows a failed start or stop hook.
	StateFailed State = "failed"
)

func (s State) String() string { return string(s) }

// Valid reports whether s is a defined state.
func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether s is StateStopped or StateFailed.
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}

// transitions lists the states each state may move to.
//
//	Unknown  -> Starting, Failed
//	Starting -> Running, Stopping, Failed
//	Running  -> Stopping, Failed
//	Stopping -> Stopped, Failed
//	Stopped  -> Starting
//	Failed   -> Starting
var transitions = map[State][]State{
	StateUnknown:  {StateStarting, StateFailed},
	StateStarting: {StateRunning, StateStopping, StateFailed},
	StateRunning:  {StateStopping, StateFailed},
	StateStopping: {StateStopped, StateFailed},
	StateStopped:  {StateStarting},
	StateFailed:   {StateStarting},
}

// ValidTransition reports whether from may move to to. Staying in the same
// state is never a transition.
func ValidTransition(from, to State) bool {
	return from != to && slices.Contains(transitions[from], to)
}
