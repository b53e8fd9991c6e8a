package lifecycle

import (
	"errors"
	"fmt"
)

// State is the controller's position in the registration lifecycle.
type State int32

const (
	Idle State = iota
	AcquiringIdentity
	Registering
	Registered
	Terminating
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AcquiringIdentity:
		return "acquiring-identity"
	case Registering:
		return "registering"
	case Registered:
		return "registered"
	case Terminating:
		return "terminating"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// ErrInvalidTransition is returned for any edge not in the transition table.
var ErrInvalidTransition = errors.New("invalid state transition")

// Loss before acquisition covers a bus that cannot be reached or drops the
// connection while the request is still queued.
var transitions = map[State][]State{
	Idle:              {AcquiringIdentity},
	AcquiringIdentity: {Registering, Terminating},
	Registering:       {Registered, Terminating},
	Registered:        {Terminating},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition validates from -> to and returns the new state.
func Transition(from, to State) (State, error) {
	if !CanTransition(from, to) {
		return from, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return to, nil
}

// Reason records why the loop terminated.
type Reason int

const (
	// ReasonNone means the loop has not terminated.
	ReasonNone Reason = iota
	// ReasonShutdown is a clean external shutdown (context canceled).
	ReasonShutdown
	// ReasonRegistrationFailed means BlueZ rejected RegisterApplication.
	ReasonRegistrationFailed
	// ReasonIdentityLost means the bus revoked the name or dropped the connection.
	ReasonIdentityLost
	// ReasonBusUnavailable means the bus connection failed before it was ever
	// ready.
	ReasonBusUnavailable
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonShutdown:
		return "shutdown"
	case ReasonRegistrationFailed:
		return "registration-failed"
	case ReasonIdentityLost:
		return "identity-lost"
	case ReasonBusUnavailable:
		return "bus-unavailable"
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// ExitCode maps a termination reason to a process exit status.
func (r Reason) ExitCode() int {
	switch r {
	case ReasonShutdown:
		return 0
	case ReasonIdentityLost:
		return 2
	}
	return 1
}
