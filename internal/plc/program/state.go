package program

import (
	"fmt"

	"github.com/KevinKickass/OpenSoftPLC/internal/types"
)

type State int

const (
	StateStopped State = iota
	StateRunning
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateRunning:
		return "RUNNING"
	case StatePaused:
		return "PAUSED"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ValidateTransition rejects state changes a program cannot make.
func ValidateTransition(from, to State) error {
	validTransitions := map[State][]State{
		StateStopped: {StateRunning},
		StateRunning: {StatePaused, StateStopped},
		StatePaused:  {StateRunning, StateStopped},
	}

	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("invalid current state %s: %w", from, types.ErrInvalidState)
	}

	for _, validTo := range allowed {
		if validTo == to {
			return nil
		}
	}

	return fmt.Errorf("invalid state transition: %s -> %s: %w", from, to, types.ErrInvalidState)
}
