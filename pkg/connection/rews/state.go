package rews

import "fmt"

type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
	StateRetrying
	StateFailed
)

func (state State) String() string {
	switch state {
	case StateClosed:
		return "Closed"
	case StateConnecting:
		return "Connecting"
	case StateOpen:
		return "Open"
	case StateRetrying:
		return "Retrying"
	case StateFailed:
		return "Failed"
	default:
		return "InvalidState"
	}
}

func (state State) validateTransitionTo(newState State) error {
	switch state {
	case StateClosed:
		if newState == StateConnecting {
			return nil
		}
	case StateConnecting:
		switch newState {
		case StateOpen, StateRetrying, StateFailed, StateClosed:
			return nil
		}
	case StateOpen:
		// Open to Retrying is the common case of a lost connection.
		switch newState {
		case StateRetrying, StateFailed, StateClosed:
			return nil
		}
	case StateRetrying:
		switch newState {
		case StateConnecting, StateClosed:
			return nil
		}
	case StateFailed:
		// A new subscription restarts a failed connection from scratch.
		switch newState {
		case StateConnecting, StateClosed:
			return nil
		}
	}

	return fmt.Errorf("invalid state transition from %v to %v", state, newState)
}
