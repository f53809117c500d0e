package device

import "fmt"

// State is the lifecycle state of a Handle.
//
//	Closed -> Opened -> Running -> Stopping -> Closed
//	any    -> Faulted -> Closed
type State int32

const (
	StateClosed State = iota
	StateOpened
	StateRunning
	StateStopping
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpened:
		return "opened"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}
