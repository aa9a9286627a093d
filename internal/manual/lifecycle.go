package manual

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a status change is not permitted by
// the lifecycle state machine.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrNotFound is returned by stores when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrNotQueued is returned by queue operations on an item that holds no
// queue position.
var ErrNotQueued = errors.New("item not in queue")

// transitions enumerates every permitted status change. Error is additionally
// reachable from any in-flight state via CanFail.
var transitions = map[Status][]Status{
	StatusPending:    {StatusApproved, StatusRejected},
	StatusApproved:   {StatusDownloaded},
	StatusDownloaded: {StatusQueued},
	StatusQueued:     {StatusProcessing},
	StatusProcessing: {StatusProcessed},
	StatusProcessed:  {StatusListed},
	StatusError:      {StatusQueued},
}

// inFlight reports whether a status may still fail into StatusError.
// Terminal states (rejected, listed) and pending cannot.
func inFlight(s Status) bool {
	switch s {
	case StatusApproved, StatusDownloaded, StatusQueued, StatusProcessing, StatusProcessed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from one status to another is allowed.
func CanTransition(from, to Status) bool {
	if to == StatusError {
		return inFlight(from)
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition (wrapped with both states)
// when the change is not permitted.
func ValidateTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Terminal reports whether a status permits no further transitions.
func Terminal(s Status) bool {
	return s == StatusRejected || s == StatusListed
}
