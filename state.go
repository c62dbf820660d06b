package binjatron

import (
	"errors"
	"fmt"
)

// SyncState is the lifecycle state of synchronisation with the debugger.
//
// idle    -> syncing
// syncing -> muted | idle
// muted   -> syncing | idle
//
// Transitions outside this set are rejected with ErrInvalidTransition.
type SyncState string

const (
	Idle    SyncState = "idle"
	Syncing SyncState = "syncing"
	Muted   SyncState = "muted"
)

// ErrInvalidTransition is returned for a state change the table does not
// allow.
var ErrInvalidTransition = errors.New("invalid sync state transition")

func allowedTransition(from, to SyncState) bool {
	switch from {
	case Idle:
		return to == Syncing
	case Syncing:
		return to == Muted || to == Idle
	case Muted:
		return to == Syncing || to == Idle
	}
	return false
}

// transition returns the new state or an error wrapping
// ErrInvalidTransition.
func transition(from, to SyncState) (SyncState, error) {
	if !allowedTransition(from, to) {
		return from, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return to, nil
}
