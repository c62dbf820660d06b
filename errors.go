package binjatron

import "errors"

// Errors returned by the sync state machine and the plugin API. Transport
// failures are returned as *transport.Error and breakpoint translation
// failures as breakpoint.ErrUnsupportedHost or breakpoint.ErrNotFound.
var (
	ErrAlreadySyncing   = errors.New("already synchronising with the debugger")
	ErrNotSyncing       = errors.New("not synchronising with the debugger")
	ErrNoSlideReference = errors.New("no program counter observed yet to compute the slide from")
)
