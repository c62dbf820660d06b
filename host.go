package binjatron

import (
	"context"

	"github.com/st-keller/binjatron/highlight"
	"github.com/st-keller/binjatron/transport"
	"github.com/st-keller/binjatron/types"
)

// Host is the analysis view the plugin runs in.
type Host interface {
	highlight.View

	// RegisterEditNotification arranges for OnHostEdit to be called whenever
	// the user changes bytes directly in the view.
	RegisterEditNotification(l EditListener)
	UnregisterEditNotification(l EditListener)

	// Alert shows a message the user must acknowledge.
	Alert(message string)

	// Log writes a line to the host's log window.
	Log(message string)

	// Confirm asks a yes/no question.
	Confirm(title, message string) bool
}

// EditListener receives edits made in the view. offset is in view space.
type EditListener interface {
	OnHostEdit(offset types.Address, length int, data []byte)
}

// Transport is the debugger API client. transport.Client implements it.
//
// Request returns the result even when the debugger answered with an error
// status, so that callers can look at it.
type Transport interface {
	Request(ctx context.Context, req types.Request) (*types.Result, error)
	StartPolling(build transport.RequestBuilder, callback transport.Callback) error
	StopPolling() <-chan struct{}
}
