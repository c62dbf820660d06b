package transport

import (
	"errors"
	"fmt"

	"github.com/st-keller/binjatron/types"
)

// Error is returned when a request could not be made or the debugger
// answered it with an error status. Result is nil when the request never
// got an answer.
type Error struct {
	Kind   types.RequestKind
	Result *types.Result
	Err    error
}

func (e *Error) Error() string {
	if e.Result != nil && e.Result.Err != nil {
		return fmt.Sprintf("%s request failed: %s", e.Kind, e.Result.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s request failed: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s request failed", e.Kind)
}

func (e *Error) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	if e.Result != nil && e.Result.Err != nil {
		return e.Result.Err
	}
	return nil
}

// IsNoSuchTarget reports whether err is the error returned by the debugger
// when no process is being debugged.
func IsNoSuchTarget(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Result.IsNoSuchTarget()
	}
	return false
}
