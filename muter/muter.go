// Package muter rate limits the reporting of poll errors.
//
// A single failed poll is logged. Repeated consecutive failures mute the
// session: one alert is raised, highlight updates are suspended and further
// errors are neither logged nor alerted. The next successful poll restores
// the session and reports how many attempts failed in the meantime.
//
// The Muter only decides. Logging, alerting and suspending are the caller's
// job, driven by the returned Decision.
package muter

// Threshold is the number of consecutive errors that mutes reporting.
const Threshold = 3

// Decision tells the caller what to surface after an error or a success.
type Decision struct {
	// Log the error that was just reported.
	Log bool

	// Mute has just happened. Raise the muted alert once and suspend
	// highlight updates.
	Suspend bool

	// The session has recovered from the muted state. Attempts is the total
	// number of consecutive failures that preceded the recovery, counting the
	// Threshold errors before the mute as well as the ones after it. It is
	// not only the number of errors made while muted.
	Resume   bool
	Attempts int
}

// Muter counts down from Threshold on every error and resets on success.
// The zero value is not ready for use; use New().
//
// Muter is not safe for concurrent use. It is owned by a session and only
// touched under the session lock.
type Muter struct {
	counter int
}

// New returns a Muter with a full error allowance.
func New() *Muter {
	return &Muter{counter: Threshold}
}

// OnError records a failed poll.
func (m *Muter) OnError() Decision {
	var d Decision
	if m.counter > 0 {
		d.Log = true
	}
	m.counter--
	if m.counter == 0 {
		d.Suspend = true
	}
	return d
}

// OnSuccess records a successful poll.
func (m *Muter) OnSuccess() Decision {
	var d Decision
	if m.counter <= 0 {
		d.Resume = true
		d.Attempts = Threshold - m.counter
	}
	m.counter = Threshold
	return d
}

// Muted reports whether error reporting is currently muted.
func (m *Muter) Muted() bool {
	return m.counter <= 0
}

// Failures returns the number of consecutive failures since the last success.
func (m *Muter) Failures() int {
	return Threshold - m.counter
}

// Reset returns the muter to its initial state.
func (m *Muter) Reset() {
	m.counter = Threshold
}
