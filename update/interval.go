// Package update defines how long the poll loop waits before retrying after a
// failed request cycle.
package update

import (
	"fmt"
	"strings"
	"time"
)

// Interval caps the retry delay of the poll loop (prime numbers, like the
// backoff sequence).
type Interval int

const (
	Fast   Interval = 2  // 2s - local debugger, quick recovery
	Medium Interval = 5  // 5s - default
	Slow   Interval = 11 // 11s - remote debugger over a slow link
)

// Prime number sequence for the retry backoff.
var backoffPrimes = []int{1, 2, 3, 5, 11}

// Seconds returns interval in seconds. Panics on invalid value.
func (i Interval) Seconds() int {
	switch i {
	case Fast:
		return 2
	case Medium:
		return 5
	case Slow:
		return 11
	default:
		panic(fmt.Sprintf("invalid update.Interval: %d (must be Fast/Medium/Slow)", i))
	}
}

// Backoff returns the delay before retry number attempt (0 based). The delay
// walks the prime sequence and never exceeds the interval.
func (i Interval) Backoff(attempt int) time.Duration {
	max := i.Seconds()
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(backoffPrimes) {
		return time.Duration(max) * time.Second
	}
	sec := backoffPrimes[attempt]
	if sec > max {
		sec = max
	}
	return time.Duration(sec) * time.Second
}

// String returns string representation.
func (i Interval) String() string {
	switch i {
	case Fast:
		return "Fast(2s)"
	case Medium:
		return "Medium(5s)"
	case Slow:
		return "Slow(11s)"
	default:
		return fmt.Sprintf("Invalid(%d)", i)
	}
}

// Parse accepts "fast", "medium" or "slow".
func Parse(s string) (Interval, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fast":
		return Fast, nil
	case "medium":
		return Medium, nil
	case "slow":
		return Slow, nil
	}
	return 0, fmt.Errorf("invalid update.Interval %q (must be fast/medium/slow)", s)
}

// MarshalText implements encoding.TextMarshaler.
func (i Interval) MarshalText() ([]byte, error) {
	switch i {
	case Fast:
		return []byte("fast"), nil
	case Medium:
		return []byte("medium"), nil
	case Slow:
		return []byte("slow"), nil
	}
	return nil, fmt.Errorf("invalid update.Interval: %d", i)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *Interval) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*i = v
	return nil
}
