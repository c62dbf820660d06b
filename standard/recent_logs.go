// Package standard provides the ambient components every sync session
// carries: structured logs, transport connectivity tracking, certificate
// monitoring and a description of the attached debugger.
package standard

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity of a log entry.
type LogLevel string

const (
	LevelError LogLevel = "ERROR"
	LevelWarn  LogLevel = "WARN"
	LevelInfo  LogLevel = "INFO"
	LevelDebug LogLevel = "DEBUG"
)

// LogEntry represents a single log entry.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     LogLevel               `json:"level"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// String formats the entry with its context keys in sorted order.
func (e LogEntry) String() string {
	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	s := strings.Builder{}
	s.WriteString(fmt.Sprintf("[%s] %s", e.Level, e.Message))
	for _, k := range keys {
		s.WriteString(fmt.Sprintf(" %s=%v", k, e.Context[k]))
	}
	return s.String()
}

// RecentLogs keeps the most recent log entries and forwards every entry to
// an optional sink (the host's log window).
type RecentLogs struct {
	mu         sync.Mutex
	entries    []LogEntry
	maxEntries int
	sink       func(LogEntry)
	echo       bool
}

// NewRecentLogs creates a new RecentLogs tracker.
func NewRecentLogs(maxEntries int) *RecentLogs {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	return &RecentLogs{
		entries:    make([]LogEntry, 0, maxEntries),
		maxEntries: maxEntries,
		echo:       true,
	}
}

// SetSink sets the function every new entry is forwarded to.
func (r *RecentLogs) SetSink(fn func(LogEntry)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = fn
}

// SetEcho controls whether entries are also written to the standard logger.
func (r *RecentLogs) SetEcho(echo bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.echo = echo
}

// Log adds a log entry with context.
// Context must be non-empty to ensure structured logging.
func (r *RecentLogs) Log(level LogLevel, message string, context map[string]interface{}) {
	// Validate: context must not be empty
	if len(context) == 0 {
		panic("RecentLogs.Log: context must be non-empty (use structured logging!)")
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Context:   context,
	}

	r.mu.Lock()
	r.entries = append(r.entries, entry)

	// Keep only last N entries (ringbuffer)
	if len(r.entries) > r.maxEntries {
		r.entries = r.entries[len(r.entries)-r.maxEntries:]
	}

	sink := r.sink
	echo := r.echo
	r.mu.Unlock()

	if echo {
		log.Print(entry.String())
	}

	// the sink is called outside the lock, it may log again
	if sink != nil {
		sink(entry)
	}
}

// Error logs an error message with context.
func (r *RecentLogs) Error(message string, context map[string]interface{}) {
	r.Log(LevelError, message, context)
}

// Warn logs a warning message with context.
func (r *RecentLogs) Warn(message string, context map[string]interface{}) {
	r.Log(LevelWarn, message, context)
}

// Info logs an info message with context.
func (r *RecentLogs) Info(message string, context map[string]interface{}) {
	r.Log(LevelInfo, message, context)
}

// Debug logs a debug message with context.
func (r *RecentLogs) Debug(message string, context map[string]interface{}) {
	r.Log(LevelDebug, message, context)
}

// Entries returns a copy of the retained entries, oldest first.
func (r *RecentLogs) Entries() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]LogEntry(nil), r.entries...)
}

// Count returns the number of retained entries at the given level.
func (r *RecentLogs) Count(level LogLevel) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int
	for _, e := range r.entries {
		if e.Level == level {
			n++
		}
	}
	return n
}

// GetData returns the retained entries and per-level counts as plain data.
func (r *RecentLogs) GetData() interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Calculate stats inline (avoid double-locking)
	var errorCount, warnCount, infoCount, debugCount int
	for _, entry := range r.entries {
		switch entry.Level {
		case LevelError:
			errorCount++
		case LevelWarn:
			warnCount++
		case LevelInfo:
			infoCount++
		case LevelDebug:
			debugCount++
		}
	}

	return map[string]interface{}{
		"entries": append([]LogEntry(nil), r.entries...),
		"stats": map[string]interface{}{
			"total_count":    len(r.entries),
			"errors_count":   errorCount,
			"warnings_count": warnCount,
			"info_count":     infoCount,
			"debug_count":    debugCount,
			"max_entries":    r.maxEntries,
		},
	}
}
