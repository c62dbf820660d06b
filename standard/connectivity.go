package standard

import (
	"sort"
	"sync"
	"time"
)

// ConnectionCall represents a single request made to the debugger.
type ConnectionCall struct {
	Timestamp time.Time
	Success   bool
	Latency   time.Duration
	Error     string
}

// Connection tracks the calls of one request kind against one endpoint.
type Connection struct {
	Kind  string
	URL   string
	calls []ConnectionCall
}

// ConnectivityTracker tracks the health of the debugger connection per
// request kind. Calls older than the window are forgotten.
type ConnectivityTracker struct {
	mu          sync.Mutex
	window      time.Duration
	connections map[string]*Connection
}

// NewConnectivityTracker creates a tracker keeping calls for one hour.
func NewConnectivityTracker() *ConnectivityTracker {
	return &ConnectivityTracker{
		window:      time.Hour,
		connections: make(map[string]*Connection),
	}
}

// TrackSuccess records a successful call.
func (t *ConnectivityTracker) TrackSuccess(kind, url string, latency time.Duration) {
	t.track(kind, url, ConnectionCall{
		Timestamp: time.Now().UTC(),
		Success:   true,
		Latency:   latency,
	})
}

// TrackFailure records a failed call.
func (t *ConnectivityTracker) TrackFailure(kind, url string, latency time.Duration, errorMsg string) {
	t.track(kind, url, ConnectionCall{
		Timestamp: time.Now().UTC(),
		Success:   false,
		Latency:   latency,
		Error:     errorMsg,
	})
}

func (t *ConnectivityTracker) track(kind, url string, call ConnectionCall) {
	t.mu.Lock()
	defer t.mu.Unlock()

	conn, ok := t.connections[kind]
	if !ok {
		conn = &Connection{Kind: kind, URL: url}
		t.connections[kind] = conn
	}
	conn.URL = url
	conn.calls = append(conn.calls, call)
	t.prune(conn)
}

// prune removes calls that have fallen out of the window.
func (t *ConnectivityTracker) prune(conn *Connection) {
	cutoff := time.Now().Add(-t.window)
	for i, call := range conn.calls {
		if call.Timestamp.After(cutoff) {
			conn.calls = conn.calls[i:]
			return
		}
	}
	conn.calls = conn.calls[:0]
}

// SuccessRate returns the number of calls of a kind and the fraction that
// succeeded. The rate is 1 when there were no calls.
func (t *ConnectivityTracker) SuccessRate(kind string) (int, float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	conn, ok := t.connections[kind]
	if !ok || len(conn.calls) == 0 {
		return 0, 1
	}
	var succeeded int
	for _, c := range conn.calls {
		if c.Success {
			succeeded++
		}
	}
	return len(conn.calls), float64(succeeded) / float64(len(conn.calls))
}

// GetData returns per-kind statistics as plain data.
func (t *ConnectivityTracker) GetData() interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	kinds := make([]string, 0, len(t.connections))
	for k := range t.connections {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	requests := make([]map[string]interface{}, 0, len(kinds))
	for _, k := range kinds {
		conn := t.connections[k]
		if len(conn.calls) == 0 {
			continue
		}

		var successCount int
		var lastCall time.Time
		latencies := make([]float64, 0, len(conn.calls))
		recentErrors := make([]string, 0)

		for _, call := range conn.calls {
			if call.Success {
				successCount++
			} else if len(recentErrors) < 5 {
				recentErrors = append(recentErrors, call.Error)
			}
			latencies = append(latencies, float64(call.Latency.Milliseconds()))
			if call.Timestamp.After(lastCall) {
				lastCall = call.Timestamp
			}
		}

		successRate := float64(successCount) / float64(len(conn.calls))
		sort.Float64s(latencies)

		status := "healthy"
		if successRate < 0.9 {
			status = "unhealthy"
		} else if successRate < 0.95 {
			status = "degraded"
		}

		requests = append(requests, map[string]interface{}{
			"kind":         conn.Kind,
			"url":          conn.URL,
			"status":       status,
			"last_call":    lastCall.Format(time.RFC3339),
			"total_calls":  len(conn.calls),
			"success_rate": successRate,
			"latency_ms": map[string]interface{}{
				"p50": int(percentile(latencies, 0.50)),
				"p95": int(percentile(latencies, 0.95)),
				"p99": int(percentile(latencies, 0.99)),
			},
			"recent_errors": recentErrors,
		})
	}

	return map[string]interface{}{
		"requests": requests,
	}
}

// percentile calculates the percentile of a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	index := int(float64(len(sorted)-1) * p)
	return sorted[index]
}
