package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/st-keller/binjatron/standard"
	"github.com/st-keller/binjatron/types"
	"github.com/st-keller/binjatron/update"
)

// requestPath is where every API request is posted.
const requestPath = "/api/request"

// minCycle is the shortest time a poll cycle is allowed to take. A debugger
// that answers blocking requests immediately would otherwise spin the loop.
const minCycle = 50 * time.Millisecond

// RequestBuilder returns the requests for one poll cycle.
type RequestBuilder func() []types.Request

// Callback receives the results of one poll cycle. err is the first error of
// the cycle; results holds whatever answers were received.
type Callback func(results []*types.Result, err error)

// Options configures a Client.
type Options struct {
	// RetryInterval caps the delay after a failed poll cycle. Defaults to
	// update.Medium.
	RetryInterval update.Interval

	// RetryDelay overrides the retry delay computed from RetryInterval.
	RetryDelay func(attempt int) time.Duration

	// Connectivity records every request. May be nil.
	Connectivity *standard.ConnectivityTracker
}

// Client is a debugger API client with a background poll loop.
type Client struct {
	base         string
	http         *http.Client
	connectivity *standard.ConnectivityTracker
	retryDelay   func(attempt int) time.Duration

	mu     sync.Mutex
	poller *poller
}

type poller struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a client sending requests to base (eg. "http://127.0.0.1:5555")
// with httpClient.
func New(base string, httpClient *http.Client, opts Options) (*Client, error) {
	if base == "" {
		return nil, fmt.Errorf("base URL required")
	}
	if httpClient == nil {
		return nil, fmt.Errorf("HTTP client required")
	}

	interval := opts.RetryInterval
	if interval == 0 {
		interval = update.Medium
	}
	retryDelay := opts.RetryDelay
	if retryDelay == nil {
		retryDelay = interval.Backoff
	}

	return &Client{
		base:         base,
		http:         httpClient,
		connectivity: opts.Connectivity,
		retryDelay:   retryDelay,
	}, nil
}

// Dial builds the HTTP client for rawURL (see BuildClient) and returns a
// Client using it.
func Dial(rawURL, certPath, keyPath, caPath string, opts Options) (*Client, error) {
	httpClient, base, err := BuildClient(rawURL, certPath, keyPath, caPath)
	if err != nil {
		return nil, err
	}
	return New(base, httpClient, opts)
}

type wireRequest struct {
	Type    string                 `json:"type"`
	Request types.RequestKind      `json:"request"`
	Data    map[string]interface{} `json:"data"`
}

type wireResponse struct {
	Type   string          `json:"type"`
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// Request performs a single request. A result with an error status is
// returned together with an *Error wrapping it.
func (c *Client) Request(ctx context.Context, req types.Request) (*types.Result, error) {
	data := make(map[string]interface{}, len(req.Args)+1)
	for k, v := range req.Args {
		data[k] = v
	}
	data["block"] = req.Block

	body, err := json.Marshal(wireRequest{Type: "request", Request: req.Kind, Data: data})
	if err != nil {
		return nil, &Error{Kind: req.Kind, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+requestPath, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: req.Kind, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	startTime := time.Now()
	resp, err := c.http.Do(httpReq)
	latency := time.Since(startTime)

	if err != nil {
		c.trackFailure(req.Kind, latency, err.Error())
		return nil, &Error{Kind: req.Kind, Err: fmt.Errorf("HTTP request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		msg := fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(b))
		c.trackFailure(req.Kind, latency, msg)
		return nil, &Error{Kind: req.Kind, Err: errors.New(msg)}
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		c.trackFailure(req.Kind, latency, err.Error())
		return nil, &Error{Kind: req.Kind, Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	res, err := decodeResult(req.Kind, wire)
	if err != nil {
		c.trackFailure(req.Kind, latency, err.Error())
		return nil, &Error{Kind: req.Kind, Err: err}
	}

	if res.IsError() {
		// the debugger answered; the connection is healthy
		c.trackSuccess(req.Kind, latency)
		return res, &Error{Kind: req.Kind, Result: res}
	}

	c.trackSuccess(req.Kind, latency)
	return res, nil
}

func decodeResult(kind types.RequestKind, wire wireResponse) (*types.Result, error) {
	res := &types.Result{Kind: kind, Status: wire.Status}

	if wire.Status != types.StatusSuccess {
		res.Err = &types.APIError{Message: "unknown error"}
		if len(wire.Data) > 0 {
			if err := json.Unmarshal(wire.Data, res.Err); err != nil {
				return nil, fmt.Errorf("failed to decode error payload: %w", err)
			}
		}
		return res, nil
	}

	if len(wire.Data) == 0 {
		return res, nil
	}

	var err error
	switch kind {
	case types.KindVersion:
		res.Version = &types.Version{}
		err = json.Unmarshal(wire.Data, res.Version)
	case types.KindRegisters:
		var payload struct {
			Registers map[string]types.Address `json:"registers"`
		}
		err = json.Unmarshal(wire.Data, &payload)
		res.Registers = payload.Registers
	case types.KindBreakpoints:
		var payload struct {
			Breakpoints []types.Breakpoint `json:"breakpoints"`
		}
		err = json.Unmarshal(wire.Data, &payload)
		res.Breakpoints = payload.Breakpoints
	case types.KindCommand:
		var payload struct {
			Output string `json:"output"`
		}
		err = json.Unmarshal(wire.Data, &payload)
		res.Output = payload.Output
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", kind, err)
	}

	return res, nil
}

// Perform makes all requests concurrently and returns the results in request
// order. The error is the first error in request order.
func (c *Client) Perform(ctx context.Context, reqs []types.Request) ([]*types.Result, error) {
	results := make([]*types.Result, len(reqs))
	errs := make([]error, len(reqs))

	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.Request(ctx, req)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// StartPolling starts the poll loop. Each cycle performs the requests from
// build and passes the results to callback. After a failed cycle the loop
// waits for the retry delay before the next one.
func (c *Client) StartPolling(build RequestBuilder, callback Callback) error {
	if build == nil || callback == nil {
		return fmt.Errorf("request builder and callback required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.poller != nil {
		return fmt.Errorf("already polling")
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &poller{cancel: cancel, done: make(chan struct{})}
	c.poller = p

	go c.poll(ctx, p, build, callback)

	return nil
}

// StopPolling cancels the poll loop and any request in flight. It does not
// wait for the loop to finish; the returned channel is closed when it has.
// A callback may still be running (or about to run) when StopPolling returns.
func (c *Client) StopPolling() <-chan struct{} {
	c.mu.Lock()
	p := c.poller
	c.poller = nil
	c.mu.Unlock()

	if p == nil {
		done := make(chan struct{})
		close(done)
		return done
	}

	p.cancel()
	return p.done
}

// Polling reports whether the poll loop is running.
func (c *Client) Polling() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.poller != nil
}

func (c *Client) poll(ctx context.Context, p *poller, build RequestBuilder, callback Callback) {
	defer close(p.done)

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		start := time.Now()
		results, err := c.Perform(ctx, build())

		// stopped while the requests were in flight
		if ctx.Err() != nil {
			return
		}

		callback(results, err)

		wait := minCycle - time.Since(start)
		if err != nil {
			wait = c.retryDelay(attempt)
			attempt++
		} else {
			attempt = 0
		}

		if wait > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}
}

func (c *Client) trackSuccess(kind types.RequestKind, latency time.Duration) {
	if c.connectivity != nil {
		c.connectivity.TrackSuccess(string(kind), c.base, latency)
	}
}

func (c *Client) trackFailure(kind types.RequestKind, latency time.Duration, msg string) {
	if c.connectivity != nil {
		c.connectivity.TrackFailure(string(kind), c.base, latency, msg)
	}
}
