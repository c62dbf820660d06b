package binjatron_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/st-keller/binjatron"
	"github.com/st-keller/binjatron/transport"
	"github.com/st-keller/binjatron/types"
)

type function string

func (f function) Name() string {
	return string(f)
}

// host is an analysis view that keeps highlights in a map
type host struct {
	mu         sync.Mutex
	highlights map[types.Address]types.Color
	outside    map[types.Address]bool
	listeners  []binjatron.EditListener
	alerts     []string
	logs       []string
	confirm    bool
	confirms   int

	// runs after the confirm dialog has been answered
	onConfirm func()
}

func newHost() *host {
	return &host{
		highlights: make(map[types.Address]types.Color),
		outside:    make(map[types.Address]bool),
	}
}

func (h *host) FunctionContaining(a types.Address) (types.Function, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.outside[a] {
		return nil, false
	}
	return function("main"), true
}

func (h *host) Highlight(_ types.Function, a types.Address) types.Color {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.highlights[a]
}

func (h *host) SetHighlight(_ types.Function, a types.Address, c types.Color) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c == types.NoHighlight {
		delete(h.highlights, a)
		return
	}
	h.highlights[a] = c
}

func (h *host) RegisterEditNotification(l binjatron.EditListener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, l)
}

func (h *host) UnregisterEditNotification(l binjatron.EditListener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, e := range h.listeners {
		if e == l {
			h.listeners = append(h.listeners[:i], h.listeners[i+1:]...)
			return
		}
	}
}

func (h *host) Alert(message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.alerts = append(h.alerts, message)
}

func (h *host) Log(message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logs = append(h.logs, message)
}

func (h *host) Confirm(_, _ string) bool {
	h.mu.Lock()
	h.confirms++
	answer, hook := h.confirm, h.onConfirm
	h.mu.Unlock()

	if hook != nil {
		hook()
	}
	return answer
}

func (h *host) color(a types.Address) types.Color {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.highlights[a]
}

// painted returns the addresses holding colour c in ascending order
func (h *host) painted(c types.Color) []types.Address {
	h.mu.Lock()
	defer h.mu.Unlock()
	var addrs []types.Address
	for a, hc := range h.highlights {
		if hc == c {
			addrs = append(addrs, a)
		}
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}

func (h *host) alertCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.alerts)
}

// logged counts the log lines containing s
func (h *host) logged(s string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, l := range h.logs {
		if strings.Contains(l, s) {
			n++
		}
	}
	return n
}

func (h *host) edit(offset types.Address, data []byte) {
	h.mu.Lock()
	listeners := append([]binjatron.EditListener(nil), h.listeners...)
	h.mu.Unlock()
	for _, l := range listeners {
		l.OnHostEdit(offset, len(data), data)
	}
}

// debugger is a Transport emulating a debugger that understands the lldb and
// gdb breakpoint commands. Polling is driven by the test with poll().
type debugger struct {
	mu sync.Mutex

	version     types.Version
	pc          types.Address
	noTarget    bool
	breakpoints map[int]types.Address
	nextID      int

	// every request fails with a connection error
	down bool

	// command requests are answered with an error status
	rejectCommands bool

	// this command alone is answered with an error status
	reject string

	requests []types.Request
	commands []string

	build    transport.RequestBuilder
	callback transport.Callback
}

func newDebugger(hostVersion string, capabilities ...string) *debugger {
	return &debugger{
		version: types.Version{
			APIVersion:   1.1,
			HostVersion:  hostVersion,
			Capabilities: capabilities,
		},
		noTarget:    true,
		breakpoints: make(map[int]types.Address),
		nextID:      1,
	}
}

func (d *debugger) Request(_ context.Context, req types.Request) (*types.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.requests = append(d.requests, req)

	if d.down {
		return nil, &transport.Error{Kind: req.Kind, Err: errors.New("connection refused")}
	}

	ok := &types.Result{Kind: req.Kind, Status: types.StatusSuccess}
	fail := func(code int, msg string) (*types.Result, error) {
		res := &types.Result{Kind: req.Kind, Status: types.StatusError, Err: &types.APIError{Code: code, Message: msg}}
		return res, &transport.Error{Kind: req.Kind, Result: res}
	}

	switch req.Kind {
	case types.KindVersion:
		v := d.version
		ok.Version = &v

	case types.KindRegisters:
		if d.noTarget {
			return fail(types.ErrCodeNoSuchTarget, "No such target")
		}
		ok.Registers = map[string]types.Address{"rip": d.pc}

	case types.KindBreakpoints:
		ids := make([]int, 0, len(d.breakpoints))
		for id := range d.breakpoints {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for _, id := range ids {
			ok.Breakpoints = append(ok.Breakpoints, types.Breakpoint{
				ID:        id,
				Enabled:   true,
				Locations: []types.Location{{Address: d.breakpoints[id]}},
			})
		}

	case types.KindCommand:
		cmd, _ := req.Args["command"].(string)
		d.commands = append(d.commands, cmd)
		if d.rejectCommands || cmd == d.reject {
			return fail(1, "command rejected")
		}
		d.execute(cmd)

	case types.KindWriteMemory:

	default:
		return fail(1, "unknown request")
	}

	return ok, nil
}

func (d *debugger) execute(cmd string) {
	var a uint64
	var id int
	if _, err := fmt.Sscanf(cmd, "breakpoint set -a 0x%x", &a); err == nil {
		d.setBreakpoint(types.Address(a))
	} else if _, err := fmt.Sscanf(cmd, "break *0x%x", &a); err == nil {
		d.setBreakpoint(types.Address(a))
	} else if _, err := fmt.Sscanf(cmd, "breakpoint delete %d", &id); err == nil {
		delete(d.breakpoints, id)
	} else if _, err := fmt.Sscanf(cmd, "delete %d", &id); err == nil {
		delete(d.breakpoints, id)
	}
}

// setBreakpoint must be called with mu held
func (d *debugger) setBreakpoint(a types.Address) int {
	id := d.nextID
	d.nextID++
	d.breakpoints[id] = a
	return id
}

func (d *debugger) StartPolling(build transport.RequestBuilder, callback transport.Callback) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.build != nil {
		return errors.New("already polling")
	}
	d.build = build
	d.callback = callback
	return nil
}

func (d *debugger) StopPolling() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.build = nil
	d.callback = nil
	done := make(chan struct{})
	close(done)
	return done
}

func (d *debugger) polling() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.build != nil
}

// cycle performs the requests of one poll cycle the way transport.Client
// does and returns them with the callback, without calling it
func (d *debugger) cycle(t *testing.T) (transport.Callback, []*types.Result, error) {
	t.Helper()

	d.mu.Lock()
	build, callback := d.build, d.callback
	d.mu.Unlock()

	if build == nil {
		t.Fatalf("not polling")
	}

	reqs := build()
	results := make([]*types.Result, len(reqs))
	var first error
	for i, req := range reqs {
		res, err := d.Request(context.Background(), req)
		results[i] = res
		if err != nil && first == nil {
			first = err
		}
	}
	return callback, results, first
}

// poll runs one poll cycle
func (d *debugger) poll(t *testing.T) {
	t.Helper()
	callback, results, err := d.cycle(t)
	callback(results, err)
}

func (d *debugger) set(f func(d *debugger)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f(d)
}

func (d *debugger) sentCommands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.commands...)
}

func (d *debugger) count(kind types.RequestKind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, r := range d.requests {
		if r.Kind == kind {
			n++
		}
	}
	return n
}

func (d *debugger) last(kind types.RequestKind) (types.Request, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.requests) - 1; i >= 0; i-- {
		if d.requests[i].Kind == kind {
			return d.requests[i], true
		}
	}
	return types.Request{}, false
}
