package binjatron

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"

	"github.com/bradleyjkemp/memviz"

	"github.com/st-keller/binjatron/address"
	"github.com/st-keller/binjatron/breakpoint"
	"github.com/st-keller/binjatron/highlight"
	"github.com/st-keller/binjatron/registry"
	"github.com/st-keller/binjatron/standard"
	"github.com/st-keller/binjatron/transport"
	"github.com/st-keller/binjatron/types"
)

// Plugin is the entry point used by the host. It owns the callback
// registry, which outlives sessions, and at most one Session at a time.
type Plugin struct {
	config    Config
	host      Host
	transport Transport

	registry *registry.Registry

	// standard components (public access via getters)
	logs         *standard.RecentLogs
	connectivity *standard.ConnectivityTracker
	certMonitor  *standard.CertificateMonitor

	mu         sync.Mutex
	session    *Session
	generation int
	info       *standard.DebuggerInfo
}

// New creates a plugin. If tr is nil a transport.Client for config.URL is
// built; connectivity is only tracked for that client.
func New(config Config, host Host, tr Transport) (*Plugin, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if host == nil {
		return nil, fmt.Errorf("host required")
	}

	logs := standard.NewRecentLogs(config.LogEntries)
	logs.SetSink(func(e standard.LogEntry) {
		host.Log(e.String())
	})

	connectivity := standard.NewConnectivityTracker()

	if tr == nil {
		c, err := transport.Dial(config.URL, config.CertPath, config.KeyPath, config.CAPath, transport.Options{
			RetryInterval: config.RetryInterval,
			Connectivity:  connectivity,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build debugger client: %w", err)
		}
		tr = c
	}

	p := &Plugin{
		config:       config,
		host:         host,
		transport:    tr,
		registry:     registry.New(),
		logs:         logs,
		connectivity: connectivity,
		certMonitor:  standard.NewCertificateMonitor(),
	}

	p.registry.SetPanicHandler(func(id registry.ID, recovered interface{}) {
		p.logs.Error("Sync callback failed", map[string]interface{}{
			"callback": uint64(id),
			"panic":    fmt.Sprint(recovered),
		})
	})

	if u, err := url.Parse(config.URL); err == nil && u.Scheme == "https" {
		p.certMonitor.Watch("client", config.CertPath)
		p.certMonitor.Watch("ca", config.CAPath)
		p.checkCertificates()
	}

	p.logs.Info("Plugin initialised", map[string]interface{}{
		"url":            config.URL,
		"retry_interval": config.RetryInterval.String(),
	})

	return p, nil
}

// checkCertificates warns about expired or soon expiring mTLS certificates.
func (p *Plugin) checkCertificates() {
	if err := p.certMonitor.Scan(); err != nil {
		p.logs.Warn("Certificate scan failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	for _, c := range p.certMonitor.GetExpiredCertificates() {
		p.logs.Error("Certificate expired", map[string]interface{}{
			"purpose":     c.Purpose,
			"path":        c.Path,
			"valid_until": c.ValidUntil.Format("2006-01-02"),
		})
	}

	for _, c := range p.certMonitor.GetExpiringCertificates(standard.ExpiryWarningDays) {
		p.logs.Warn("Certificate expiring soon", map[string]interface{}{
			"purpose":           c.Purpose,
			"path":              c.Path,
			"days_until_expiry": c.DaysUntilExpiry,
		})
	}
}

// Logs returns the logs component.
func (p *Plugin) Logs() *standard.RecentLogs {
	return p.logs
}

// Connectivity returns the connectivity tracker of the debugger client.
func (p *Plugin) Connectivity() *standard.ConnectivityTracker {
	return p.connectivity
}

// Certificates returns the certificate monitor.
func (p *Plugin) Certificates() *standard.CertificateMonitor {
	return p.certMonitor
}

// DebuggerInfo describes the debugger of the running session. Returns nil
// when idle.
func (p *Plugin) DebuggerInfo() *standard.DebuggerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info
}

// current returns the running session or nil.
func (p *Plugin) current() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

// CurrentSyncState returns Idle, Syncing or Muted.
func (p *Plugin) CurrentSyncState() SyncState {
	if s := p.current(); s != nil {
		return s.State()
	}
	return Idle
}

// Snapshot returns a copy of the session state. The zero snapshot with state
// Idle is returned when no session is running.
func (p *Plugin) Snapshot() SessionSnapshot {
	if s := p.current(); s != nil {
		return s.Snapshot()
	}
	return SessionSnapshot{State: Idle}
}

// WriteStateGraph writes the session snapshot as a graphviz graph.
func (p *Plugin) WriteStateGraph(w io.Writer) {
	snap := p.Snapshot()
	memviz.Map(w, &snap)
}

// RegisterSyncCallback adds a callback run after every poll that reported a
// program counter. A callback that is not persistent runs once.
func (p *Plugin) RegisterSyncCallback(cb registry.Callback, persistent bool) (registry.ID, error) {
	return p.registry.Register(cb, persistent)
}

// UnregisterSyncCallback removes a callback.
func (p *Plugin) UnregisterSyncCallback(id registry.ID) bool {
	return p.registry.Unregister(id)
}

// Start queries the debugger version and starts synchronising.
func (p *Plugin) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session != nil {
		p.host.Alert("Already synchronising with the debugger")
		return ErrAlreadySyncing
	}

	ctx := context.Background()
	v, err := p.fetchVersion(ctx)
	if err != nil {
		p.failed("Couldn't connect to the debugger", err, nil)
		return fmt.Errorf("failed to query debugger version: %w", err)
	}

	kind, err := breakpoint.ParseHostKind(v.HostVersion)
	if err != nil {
		p.logs.Warn("Breakpoint actions unavailable", map[string]interface{}{
			"host_version": v.HostVersion,
			"error":        err.Error(),
		})
	}

	info := standard.NewDebuggerInfo(p.config.URL, *v, kind.String())
	if !info.Supported() {
		p.logs.Warn("Debugger API older than supported", map[string]interface{}{
			"api_version":     info.APIVersion,
			"min_api_version": standard.MinAPIVersion,
		})
	}

	p.generation++
	s := newSession(p, p.generation, *v, kind)

	p.host.RegisterEditNotification(s)
	if err := p.transport.StartPolling(s.nextPoll, s.handlePoll); err != nil {
		p.host.UnregisterEditNotification(s)
		s.close()
		p.failed("Couldn't start synchronising with the debugger", err, nil)
		return fmt.Errorf("failed to start polling: %w", err)
	}

	p.session = s
	p.info = info

	p.logs.Info("Started synchronising with the debugger", map[string]interface{}{
		"session":      s.generation,
		"host_version": v.HostVersion,
		"host_kind":    kind.String(),
		"api_version":  info.APIVersion,
	})

	return nil
}

// Stop halts the poll loop and restores every highlight the session
// applied. It does not wait for a poll in flight; its result is discarded.
func (p *Plugin) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.session
	if s == nil {
		p.host.Alert("Not synchronising with the debugger")
		return ErrNotSyncing
	}

	p.session = nil
	p.info = nil

	p.transport.StopPolling()
	p.host.UnregisterEditNotification(s)
	s.close()

	p.logs.Info("Stopped synchronising with the debugger", map[string]interface{}{
		"session": s.generation,
	})

	return nil
}

// SetBreakpoint sets a breakpoint in the debugger at a view-space address
// and highlights it once the debugger has accepted it.
func (p *Plugin) SetBreakpoint(addr types.Address) error {
	err := p.setBreakpoint(context.Background(), addr)
	if err != nil {
		p.failed("Failed to set breakpoint", err, map[string]interface{}{"address": addr.String()})
	}
	return err
}

func (p *Plugin) setBreakpoint(ctx context.Context, addr types.Address) error {
	if s := p.current(); s != nil {
		if ok, err := s.setBreakpoint(ctx, addr); ok {
			return err
		}
	}

	// no session: no slide and no baseline to keep
	kind, err := p.hostKind(ctx)
	if err != nil {
		return err
	}
	cmd, err := breakpoint.SetCommand(kind, addr)
	if err != nil {
		return err
	}
	if _, err := p.command(ctx, cmd); err != nil {
		return err
	}
	if err := p.refresh(ctx); err != nil {
		return err
	}

	highlight.Apply(p.host, addr, p.config.BreakpointColor)
	return nil
}

// DeleteBreakpoint deletes the debugger breakpoint with a location at a
// view-space address and clears its highlight.
func (p *Plugin) DeleteBreakpoint(addr types.Address) error {
	err := p.deleteBreakpoint(context.Background(), addr)
	if err != nil {
		p.failed("Failed to delete breakpoint", err, map[string]interface{}{"address": addr.String()})
	}
	return err
}

func (p *Plugin) deleteBreakpoint(ctx context.Context, addr types.Address) error {
	if s := p.current(); s != nil {
		if ok, err := s.deleteBreakpoint(ctx, addr); ok {
			return err
		}
	}

	kind, err := p.hostKind(ctx)
	if err != nil {
		return err
	}
	if !kind.Supported() {
		return breakpoint.ErrUnsupportedHost
	}
	id, err := p.resolveID(ctx, addr, address.None)
	if err != nil {
		return err
	}
	cmd, err := breakpoint.DeleteCommand(kind, id)
	if err != nil {
		return err
	}
	if _, err := p.command(ctx, cmd); err != nil {
		return err
	}
	if err := p.refresh(ctx); err != nil {
		return err
	}

	highlight.Apply(p.host, addr, types.NoHighlight)
	return nil
}

// SetSlide pairs a view-space address with the debugger's program counter.
func (p *Plugin) SetSlide(viewAddr types.Address) error {
	ctx := context.Background()

	s := p.current()
	if s == nil {
		p.failed("Failed to set slide", ErrNotSyncing, nil)
		return ErrNotSyncing
	}

	live, err := s.setSlide(ctx, viewAddr)
	if err != nil {
		p.failed("Failed to set slide", err, map[string]interface{}{"address": viewAddr.String()})
		return err
	}

	if live {
		s.pollNow(ctx)
	}
	return nil
}

// ClearSlide sets the slide back to zero.
func (p *Plugin) ClearSlide() {
	if s := p.current(); s != nil {
		s.clearSlide()
	}
}

// CustomRequest passes a request through to the debugger and refreshes the
// debugger's views afterwards. The result is returned even when the request
// failed; a failure is also reported as an error status in the result.
func (p *Plugin) CustomRequest(ctx context.Context, kind types.RequestKind, args map[string]interface{}, alertOnFailure bool) *types.Result {
	res, err := p.customRequest(ctx, kind, args)
	if err == nil {
		return res
	}

	if alertOnFailure {
		p.failed(fmt.Sprintf("Request %s failed", kind), err, nil)
	} else {
		p.logs.Warn("Request failed", map[string]interface{}{
			"kind":  string(kind),
			"error": err.Error(),
		})
	}

	if res == nil {
		res = &types.Result{
			Kind:   kind,
			Status: types.StatusError,
			Err:    &types.APIError{Message: err.Error()},
		}
	}
	return res
}

func (p *Plugin) customRequest(ctx context.Context, kind types.RequestKind, args map[string]interface{}) (*types.Result, error) {
	hk, err := p.hostKind(ctx)
	if err != nil {
		return nil, err
	}
	if !hk.Supported() {
		return nil, breakpoint.ErrUnsupportedHost
	}

	res, err := p.request(ctx, types.NewRequest(kind, false, args))
	if err != nil {
		return res, err
	}

	if err := p.refresh(ctx); err != nil {
		p.logs.Warn("Failed to refresh debugger views", map[string]interface{}{
			"kind":  string(kind),
			"error": err.Error(),
		})
	}
	return res, nil
}

// failed logs a failed user action and alerts the user with one message
// naming the action.
func (p *Plugin) failed(action string, err error, details map[string]interface{}) {
	if details == nil {
		details = make(map[string]interface{})
	}
	details["error"] = err.Error()
	p.logs.Error(action, details)
	p.host.Alert(fmt.Sprintf("%s: %v", action, err))
}

// request performs a request and turns an error status into an error, for
// transports that only report it in the result.
func (p *Plugin) request(ctx context.Context, req types.Request) (*types.Result, error) {
	res, err := p.transport.Request(ctx, req)
	if err != nil {
		return res, err
	}
	if res == nil {
		return nil, &transport.Error{Kind: req.Kind, Err: errMissingResult}
	}
	if res.IsError() {
		return res, &transport.Error{Kind: req.Kind, Result: res}
	}
	return res, nil
}

func (p *Plugin) command(ctx context.Context, cmd string) (*types.Result, error) {
	return p.request(ctx, types.NewRequest(types.KindCommand, false, map[string]interface{}{"command": cmd}))
}

// refresh asks the debugger to redraw its views.
func (p *Plugin) refresh(ctx context.Context) error {
	_, err := p.command(ctx, breakpoint.RefreshCommand)
	return err
}

func (p *Plugin) resolveID(ctx context.Context, addr types.Address, slide address.Slide) (int, error) {
	res, err := p.request(ctx, types.NewRequest(types.KindBreakpoints, false, nil))
	if err != nil {
		return 0, err
	}
	return breakpoint.ResolveID(res.Breakpoints, addr, slide)
}

func (p *Plugin) fetchVersion(ctx context.Context) (*types.Version, error) {
	res, err := p.request(ctx, types.NewRequest(types.KindVersion, false, nil))
	if err != nil {
		return nil, err
	}
	if res.Version == nil {
		return nil, errors.New("debugger sent an empty version")
	}
	return res.Version, nil
}

// hostKind returns the dialect of the running session. When idle the
// debugger is asked again every time, it may have been swapped for another.
func (p *Plugin) hostKind(ctx context.Context) (breakpoint.HostKind, error) {
	p.mu.Lock()
	if p.session != nil {
		kind := p.session.hostKind
		p.mu.Unlock()
		return kind, nil
	}
	p.mu.Unlock()

	v, err := p.fetchVersion(ctx)
	if err != nil {
		return breakpoint.Unsupported, err
	}
	kind, _ := breakpoint.ParseHostKind(v.HostVersion)
	return kind, nil
}
