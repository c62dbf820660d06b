package binjatron

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/st-keller/binjatron/address"
	"github.com/st-keller/binjatron/breakpoint"
	"github.com/st-keller/binjatron/highlight"
	"github.com/st-keller/binjatron/muter"
	"github.com/st-keller/binjatron/transport"
	"github.com/st-keller/binjatron/types"
)

var errMissingResult = errors.New("poll cycle returned no result")

// Session is one period of synchronisation, from Plugin.Start to
// Plugin.Stop. A stopped session is never reused. Poll results that arrive
// after it was stopped are discarded.
//
// Every field below mu is owned by the session and only touched with mu
// held. Blocking requests made on behalf of user actions hold mu too, so the
// poll loop never sees half-applied state.
type Session struct {
	plugin *Plugin

	// fixed for the lifetime of the session
	generation int
	version    types.Version
	hostKind   breakpoint.HostKind

	mu     sync.Mutex
	state  SyncState
	closed bool

	muter      *muter.Muter
	reconciler *highlight.Reconciler
	slide      address.Slide

	// last program counter reported by the debugger, in debugger space
	lastPC    types.Address
	hasLastPC bool

	polls int

	// the user is being asked whether to restore the breakpoints
	confirming bool
}

// SessionSnapshot is a copy of the session state. Nothing in it is shared
// with the session.
type SessionSnapshot struct {
	State        SyncState
	Generation   int
	HostVersion  string
	HostKind     string
	Slide        address.Slide
	PC           types.Address
	HasPC        bool
	SavedPCColor types.Color
	Breakpoints  []types.Address
	Polls        int
	Failures     int
}

func newSession(p *Plugin, generation int, v types.Version, kind breakpoint.HostKind) *Session {
	s := &Session{
		plugin:     p,
		generation: generation,
		version:    v,
		hostKind:   kind,
		state:      Idle,
		muter:      muter.New(),
		reconciler: highlight.NewReconciler(p.host, highlight.Colors{
			Breakpoint: p.config.BreakpointColor,
			PC:         p.config.PCColor,
		}),
	}
	s.setState(Syncing)
	return s
}

// State returns the current sync state.
func (s *Session) State() SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	pc, hasPC := s.reconciler.PC()
	return SessionSnapshot{
		State:        s.state,
		Generation:   s.generation,
		HostVersion:  s.version.HostVersion,
		HostKind:     s.hostKind.String(),
		Slide:        s.slide,
		PC:           pc,
		HasPC:        hasPC,
		SavedPCColor: s.reconciler.SavedPCColor(),
		Breakpoints:  s.reconciler.Breakpoints(),
		Polls:        s.polls,
		Failures:     s.muter.Failures(),
	}
}

// setState changes state through the transition table. Must be called with
// mu held.
func (s *Session) setState(to SyncState) {
	st, err := transition(s.state, to)
	if err != nil {
		s.plugin.logs.Warn("Sync state unchanged", map[string]interface{}{
			"error":   err.Error(),
			"session": s.generation,
		})
		return
	}
	s.state = st
}

// pollRequests builds the requests of one poll cycle. block asks the
// debugger to answer only when its state changes.
func pollRequests(block bool) []types.Request {
	return []types.Request{
		types.NewRequest(types.KindRegisters, block, map[string]interface{}{"registers": []string{"pc"}}),
		types.NewRequest(types.KindBreakpoints, block, nil),
	}
}

// nextPoll is the transport.RequestBuilder of the poll loop.
func (s *Session) nextPoll() []types.Request {
	return pollRequests(true)
}

// cycleError decides whether a poll cycle failed. A debugger with no process
// to debug answers with an error status; that is a valid state and not a
// failure.
func cycleError(results []*types.Result, err error) error {
	for _, r := range results {
		switch {
		case r == nil:
			if err == nil {
				err = errMissingResult
			}
			return err
		case r.IsError() && !r.IsNoSuchTarget():
			if err == nil || transport.IsNoSuchTarget(err) {
				err = &transport.Error{Kind: r.Kind, Result: r}
			}
			return err
		}
	}

	if len(results) == 0 && err == nil {
		return errMissingResult
	}
	if err != nil && !transport.IsNoSuchTarget(err) {
		return err
	}
	return nil
}

// handlePoll is the transport.Callback of the poll loop.
func (s *Session) handlePoll(results []*types.Result, err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.polls++

	if err := cycleError(results, err); err != nil {
		alert := s.pollFailed(err)
		s.mu.Unlock()

		if alert != "" {
			s.plugin.host.Alert(alert)
		}
		return
	}

	s.pollSucceeded()

	out := s.reconciler.Update(s.input(results))
	if len(out.Added) > 0 || len(out.Removed) > 0 {
		s.plugin.logs.Debug("Breakpoint highlights updated", map[string]interface{}{
			"added":   len(out.Added),
			"removed": len(out.Removed),
			"session": s.generation,
		})
	}

	ambiguous := out.Ambiguous && !s.confirming
	if ambiguous {
		s.confirming = true
	}
	s.mu.Unlock()

	if ambiguous {
		s.resolveAmbiguity(out.Previous)
	}

	// Stop may have run while the lock was released
	if out.PCMoved && !s.isClosed() {
		s.plugin.registry.Dispatch(results)
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// pollFailed returns the alert to raise, if any. Must be called with mu held.
func (s *Session) pollFailed(err error) string {
	d := s.muter.OnError()

	if d.Log {
		s.plugin.logs.Error("Error synchronising with the debugger", map[string]interface{}{
			"error":    err.Error(),
			"failures": s.muter.Failures(),
			"session":  s.generation,
		})
	}

	if d.Suspend {
		s.setState(Muted)
		return fmt.Sprintf("Lost connection to the debugger after %d attempts, retrying quietly", s.muter.Failures())
	}

	return ""
}

// pollSucceeded must be called with mu held.
func (s *Session) pollSucceeded() {
	d := s.muter.OnSuccess()
	if !d.Resume {
		return
	}

	s.setState(Syncing)
	s.plugin.logs.Info("Synchronisation restored", map[string]interface{}{
		"attempts": d.Attempts,
		"session":  s.generation,
	})
}

// input turns poll results into reconciler input and remembers the program
// counter. Must be called with mu held.
func (s *Session) input(results []*types.Result) highlight.Input {
	in := highlight.Input{Slide: s.slide}

	for _, r := range results {
		switch r.Kind {
		case types.KindRegisters:
			if r.IsNoSuchTarget() {
				in.NoTarget = true
				continue
			}
			if pc, ok := r.PC(); ok {
				in.PC, in.HasPC = pc, true
				s.lastPC, s.hasLastPC = pc, true
			}
		case types.KindBreakpoints:
			if r.IsNoSuchTarget() {
				in.NoTarget = true
				continue
			}
			in.Breakpoints = types.Addresses(r.Breakpoints)
			in.HasBreakpoints = true
		}
	}

	return in
}

// resolveAmbiguity asks the user what an empty breakpoint listing means. It
// is called without mu held so that the host can run its dialog.
func (s *Session) resolveAmbiguity(previous []types.Address) {
	addrs := make([]string, len(previous))
	for i, a := range previous {
		addrs[i] = a.String()
	}
	restore := s.plugin.host.Confirm("Restore breakpoints?",
		fmt.Sprintf("The debugger reports no breakpoints. Set the %d previously known breakpoints again (%s)?",
			len(previous), strings.Join(addrs, ", ")))

	if alert := s.applyResolution(previous, restore); alert != "" {
		s.plugin.host.Alert(alert)
	}
}

// applyResolution restores or discards the baseline and returns the alert to
// raise, if any. Only addresses the debugger accepted stay highlighted.
func (s *Session) applyResolution(previous []types.Address, restore bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.confirming = false
	if s.closed {
		return ""
	}

	if !restore {
		removed := s.reconciler.Discard()
		s.plugin.logs.Info("Breakpoints discarded", map[string]interface{}{
			"count":   len(removed),
			"session": s.generation,
		})
		return ""
	}

	ctx := context.Background()
	var restored, failed []types.Address
	for _, a := range previous {
		if err := s.sendSet(ctx, a); err != nil {
			failed = append(failed, a)
			s.plugin.logs.Error("Failed to restore breakpoint", map[string]interface{}{
				"address": a.String(),
				"error":   err.Error(),
			})
			continue
		}
		restored = append(restored, a)
	}

	if len(restored) > 0 {
		if err := s.plugin.refresh(ctx); err != nil {
			s.plugin.logs.Error("Failed to refresh debugger views", map[string]interface{}{
				"error":   err.Error(),
				"session": s.generation,
			})
			failed = append(failed, restored...)
			restored = nil
		}
	}

	if len(restored) == 0 {
		s.reconciler.Discard()
	} else {
		for _, a := range failed {
			s.reconciler.Unmark(a)
		}
	}

	s.plugin.logs.Info("Breakpoints restored", map[string]interface{}{
		"count":   len(s.reconciler.Restore()),
		"failed":  len(failed),
		"session": s.generation,
	})

	if len(failed) == 0 {
		return ""
	}
	return fmt.Sprintf("Failed to restore breakpoints: %d of %d could not be set", len(failed), len(previous))
}

// sendSet sets a breakpoint in the debugger at a view-space address. Must be
// called with mu held.
func (s *Session) sendSet(ctx context.Context, a types.Address) error {
	cmd, err := breakpoint.SetCommand(s.hostKind, s.slide.ToDebugger(a))
	if err != nil {
		return err
	}
	_, err = s.plugin.command(ctx, cmd)
	return err
}

// setBreakpoint returns false if the session has been stopped and the
// action was not attempted.
func (s *Session) setBreakpoint(ctx context.Context, a types.Address) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, nil
	}

	if err := s.sendSet(ctx, a); err != nil {
		return true, err
	}
	if err := s.plugin.refresh(ctx); err != nil {
		return true, err
	}

	s.reconciler.Mark(a)
	return true, nil
}

// deleteBreakpoint returns false if the session has been stopped and the
// action was not attempted.
func (s *Session) deleteBreakpoint(ctx context.Context, a types.Address) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, nil
	}

	if !s.hostKind.Supported() {
		return true, fmt.Errorf("%w: %q", breakpoint.ErrUnsupportedHost, s.version.HostVersion)
	}

	id, err := s.plugin.resolveID(ctx, a, s.slide)
	if err != nil {
		return true, err
	}
	cmd, err := breakpoint.DeleteCommand(s.hostKind, id)
	if err != nil {
		return true, err
	}
	if _, err := s.plugin.command(ctx, cmd); err != nil {
		return true, err
	}
	if err := s.plugin.refresh(ctx); err != nil {
		return true, err
	}

	s.reconciler.Unmark(a)
	return true, nil
}

// setSlide pairs viewAddr with the debugger's program counter. It returns
// true if the debugger supports live register reads, in which case the
// caller should poll once more so that the highlights move at once.
func (s *Session) setSlide(ctx context.Context, viewAddr types.Address) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrNotSyncing
	}

	live := s.version.HasCapability(types.CapAsync)

	var pc types.Address
	found := false
	if live {
		res, err := s.plugin.request(ctx, types.NewRequest(types.KindRegisters, false,
			map[string]interface{}{"registers": []string{"pc"}}))
		switch {
		case err == nil:
			pc, found = res.PC()
		case transport.IsNoSuchTarget(err):
		default:
			return false, fmt.Errorf("failed to read program counter: %w", err)
		}
	}

	if found {
		s.lastPC, s.hasLastPC = pc, true
	} else {
		if !s.hasLastPC {
			return false, ErrNoSlideReference
		}
		pc = s.lastPC
	}

	s.slide = address.Compute(pc, viewAddr)
	s.plugin.logs.Info("Slide set", map[string]interface{}{
		"slide":   s.slide.String(),
		"pc":      pc.String(),
		"address": viewAddr.String(),
		"session": s.generation,
	})

	return live, nil
}

// clearSlide sets the slide back to zero. Highlights already applied are
// left where they are until the next poll.
func (s *Session) clearSlide() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.slide == address.None {
		return
	}
	s.slide = address.None
	s.plugin.logs.Info("Slide cleared", map[string]interface{}{
		"session": s.generation,
	})
}

// pollNow runs one non-blocking poll cycle outside the poll loop.
func (s *Session) pollNow(ctx context.Context) {
	reqs := pollRequests(false)
	results := make([]*types.Result, len(reqs))

	var first error
	for i, req := range reqs {
		res, err := s.plugin.transport.Request(ctx, req)
		results[i] = res
		if err != nil && first == nil {
			first = err
		}
	}

	s.handlePoll(results, first)
}

// OnHostEdit writes bytes the user changed in the view to the debugged
// process. The view has already committed the edit, so failures are logged
// and never undone.
func (s *Session) OnHostEdit(offset types.Address, length int, data []byte) {
	if length >= 0 && length < len(data) {
		data = data[:length]
	}
	if len(data) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	addr := s.slide.ToDebugger(offset)
	ctx := context.Background()

	_, err := s.plugin.request(ctx, types.NewRequest(types.KindWriteMemory, false, map[string]interface{}{
		"address": uint64(addr),
		"value":   hex.EncodeToString(data),
	}))
	if err != nil {
		s.plugin.logs.Error("Failed to write memory", map[string]interface{}{
			"address": addr.String(),
			"length":  len(data),
			"error":   err.Error(),
		})
		return
	}

	if err := s.plugin.refresh(ctx); err != nil {
		s.plugin.logs.Error("Failed to refresh debugger views", map[string]interface{}{
			"address": addr.String(),
			"error":   err.Error(),
		})
	}
}

// close restores every highlight and resets the session state. Only the
// first call has an effect.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true

	s.reconciler.Reset()
	s.slide = address.None
	s.hasLastPC = false
	s.muter.Reset()
	s.setState(Idle)
}
