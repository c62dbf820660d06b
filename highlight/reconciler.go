// Package highlight keeps the analysis view's instruction highlights in step
// with the debugger's breakpoints and program counter.
//
// All addresses held by the Reconciler are in view space. Addresses arriving
// from the debugger are translated with the slide given in each Input.
//
// Two colours are managed. The breakpoint colour marks every address in the
// breakpoint baseline. The program counter colour marks exactly one address;
// the colour that was there before it was painted is saved and put back when
// the PC moves on. When a breakpoint is added or removed at the address
// currently holding the PC colour, the saved colour is updated instead of the
// visible one, so that the PC highlight is not disturbed and the right colour
// comes back when the PC leaves.
package highlight

import (
	"sort"

	"github.com/st-keller/binjatron/address"
	"github.com/st-keller/binjatron/types"
)

// View is the part of the analysis-view host the reconciler paints on.
type View interface {
	// FunctionContaining returns the function at or before the address.
	FunctionContaining(addr types.Address) (types.Function, bool)

	Highlight(fn types.Function, addr types.Address) types.Color
	SetHighlight(fn types.Function, addr types.Address, c types.Color)
}

// Colors used for the two kinds of highlight.
type Colors struct {
	Breakpoint types.Color
	PC         types.Color
}

// Input is the state reported by one poll of the debugger.
type Input struct {
	Slide address.Slide

	// program counter in debugger space
	PC    types.Address
	HasPC bool

	// the debugger reported that no process is being debugged
	NoTarget bool

	// breakpoint location addresses in debugger space. HasBreakpoints is
	// false when the listing was not available in this poll, in which case
	// the baseline is left alone.
	Breakpoints    []types.Address
	HasBreakpoints bool
}

// Outcome describes what an Update did. Added and Removed are in view space.
type Outcome struct {
	Added   []types.Address
	Removed []types.Address

	// the debugger reported no breakpoints while the baseline is not empty.
	// the baseline has not been touched; the caller must resolve this with
	// Restore() or Discard(). Previous holds the baseline.
	Ambiguous bool
	Previous  []types.Address

	PCMoved   bool
	PCCleared bool
}

// Reconciler owns the highlight state of a sync session. It is not safe for
// concurrent use.
type Reconciler struct {
	view   View
	colors Colors

	// the last accepted breakpoint set
	breakpoints map[types.Address]struct{}

	// the address holding the PC colour and the colour it had before
	pc      types.Address
	pcSaved types.Color
	hasPC   bool
}

// NewReconciler creates a Reconciler painting on view.
func NewReconciler(view View, colors Colors) *Reconciler {
	return &Reconciler{
		view:        view,
		colors:      colors,
		breakpoints: make(map[types.Address]struct{}),
	}
}

// Update applies one poll's worth of debugger state.
func (r *Reconciler) Update(in Input) Outcome {
	var out Outcome

	if in.HasBreakpoints {
		next := make(map[types.Address]struct{}, len(in.Breakpoints))
		for _, a := range in.Breakpoints {
			next[in.Slide.ToView(a)] = struct{}{}
		}

		if len(next) == 0 && len(r.breakpoints) > 0 {
			out.Ambiguous = true
			out.Previous = r.Breakpoints()
		} else {
			for a := range next {
				if _, ok := r.breakpoints[a]; !ok {
					r.paint(a)
					out.Added = append(out.Added, a)
				}
			}
			for a := range r.breakpoints {
				if _, ok := next[a]; !ok {
					r.unpaint(a)
					out.Removed = append(out.Removed, a)
				}
			}
			r.breakpoints = next
			sortAddresses(out.Added)
			sortAddresses(out.Removed)
		}
	}

	if in.HasPC {
		r.movePC(in.Slide.ToView(in.PC))
		out.PCMoved = true
	} else if in.NoTarget || (in.HasBreakpoints && len(in.Breakpoints) == 0) {
		out.PCCleared = r.ClearPC()
	}

	return out
}

// Restore keeps the baseline after an ambiguous update was resolved by putting
// the breakpoints back into the debugger. The highlights are still in place so
// there is nothing to paint.
func (r *Reconciler) Restore() []types.Address {
	return r.Breakpoints()
}

// Discard clears the highlights of the whole baseline and empties it.
func (r *Reconciler) Discard() []types.Address {
	removed := r.Breakpoints()
	for _, a := range removed {
		r.unpaint(a)
	}
	r.breakpoints = make(map[types.Address]struct{})
	return removed
}

// Mark adds a view-space address to the baseline and paints it.
func (r *Reconciler) Mark(a types.Address) {
	if _, ok := r.breakpoints[a]; ok {
		return
	}
	r.breakpoints[a] = struct{}{}
	r.paint(a)
}

// Unmark removes a view-space address from the baseline and clears it.
func (r *Reconciler) Unmark(a types.Address) {
	if _, ok := r.breakpoints[a]; !ok {
		return
	}
	delete(r.breakpoints, a)
	r.unpaint(a)
}

// ClearPC puts back the colour saved at the PC address and forgets the PC.
// Returns true if there was a PC to clear.
func (r *Reconciler) ClearPC() bool {
	if !r.hasPC {
		return false
	}
	if fn, ok := r.view.FunctionContaining(r.pc); ok {
		r.view.SetHighlight(fn, r.pc, r.pcSaved)
	}
	r.hasPC = false
	r.pcSaved = types.NoHighlight
	return true
}

// Reset removes every highlight applied by the reconciler and empties its
// state.
func (r *Reconciler) Reset() {
	r.ClearPC()
	r.Discard()
}

// Breakpoints returns the baseline in ascending order.
func (r *Reconciler) Breakpoints() []types.Address {
	addrs := make([]types.Address, 0, len(r.breakpoints))
	for a := range r.breakpoints {
		addrs = append(addrs, a)
	}
	sortAddresses(addrs)
	return addrs
}

// PC returns the view-space address currently holding the PC colour.
func (r *Reconciler) PC() (types.Address, bool) {
	return r.pc, r.hasPC
}

// SavedPCColor returns the colour that will be put back when the PC moves.
func (r *Reconciler) SavedPCColor() types.Color {
	return r.pcSaved
}

func (r *Reconciler) movePC(a types.Address) {
	r.ClearPC()

	fn, ok := r.view.FunctionContaining(a)
	if !ok {
		return
	}
	r.pcSaved = r.view.Highlight(fn, a)
	r.pc = a
	r.hasPC = true
	r.view.SetHighlight(fn, a, r.colors.PC)
}

func (r *Reconciler) paint(a types.Address) {
	if r.hasPC && r.pc == a {
		r.pcSaved = r.colors.Breakpoint
		return
	}
	if fn, ok := r.view.FunctionContaining(a); ok {
		r.view.SetHighlight(fn, a, r.colors.Breakpoint)
	}
}

func (r *Reconciler) unpaint(a types.Address) {
	if r.hasPC && r.pc == a {
		r.pcSaved = types.NoHighlight
		return
	}
	if fn, ok := r.view.FunctionContaining(a); ok {
		r.view.SetHighlight(fn, a, types.NoHighlight)
	}
}

func sortAddresses(addrs []types.Address) {
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
}

// Apply sets a single highlight directly, skipping addresses outside any
// function. It is used for breakpoint actions made while no session is
// tracking highlights.
func Apply(view View, a types.Address, c types.Color) bool {
	fn, ok := view.FunctionContaining(a)
	if !ok {
		return false
	}
	view.SetHighlight(fn, a, c)
	return true
}
