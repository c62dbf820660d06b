package highlight_test

import (
	"fmt"
	"testing"

	"github.com/st-keller/binjatron/highlight"
	"github.com/st-keller/binjatron/test"
	"github.com/st-keller/binjatron/types"
)

type function struct {
	start, end types.Address
}

func (f function) Name() string {
	return fmt.Sprintf("sub_%x", uint64(f.start))
}

// view is an analysis view with a single function covering 0x1000 to 0x8000.
// every SetHighlight is recorded.
type view struct {
	fns    []function
	colors map[types.Address]types.Color
	ops    []string
}

func newView() *view {
	return &view{
		fns:    []function{{start: 0x1000, end: 0x8000}},
		colors: make(map[types.Address]types.Color),
	}
}

func (v *view) FunctionContaining(a types.Address) (types.Function, bool) {
	for _, f := range v.fns {
		if a >= f.start && a < f.end {
			return f, true
		}
	}
	return nil, false
}

func (v *view) Highlight(_ types.Function, a types.Address) types.Color {
	return v.colors[a]
}

func (v *view) SetHighlight(_ types.Function, a types.Address, c types.Color) {
	v.ops = append(v.ops, fmt.Sprintf("%s=%s", a, c))
	if c == types.NoHighlight {
		delete(v.colors, a)
		return
	}
	v.colors[a] = c
}

// the addresses holding colour c
func (v *view) holding(c types.Color) map[types.Address]bool {
	m := make(map[types.Address]bool)
	for a, hc := range v.colors {
		if hc == c {
			m[a] = true
		}
	}
	return m
}

var colors = highlight.Colors{Breakpoint: types.Red, PC: types.Green}

func bps(addrs ...types.Address) highlight.Input {
	return highlight.Input{Breakpoints: addrs, HasBreakpoints: true}
}

func TestBreakpointDiff(t *testing.T) {
	v := newView()
	r := highlight.NewReconciler(v, colors)

	out := r.Update(bps(0x1000, 0x2000))
	test.ExpectEquality(t, len(out.Added), 2)

	v.ops = nil
	out = r.Update(bps(0x2000, 0x3000))
	test.DemandEquality(t, len(v.ops), 2)
	test.ExpectEquality(t, v.ops[0], "0x3000=red")
	test.ExpectEquality(t, v.ops[1], "0x1000=none")
	test.DemandEquality(t, len(out.Added), 1)
	test.DemandEquality(t, len(out.Removed), 1)
	test.ExpectEquality(t, out.Added[0], types.Address(0x3000))
	test.ExpectEquality(t, out.Removed[0], types.Address(0x1000))

	h := v.holding(types.Red)
	test.ExpectEquality(t, len(h), 2)
	test.ExpectEquality(t, h[0x2000], true)
	test.ExpectEquality(t, h[0x3000], true)
}

func TestBreakpointSetMatchesLastPoll(t *testing.T) {
	v := newView()
	r := highlight.NewReconciler(v, colors)

	polls := [][]types.Address{
		{0x1000},
		{0x1000, 0x1004, 0x1008},
		{0x1008, 0x2000},
		{0x2000, 0x2000, 0x3000},
		{0x1000, 0x3000},
		{0x4000},
	}

	for i, p := range polls {
		r.Update(bps(p...))
		h := v.holding(types.Red)
		want := make(map[types.Address]bool)
		for _, a := range p {
			want[a] = true
		}
		test.ExpectEquality(t, len(h), len(want), "poll", i)
		for a := range want {
			test.ExpectEquality(t, h[a], true, "poll", i, a)
		}
		test.ExpectEquality(t, len(r.Breakpoints()), len(want), "poll", i)
	}
}

func TestSlideTranslation(t *testing.T) {
	v := newView()
	r := highlight.NewReconciler(v, colors)

	r.Update(highlight.Input{Slide: 0x10, PC: 0x4010, HasPC: true})

	pc, ok := r.PC()
	test.ExpectEquality(t, ok, true)
	test.ExpectEquality(t, pc, types.Address(0x4000))
	test.ExpectEquality(t, v.colors[0x4000], types.Green)
	_, painted := v.colors[0x4010]
	test.ExpectEquality(t, painted, false)

	r.Update(highlight.Input{Slide: 0x10, Breakpoints: []types.Address{0x2010}, HasBreakpoints: true})
	test.ExpectEquality(t, v.colors[0x2000], types.Red)
}

func TestPCRestoresSavedColor(t *testing.T) {
	v := newView()
	v.colors[0x1100] = types.Yellow
	r := highlight.NewReconciler(v, colors)

	r.Update(highlight.Input{PC: 0x1100, HasPC: true})
	test.ExpectEquality(t, v.colors[0x1100], types.Green)
	test.ExpectEquality(t, r.SavedPCColor(), types.Yellow)

	r.Update(highlight.Input{PC: 0x1104, HasPC: true})
	test.ExpectEquality(t, v.colors[0x1100], types.Yellow)
	test.ExpectEquality(t, v.colors[0x1104], types.Green)
	test.ExpectEquality(t, len(v.holding(types.Green)), 1)

	// same address twice in a row
	r.Update(highlight.Input{PC: 0x1104, HasPC: true})
	test.ExpectEquality(t, v.colors[0x1104], types.Green)
	test.ExpectEquality(t, r.SavedPCColor(), types.NoHighlight)
}

func TestPCOnBreakpoint(t *testing.T) {
	v := newView()
	r := highlight.NewReconciler(v, colors)

	r.Update(highlight.Input{Breakpoints: []types.Address{0x2000}, HasBreakpoints: true, PC: 0x2000, HasPC: true})
	test.ExpectEquality(t, v.colors[0x2000], types.Green)
	test.ExpectEquality(t, r.SavedPCColor(), types.Red)

	// PC moves away: breakpoint colour comes back
	r.Update(highlight.Input{Breakpoints: []types.Address{0x2000}, HasBreakpoints: true, PC: 0x2004, HasPC: true})
	test.ExpectEquality(t, v.colors[0x2000], types.Red)

	// breakpoint deleted while the PC sits on it
	r.Update(highlight.Input{Breakpoints: []types.Address{0x2000}, HasBreakpoints: true, PC: 0x2000, HasPC: true})
	r.Update(highlight.Input{Breakpoints: []types.Address{0x3000}, HasBreakpoints: true, PC: 0x2000, HasPC: true})
	test.ExpectEquality(t, v.colors[0x2000], types.Green)
	test.ExpectEquality(t, r.SavedPCColor(), types.NoHighlight)

	r.Update(highlight.Input{Breakpoints: []types.Address{0x3000}, HasBreakpoints: true, PC: 0x2004, HasPC: true})
	_, painted := v.colors[0x2000]
	test.ExpectEquality(t, painted, false)
}

func TestEmptyListingIsAmbiguous(t *testing.T) {
	v := newView()
	r := highlight.NewReconciler(v, colors)

	r.Update(bps(0x1000))
	out := r.Update(bps())
	test.ExpectEquality(t, out.Ambiguous, true)
	test.DemandEquality(t, len(out.Previous), 1)
	test.ExpectEquality(t, out.Previous[0], types.Address(0x1000))

	// nothing touched until the caller decides
	test.ExpectEquality(t, v.colors[0x1000], types.Red)
	test.ExpectEquality(t, len(r.Breakpoints()), 1)

	// declined
	removed := r.Discard()
	test.ExpectEquality(t, len(removed), 1)
	_, painted := v.colors[0x1000]
	test.ExpectEquality(t, painted, false)
	test.ExpectEquality(t, len(r.Breakpoints()), 0)

	// an empty listing with an empty baseline is not ambiguous
	out = r.Update(bps())
	test.ExpectEquality(t, out.Ambiguous, false)
}

func TestRestoreKeepsBaseline(t *testing.T) {
	v := newView()
	r := highlight.NewReconciler(v, colors)

	r.Update(bps(0x1000, 0x1010))
	out := r.Update(bps())
	test.ExpectEquality(t, out.Ambiguous, true)

	kept := r.Restore()
	test.ExpectEquality(t, len(kept), 2)
	test.ExpectEquality(t, len(v.holding(types.Red)), 2)
}

func TestIdleClearsPC(t *testing.T) {
	v := newView()
	r := highlight.NewReconciler(v, colors)

	r.Update(highlight.Input{PC: 0x1200, HasPC: true})
	out := r.Update(highlight.Input{NoTarget: true})
	test.ExpectEquality(t, out.PCCleared, true)
	_, ok := r.PC()
	test.ExpectEquality(t, ok, false)
	test.ExpectEquality(t, len(v.holding(types.Green)), 0)

	// no PC but a breakpoint listing: the PC is left alone
	r.Update(highlight.Input{PC: 0x1200, HasPC: true})
	out = r.Update(bps(0x1300))
	test.ExpectEquality(t, out.PCCleared, false)
	test.ExpectEquality(t, v.colors[0x1200], types.Green)
}

func TestUnresolvedAddressesAreSkipped(t *testing.T) {
	v := newView()
	r := highlight.NewReconciler(v, colors)

	r.Update(highlight.Input{Breakpoints: []types.Address{0x10, 0x9000}, HasBreakpoints: true, PC: 0x20, HasPC: true})
	test.ExpectEquality(t, len(v.ops), 0)
	test.ExpectEquality(t, len(r.Breakpoints()), 2)
	_, ok := r.PC()
	test.ExpectEquality(t, ok, false)

	r.Update(bps(0x1000))
	test.ExpectEquality(t, len(v.ops), 1)
}

func TestMarkAndReset(t *testing.T) {
	v := newView()
	v.colors[0x1500] = types.Cyan
	r := highlight.NewReconciler(v, colors)

	r.Mark(0x1400)
	r.Mark(0x1400)
	test.ExpectEquality(t, len(v.ops), 1)
	test.ExpectEquality(t, v.colors[0x1400], types.Red)

	r.Unmark(0x1400)
	r.Unmark(0x1400)
	test.ExpectEquality(t, len(v.ops), 2)

	r.Update(highlight.Input{Breakpoints: []types.Address{0x1000, 0x1500}, HasBreakpoints: true, PC: 0x1500, HasPC: true})
	r.Reset()
	test.ExpectEquality(t, len(v.holding(types.Red)), 0)
	test.ExpectEquality(t, len(v.holding(types.Green)), 0)
	test.ExpectEquality(t, len(r.Breakpoints()), 0)
	_, ok := r.PC()
	test.ExpectEquality(t, ok, false)

	// the PC sat on a breakpoint painted over cyan, which is gone for good
	_, painted := v.colors[0x1500]
	test.ExpectEquality(t, painted, false)
}

func TestApply(t *testing.T) {
	v := newView()
	test.ExpectEquality(t, highlight.Apply(v, 0x1000, types.Red), true)
	test.ExpectEquality(t, highlight.Apply(v, 0x10, types.Red), false)
	test.ExpectEquality(t, v.colors[0x1000], types.Red)
}
