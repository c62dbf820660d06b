// Package address translates between debugger and analysis-view addresses.
package address

import (
	"fmt"

	"github.com/st-keller/binjatron/types"
)

// Slide is the signed offset between the two address spaces:
//
//	view     = debugger - slide
//	debugger = view + slide
//
// The arithmetic wraps so that a round trip through both translations
// returns the original address for every slide value.
type Slide int64

// None is the zero slide (no translation).
const None Slide = 0

// Compute returns the slide that maps viewAddr onto debuggerPC.
func Compute(debuggerPC, viewAddr types.Address) Slide {
	return Slide(uint64(debuggerPC) - uint64(viewAddr))
}

// ToView converts a debugger-space address into view space.
func (s Slide) ToView(a types.Address) types.Address {
	return types.Address(uint64(a) - uint64(s))
}

// ToDebugger converts a view-space address into debugger space.
func (s Slide) ToDebugger(a types.Address) types.Address {
	return types.Address(uint64(a) + uint64(s))
}

// ToViewAll converts a list of debugger-space addresses.
func (s Slide) ToViewAll(addrs []types.Address) []types.Address {
	v := make([]types.Address, len(addrs))
	for i, a := range addrs {
		v[i] = s.ToView(a)
	}
	return v
}

func (s Slide) String() string {
	if s < 0 {
		return fmt.Sprintf("-0x%x", uint64(-s))
	}
	return fmt.Sprintf("0x%x", int64(s))
}
