package breakpoint_test

import (
	"errors"
	"testing"

	"github.com/st-keller/binjatron/breakpoint"
	"github.com/st-keller/binjatron/test"
	"github.com/st-keller/binjatron/types"
)

func TestParseHostKind(t *testing.T) {
	tests := []struct {
		version string
		kind    breakpoint.HostKind
	}{
		{"lldb-1500.0.22.8", breakpoint.LLDB},
		{"LLDB 17.0.6", breakpoint.LLDB},
		{"GNU gdb (GDB) 14.1", breakpoint.GDB},
		{"gdb-multiarch 12.1", breakpoint.GDB},
	}

	for _, tt := range tests {
		k, err := breakpoint.ParseHostKind(tt.version)
		test.ExpectSuccess(t, err, tt.version)
		test.ExpectEquality(t, k, tt.kind, tt.version)
		test.ExpectEquality(t, k.Supported(), true, tt.version)
	}

	k, err := breakpoint.ParseHostKind("windbg 10.0")
	test.ExpectEquality(t, k, breakpoint.Unsupported)
	test.ExpectEquality(t, k.Supported(), false)
	test.ExpectEquality(t, errors.Is(err, breakpoint.ErrUnsupportedHost), true)
}

func TestCommands(t *testing.T) {
	cmd, err := breakpoint.SetCommand(breakpoint.LLDB, 0x4050)
	test.ExpectSuccess(t, err)
	test.ExpectEquality(t, cmd, "breakpoint set -a 0x4050")

	cmd, err = breakpoint.SetCommand(breakpoint.GDB, 0x4050)
	test.ExpectSuccess(t, err)
	test.ExpectEquality(t, cmd, "break *0x4050")

	cmd, err = breakpoint.DeleteCommand(breakpoint.LLDB, 3)
	test.ExpectSuccess(t, err)
	test.ExpectEquality(t, cmd, "breakpoint delete 3")

	cmd, err = breakpoint.DeleteCommand(breakpoint.GDB, 3)
	test.ExpectSuccess(t, err)
	test.ExpectEquality(t, cmd, "delete 3")

	_, err = breakpoint.SetCommand(breakpoint.Unsupported, 0x4050)
	test.ExpectEquality(t, errors.Is(err, breakpoint.ErrUnsupportedHost), true)
	_, err = breakpoint.DeleteCommand(breakpoint.Unsupported, 1)
	test.ExpectEquality(t, errors.Is(err, breakpoint.ErrUnsupportedHost), true)
}

func TestResolveID(t *testing.T) {
	listing := []types.Breakpoint{
		{ID: 1, Locations: []types.Location{{Address: 0x1010}}},
		{ID: 2, Locations: []types.Location{{Address: 0x2010}, {Address: 0x3010}}},
	}

	id, err := breakpoint.ResolveID(listing, 0x3000, 0x10)
	test.ExpectSuccess(t, err)
	test.ExpectEquality(t, id, 2)

	id, err = breakpoint.ResolveID(listing, 0x1000, 0x10)
	test.ExpectSuccess(t, err)
	test.ExpectEquality(t, id, 1)

	// without the slide nothing lines up
	_, err = breakpoint.ResolveID(listing, 0x1000, 0)
	test.ExpectEquality(t, errors.Is(err, breakpoint.ErrNotFound), true)

	_, err = breakpoint.ResolveID(nil, 0x1000, 0)
	test.ExpectEquality(t, errors.Is(err, breakpoint.ErrNotFound), true)
}
