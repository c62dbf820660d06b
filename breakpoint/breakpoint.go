// Package breakpoint builds debugger-native breakpoint commands and finds
// breakpoint identifiers in the debugger's breakpoint listing.
//
// Only the debuggers named by HostKind are supported. The translator never
// guesses a command syntax for anything else.
package breakpoint

import (
	"errors"
	"fmt"
	"strings"

	"github.com/st-keller/binjatron/address"
	"github.com/st-keller/binjatron/types"
)

// ErrUnsupportedHost is returned for a debugger dialect with no known
// command syntax.
var ErrUnsupportedHost = errors.New("debugger host not supported")

// ErrNotFound is returned when no breakpoint has a location at the address.
var ErrNotFound = errors.New("breakpoint not found")

// RefreshCommand asks the debugger side to redraw its views.
const RefreshCommand = "voltron update"

// HostKind is the command syntax family of a debugger.
type HostKind int

const (
	Unsupported HostKind = iota
	LLDB
	GDB
)

func (k HostKind) String() string {
	switch k {
	case LLDB:
		return "lldb"
	case GDB:
		return "gdb"
	}
	return "unsupported"
}

// Supported reports whether commands can be built for the dialect.
func (k HostKind) Supported() bool {
	return k == LLDB || k == GDB
}

// ParseHostKind identifies the dialect from the host version string reported
// by the debugger (eg. "lldb-1500.0.22.8" or "GNU gdb (GDB) 14.1").
func ParseHostKind(hostVersion string) (HostKind, error) {
	v := strings.ToLower(hostVersion)
	switch {
	case strings.Contains(v, "lldb"):
		return LLDB, nil
	case strings.Contains(v, "gdb"):
		return GDB, nil
	}
	return Unsupported, fmt.Errorf("%w: %q", ErrUnsupportedHost, hostVersion)
}

// SetCommand returns the command that sets a breakpoint at a debugger-space
// address.
func SetCommand(kind HostKind, addr types.Address) (string, error) {
	switch kind {
	case LLDB:
		return fmt.Sprintf("breakpoint set -a 0x%x", uint64(addr)), nil
	case GDB:
		return fmt.Sprintf("break *0x%x", uint64(addr)), nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedHost, kind)
}

// DeleteCommand returns the command that deletes breakpoint id.
func DeleteCommand(kind HostKind, id int) (string, error) {
	switch kind {
	case LLDB:
		return fmt.Sprintf("breakpoint delete %d", id), nil
	case GDB:
		return fmt.Sprintf("delete %d", id), nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedHost, kind)
}

// ResolveID scans the locations of every breakpoint in the listing for one
// that translates to viewAddr and returns the owning breakpoint's ID.
func ResolveID(listing []types.Breakpoint, viewAddr types.Address, slide address.Slide) (int, error) {
	for _, bp := range listing {
		for _, l := range bp.Locations {
			if slide.ToView(l.Address) == viewAddr {
				return bp.ID, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: at %s", ErrNotFound, viewAddr)
}
