// Package types defines the data model shared by the sync engine packages:
// addresses, highlight colours, debugger requests and their results.
package types

import (
	"fmt"
	"strings"
)

// Address is an offset into a binary's address space. Whether it is a
// debugger-space or a view-space address depends on where it came from; see
// package address for the translation between the two.
type Address uint64

func (a Address) String() string {
	return fmt.Sprintf("0x%x", uint64(a))
}

// Color is a highlight colour applied to an instruction in the analysis view.
// The values follow the host's standard highlight palette.
type Color int

const (
	NoHighlight Color = iota
	Blue
	Green
	Cyan
	Red
	Magenta
	Yellow
	Orange
	White
	Black
)

var colorNames = []string{"none", "blue", "green", "cyan", "red", "magenta", "yellow", "orange", "white", "black"}

// String returns the lower case colour name.
func (c Color) String() string {
	if c < 0 || int(c) >= len(colorNames) {
		return fmt.Sprintf("Color(%d)", int(c))
	}
	return colorNames[c]
}

// ParseColor accepts a colour name (case insensitive) or its numeric value.
func ParseColor(s string) (Color, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range colorNames {
		if s == n || s == fmt.Sprint(i) {
			return Color(i), nil
		}
	}
	return NoHighlight, fmt.Errorf("unknown highlight colour %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Color) UnmarshalText(b []byte) error {
	v, err := ParseColor(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// RequestKind names a debugger API request.
type RequestKind string

const (
	KindVersion     RequestKind = "version"
	KindRegisters   RequestKind = "registers"
	KindBreakpoints RequestKind = "breakpoints"
	KindCommand     RequestKind = "command"
	KindWriteMemory RequestKind = "write_memory"
)

// Request is a single call against the debugger. Args are encoded as the
// request's data object. A blocking request is held by the debugger until its
// state next changes (the process stops, for example).
type Request struct {
	Kind  RequestKind
	Args  map[string]interface{}
	Block bool
}

// NewRequest is a convenience for building a Request.
func NewRequest(kind RequestKind, block bool, args map[string]interface{}) Request {
	return Request{Kind: kind, Args: args, Block: block}
}

// Status values carried by a Result.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ErrCodeNoSuchTarget is the API error code reported when no process is
// being debugged.
const ErrCodeNoSuchTarget = 4100

// APIError is the error payload of a failed request.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// Location is one resolved location of a breakpoint.
type Location struct {
	Address Address `json:"address"`
	Name    string  `json:"name,omitempty"`
}

// Breakpoint is an entry in the debugger's breakpoint listing. A single
// breakpoint may resolve to more than one location.
type Breakpoint struct {
	ID        int        `json:"id"`
	Enabled   bool       `json:"enabled"`
	OneShot   bool       `json:"one_shot"`
	HitCount  int        `json:"hit_count"`
	Locations []Location `json:"locations"`
}

// Addresses flattens the locations of all breakpoints in a listing.
func Addresses(bps []Breakpoint) []Address {
	var addrs []Address
	for _, bp := range bps {
		for _, l := range bp.Locations {
			addrs = append(addrs, l.Address)
		}
	}
	return addrs
}

// Capability names advertised in the version response.
const (
	// CapAsync means registers can be read while the target is running.
	CapAsync = "async"
)

// Version is the payload of a version request.
type Version struct {
	APIVersion   float64  `json:"api_version"`
	HostVersion  string   `json:"host_version"`
	Capabilities []string `json:"capabilities"`
}

// HasCapability reports whether the debugger advertises capability c.
func (v Version) HasCapability(c string) bool {
	for _, vc := range v.Capabilities {
		if vc == c {
			return true
		}
	}
	return false
}

// Result is the decoded response to a Request. Only the payload field
// matching Kind is populated.
type Result struct {
	Kind   RequestKind
	Status string
	Err    *APIError

	Registers   map[string]Address
	Breakpoints []Breakpoint
	Version     *Version
	Output      string
}

// IsError reports whether the debugger answered with an error status.
func (r *Result) IsError() bool {
	return r == nil || r.Status != StatusSuccess
}

// IsNoSuchTarget reports whether the result is the error returned when no
// process is being debugged.
func (r *Result) IsNoSuchTarget() bool {
	if r == nil || r.Err == nil {
		return false
	}
	return r.Err.Code == ErrCodeNoSuchTarget || strings.Contains(strings.ToLower(r.Err.Message), "no such target")
}

// PC returns the program counter from a registers result. The request only
// asks for the pc so a single register of any name is accepted; debuggers
// report it under its architectural name (rip, pc, eip ...).
func (r *Result) PC() (Address, bool) {
	if r == nil || r.IsError() || len(r.Registers) == 0 {
		return 0, false
	}
	if pc, ok := r.Registers["pc"]; ok {
		return pc, true
	}
	for _, n := range []string{"rip", "eip", "ip"} {
		if pc, ok := r.Registers[n]; ok {
			return pc, true
		}
	}
	if len(r.Registers) == 1 {
		for _, pc := range r.Registers {
			return pc, true
		}
	}
	return 0, false
}

func (r *Result) String() string {
	if r == nil {
		return "<nil result>"
	}
	if r.Err != nil {
		return fmt.Sprintf("%s: %s: %s", r.Kind, r.Status, r.Err)
	}
	return fmt.Sprintf("%s: %s", r.Kind, r.Status)
}

// Function is the host's handle on a function in the analysis view.
type Function interface {
	Name() string
}
