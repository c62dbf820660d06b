package standard

import (
	"strconv"
	"time"

	"golang.org/x/mod/semver"

	"github.com/st-keller/binjatron/types"
)

// MinAPIVersion is the oldest debugger API the sync engine is known to work
// with.
const MinAPIVersion = "v1.1"

// DebuggerInfo describes the debugger a session is attached to. It is
// captured once from the version response when the session starts.
type DebuggerInfo struct {
	URL          string
	HostVersion  string
	HostKind     string
	APIVersion   string // semver, eg. "v1.1"
	Capabilities []string
	AttachedAt   time.Time
}

// NewDebuggerInfo builds a DebuggerInfo from a version response.
func NewDebuggerInfo(url string, v types.Version, hostKind string) *DebuggerInfo {
	return &DebuggerInfo{
		URL:          url,
		HostVersion:  v.HostVersion,
		HostKind:     hostKind,
		APIVersion:   APIVersion(v.APIVersion),
		Capabilities: append([]string(nil), v.Capabilities...),
		AttachedAt:   time.Now().UTC(),
	}
}

// APIVersion formats the numeric api version of a version response as a
// semantic version. Returns the empty string for a missing version.
func APIVersion(v float64) string {
	if v <= 0 {
		return ""
	}
	s := "v" + strconv.FormatFloat(v, 'f', -1, 64)
	if !semver.IsValid(s) {
		return ""
	}
	return semver.Canonical(s)
}

// Supported reports whether the debugger API is at least MinAPIVersion. An
// unknown version is treated as supported; the requests will tell.
func (d *DebuggerInfo) Supported() bool {
	if d.APIVersion == "" {
		return true
	}
	return semver.Compare(d.APIVersion, MinAPIVersion) >= 0
}

// GetData returns the debugger description as plain data.
func (d *DebuggerInfo) GetData() interface{} {
	return map[string]interface{}{
		"url":          d.URL,
		"host_version": d.HostVersion,
		"host_kind":    d.HostKind,
		"api_version":  d.APIVersion,
		"capabilities": d.Capabilities,
		"attached_at":  d.AttachedAt.Format("2006-01-02T15:04:05+00:00"),
		"supported":    d.Supported(),
	}
}
