// Package capability defines the permission vocabulary for sandboxed
// execution: the capability enum, grant durations, the per-language
// capability-detection tables, and the dangerous shell command catalogue.
//
// Everything in this package is static data. Detection and enforcement
// live in pkg/policy; grant bookkeeping lives in pkg/grants.
package capability

import (
	"fmt"
	"strings"
)

// Capability is a named permission gating a class of operations.
// Declaration order is significant: deterministic "first missing
// capability" reporting iterates in this order.
type Capability int

const (
	FilesystemRead Capability = iota
	FilesystemWrite
	Network
	ProcessSpawn
	ShellExecution
)

// All returns every capability in declaration order.
func All() []Capability {
	return []Capability{FilesystemRead, FilesystemWrite, Network, ProcessSpawn, ShellExecution}
}

// String returns the capability name.
func (c Capability) String() string {
	switch c {
	case FilesystemRead:
		return "filesystem_read"
	case FilesystemWrite:
		return "filesystem_write"
	case Network:
		return "network"
	case ProcessSpawn:
		return "process_spawn"
	case ShellExecution:
		return "shell_execution"
	default:
		return "unknown"
	}
}

// Describe returns a user-facing description suitable for approval prompts.
func (c Capability) Describe() string {
	switch c {
	case FilesystemRead:
		return "read files on this machine"
	case FilesystemWrite:
		return "create or modify files on this machine"
	case Network:
		return "make network connections"
	case ProcessSpawn:
		return "launch other programs"
	case ShellExecution:
		return "run shell commands"
	default:
		return "perform an unknown operation"
	}
}

// Parse converts a capability name to a Capability.
func Parse(s string) (Capability, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "filesystem_read", "fs_read", "read":
		return FilesystemRead, nil
	case "filesystem_write", "fs_write", "write":
		return FilesystemWrite, nil
	case "network", "net":
		return Network, nil
	case "process_spawn", "spawn", "process":
		return ProcessSpawn, nil
	case "shell_execution", "shell":
		return ShellExecution, nil
	default:
		return FilesystemRead, fmt.Errorf("unknown capability: %q", s)
	}
}

// Set is an immutable-by-convention capability set. The zero value is
// usable.
type Set map[Capability]struct{}

// NewSet builds a set from the given capabilities.
func NewSet(caps ...Capability) Set {
	s := make(Set, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

// Has reports whether c is in the set.
func (s Set) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// Add returns a new set containing the union of s and caps. s is not
// modified.
func (s Set) Add(caps ...Capability) Set {
	out := make(Set, len(s)+len(caps))
	for c := range s {
		out[c] = struct{}{}
	}
	for _, c := range caps {
		out[c] = struct{}{}
	}
	return out
}

// Union returns a new set containing every capability in s or other.
func (s Set) Union(other Set) Set {
	out := make(Set, len(s)+len(other))
	for c := range s {
		out[c] = struct{}{}
	}
	for c := range other {
		out[c] = struct{}{}
	}
	return out
}

// Missing returns the members of required absent from s, in declaration
// order.
func (s Set) Missing(required Set) []Capability {
	var missing []Capability
	for _, c := range All() {
		if required.Has(c) && !s.Has(c) {
			missing = append(missing, c)
		}
	}
	return missing
}

// Ordered returns the set members in declaration order.
func (s Set) Ordered() []Capability {
	var out []Capability
	for _, c := range All() {
		if s.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// Strings returns the ordered member names.
func (s Set) Strings() []string {
	ordered := s.Ordered()
	out := make([]string, len(ordered))
	for i, c := range ordered {
		out[i] = c.String()
	}
	return out
}

// Duration controls how long a grant stays valid.
type Duration int

const (
	// DurationOnce is consumed by exactly one successful execution.
	DurationOnce Duration = iota
	// DurationSession lives until the process exits.
	DurationSession
	// DurationAlways persists across sessions.
	DurationAlways
)

// String returns the duration name.
func (d Duration) String() string {
	switch d {
	case DurationOnce:
		return "once"
	case DurationSession:
		return "session"
	case DurationAlways:
		return "always"
	default:
		return "unknown"
	}
}

// ParseDuration converts a duration name to a Duration.
func ParseDuration(s string) (Duration, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "once", "one-shot":
		return DurationOnce, nil
	case "session":
		return DurationSession, nil
	case "always", "persistent":
		return DurationAlways, nil
	default:
		return DurationOnce, fmt.Errorf("unknown grant duration: %q", s)
	}
}
