package pipeline

import (
	"fmt"
	"strings"
)

// CleanupPolicy decides whether the local extract survives a run.
type CleanupPolicy string

const (
	KeepAlways    CleanupPolicy = "keep-always"
	KeepOnSuccess CleanupPolicy = "keep-on-success"
	KeepOnFailure CleanupPolicy = "keep-on-failure"
	AlwaysDelete  CleanupPolicy = "always-delete"
)

// DefaultCleanup keeps extracts of failed runs for inspection only.
const DefaultCleanup = KeepOnFailure

// ParseCleanupPolicy parses a policy name. The empty string yields the
// default.
func ParseCleanupPolicy(s string) (CleanupPolicy, error) {
	switch p := CleanupPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return DefaultCleanup, nil
	case KeepAlways, KeepOnSuccess, KeepOnFailure, AlwaysDelete:
		return p, nil
	default:
		return "", fmt.Errorf("unknown cleanup policy %q", s)
	}
}

// Keep reports whether the extract of a run with the given outcome stays
// on disk.
func (p CleanupPolicy) Keep(succeeded bool) bool {
	switch p {
	case KeepAlways:
		return true
	case KeepOnSuccess:
		return succeeded
	case AlwaysDelete:
		return false
	default:
		return !succeeded
	}
}
