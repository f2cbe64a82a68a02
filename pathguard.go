package svchost

import (
	"fmt"
	"path/filepath"
	"strings"
)

// reservedNames are device names that must not appear as the final path
// component, with or without an extension.
var reservedNames = map[string]struct{}{
	"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
	"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {}, "COM5": {},
	"COM6": {}, "COM7": {}, "COM8": {}, "COM9": {},
	"LPT1": {}, "LPT2": {}, "LPT3": {}, "LPT4": {}, "LPT5": {},
	"LPT6": {}, "LPT7": {}, "LPT8": {}, "LPT9": {},
}

// PathGuard validates filesystem paths supplied by callers before they reach
// the host tool or the sandbox builder. Validation is deterministic and does
// no I/O; existence checks are the caller's concern.
type PathGuard struct {
	// AllowedRoot, when non-empty, restricts accepted paths to this directory
	AllowedRoot string

	// MaxPathLength is the maximum accepted path length
	MaxPathLength int
}

// PathGuardOption configures a PathGuard
type PathGuardOption func(*PathGuard)

// WithAllowedRoot restricts accepted paths to the given directory
func WithAllowedRoot(root string) PathGuardOption {
	return func(g *PathGuard) {
		g.AllowedRoot = filepath.Clean(root)
	}
}

// WithMaxPathLength sets the maximum accepted path length
func WithMaxPathLength(n int) PathGuardOption {
	return func(g *PathGuard) {
		g.MaxPathLength = n
	}
}

// NewPathGuard creates a PathGuard with default settings
func NewPathGuard(opts ...PathGuardOption) *PathGuard {
	g := &PathGuard{
		MaxPathLength: DefaultMaxPathLength,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Validate rejects empty paths, over-long paths, parent-directory traversal,
// UNC-style host paths, reserved device names as the final component, and,
// when an allowed root is configured, paths outside it.
func (g *PathGuard) Validate(path string) error {
	if path == "" {
		return fmt.Errorf("%w: path is empty", ErrValidation)
	}
	if len(path) > g.MaxPathLength {
		return fmt.Errorf("%w: path exceeds %d characters", ErrValidation, g.MaxPathLength)
	}
	if strings.HasPrefix(path, `\\`) || strings.HasPrefix(path, "//") {
		return fmt.Errorf("%w: UNC paths are not allowed", ErrValidation)
	}
	for _, seg := range splitSegments(path) {
		if seg == ".." {
			return fmt.Errorf("%w: path contains a parent-directory segment", ErrValidation)
		}
	}
	if name := baseName(path); isReservedName(name) {
		return fmt.Errorf("%w: %q is a reserved device name", ErrValidation, name)
	}
	if g.AllowedRoot != "" && !g.insideRoot(path) {
		return fmt.Errorf("%w: path resolves outside %q", ErrValidation, g.AllowedRoot)
	}
	return nil
}

// insideRoot checks that the cleaned path stays under AllowedRoot
func (g *PathGuard) insideRoot(path string) bool {
	cleaned := filepath.Clean(strings.ReplaceAll(path, `\`, "/"))
	root := filepath.Clean(strings.ReplaceAll(g.AllowedRoot, `\`, "/"))
	if cleaned == root {
		return true
	}
	return strings.HasPrefix(cleaned, root+"/")
}

// splitSegments splits a path on both separator styles, since user input may
// carry either regardless of the host platform.
func splitSegments(path string) []string {
	return strings.FieldsFunc(path, func(r rune) bool {
		return r == '/' || r == '\\'
	})
}

// baseName returns the final path component for either separator style
func baseName(path string) string {
	segs := splitSegments(path)
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}

// isReservedName checks the final component against the device-name list,
// ignoring case and any extension.
func isReservedName(name string) bool {
	stem := name
	if i := strings.IndexByte(stem, '.'); i >= 0 {
		stem = stem[:i]
	}
	_, ok := reservedNames[strings.ToUpper(stem)]
	return ok
}
