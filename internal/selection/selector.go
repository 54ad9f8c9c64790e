// Package selection decides which files of a remote model repository are
// worth transferring for a given execution backend.
//
// Selection is a pure function of the repository listing and the device
// hints: repeated calls with the same inputs always produce the same result,
// so a selection computed before a transfer stays valid for its whole
// lifetime. A backend without a specialized strategy falls back to
// suffix-pattern filtering.
package selection

import (
	"github.com/modzoo/hubfetch/internal/download"
)

// Hints carries device constraints and caller overrides into a selector.
type Hints struct {
	// FilenameOverride, when set, bypasses the heuristic and requires an
	// exact-substring match. No match means an empty selection, never a
	// fallback to another file.
	FilenameOverride string

	// AvailableMemory is the device memory budget in bytes. Zero or below
	// means unconstrained.
	AvailableMemory int64
}

// Selector chooses the subset of files to fetch. Absence of a match is an
// empty result, not an error.
type Selector interface {
	Select(files []download.FileDescriptor, hints Hints) []download.FileDescriptor
}

// Registry dispatches to the right Selector per backend, with a pattern
// selector as the default for backends lacking a specialized strategy.
type Registry struct {
	selectors map[download.Backend]Selector
	fallback  func(backend download.Backend) Selector
}

// NewRegistry returns an empty registry. Unknown backends get a pattern
// selector over the backend's default suffix patterns.
func NewRegistry() *Registry {
	return &Registry{
		selectors: make(map[download.Backend]Selector),
		fallback: func(backend download.Backend) Selector {
			return NewPatternSelector(defaultPatterns(backend))
		},
	}
}

// DefaultRegistry returns a registry with the built-in strategies installed.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(download.BackendGGUF, NewGGUFSelector())
	r.Register(download.BackendCoreML, NewCoreMLSelector())

	return r
}

// Register installs a selector for a backend, replacing any previous one.
func (r *Registry) Register(backend download.Backend, s Selector) {
	r.selectors[backend] = s
}

// For returns the selector for a backend.
func (r *Registry) For(backend download.Backend) Selector {
	if s, ok := r.selectors[backend]; ok {
		return s
	}

	return r.fallback(backend)
}

// dedupe drops repeated paths while preserving first-seen order.
func dedupe(files []download.FileDescriptor) []download.FileDescriptor {
	if len(files) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(files))
	out := make([]download.FileDescriptor, 0, len(files))

	for _, f := range files {
		if _, ok := seen[f.Path]; ok {
			continue
		}

		seen[f.Path] = struct{}{}
		out = append(out, f)
	}

	return out
}
