// Package locindex maintains the registry of capture targets keyed by source
// location. It backs the hot instrumentation path: a statement with no
// registered targets must pay only the cost of one map lookup.
package locindex

import (
	"sync"

	"github.com/probescope/probescope/internal/target"
)

// Registration pairs a capture target with the display hint supplied when it
// was registered.
type Registration struct {
	Target target.Target
	// ThrottleHint is a display-cadence hint in refreshes per second,
	// honored by the redraw throttler on the consumer side. Zero means
	// "use the session default". It never affects capture.
	ThrottleHint float64
}

// lineKey identifies one source line. Column is deliberately absent: all
// targets on a line are found by one lookup, and column only disambiguates
// among them afterwards.
type lineKey struct {
	file string
	line int
}

// Index is a thread-safe lookup structure mapping (file, line) to the capture
// targets registered there. Add and Remove are valid at any time, including
// while the instrumented program is running.
type Index struct {
	mu     sync.RWMutex
	byLine map[lineKey][]Registration
	count  int
}

// New creates an empty Index.
func New() *Index {
	return &Index{
		byLine: make(map[lineKey][]Registration),
	}
}

// Add registers a capture target. Re-adding an existing target updates its
// throttle hint in place and reports false; a genuinely new registration
// reports true.
func (ix *Index) Add(t target.Target, throttleHint float64) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	key := lineKey{file: t.Loc.File, line: t.Loc.Line}
	regs := ix.byLine[key]
	for i, reg := range regs {
		if reg.Target == t {
			regs[i].ThrottleHint = throttleHint
			return false
		}
	}

	ix.byLine[key] = append(regs, Registration{Target: t, ThrottleHint: throttleHint})
	ix.count++
	return true
}

// Remove deregisters a capture target. Returns true if the target was
// registered. Removing an absent target is a no-op, so deregistration is
// idempotent.
func (ix *Index) Remove(t target.Target) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	key := lineKey{file: t.Loc.File, line: t.Loc.Line}
	regs := ix.byLine[key]
	for i, reg := range regs {
		if reg.Target == t {
			ix.byLine[key] = append(regs[:i], regs[i+1:]...)
			if len(ix.byLine[key]) == 0 {
				delete(ix.byLine, key)
			}
			ix.count--
			return true
		}
	}
	return false
}

// Lookup returns the registrations for a source line. The common case — no
// targets on the line — returns nil after a single map access. The returned
// slice is a copy; callers may hold it across a concurrent Add or Remove.
func (ix *Index) Lookup(file string, line int) []Registration {
	ix.mu.RLock()
	regs := ix.byLine[lineKey{file: file, line: line}]
	if regs == nil {
		ix.mu.RUnlock()
		return nil
	}
	out := make([]Registration, len(regs))
	copy(out, regs)
	ix.mu.RUnlock()
	return out
}

// Targets returns all registered targets in no particular order.
func (ix *Index) Targets() []target.Target {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]target.Target, 0, ix.count)
	for _, regs := range ix.byLine {
		for _, reg := range regs {
			out = append(out, reg.Target)
		}
	}
	return out
}

// Len returns the number of registered targets.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.count
}
