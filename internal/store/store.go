// Package store is the consumer-side probe data store: one append-only
// history per capture target, holding every record received for the lifetime
// of the registration. The store verifies sequence ordering on append but
// never drops data over it; display throttling happens downstream and never
// reaches back into the histories.
package store

import (
	"sync"

	"github.com/probescope/probescope/internal/logging"
	"github.com/probescope/probescope/internal/target"
)

// Entry is one captured value in a history.
type Entry struct {
	Value     any
	Kind      target.ValueKind
	Shape     []int
	Seq       uint64
	Logical   uint32
	Timestamp int64
	Deferred  bool
}

// history is the per-target record list plus ordering state. Owned
// exclusively by the Store and mutated only under its lock.
type history struct {
	entries []Entry
	lastSeq uint64
	hasSeq  bool
}

// Store holds the probe histories. All methods are safe for concurrent use;
// a batch is appended under one lock acquisition, so readers always observe
// either none or all of an event's records.
type Store struct {
	log *logging.Logger

	mu        sync.RWMutex
	histories map[target.Target]*history
}

// New creates an empty Store.
func New(log *logging.Logger) *Store {
	return &Store{
		log:       log,
		histories: make(map[target.Target]*history),
	}
}

// AppendBatch appends every record of one event atomically and returns the
// distinct targets that received data. A record whose sequence number is not
// greater than the last seen for its target is an ordering violation: it is
// logged with enough context to diagnose, and appended anyway.
func (s *Store) AppendBatch(b target.Batch) []target.Target {
	if len(b) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var touched []target.Target
	seen := make(map[target.Target]struct{}, len(b))

	for _, rec := range b {
		h := s.histories[rec.Target]
		if h == nil {
			h = &history{}
			s.histories[rec.Target] = h
		}

		if h.hasSeq && rec.Seq <= h.lastSeq {
			s.log.Warn("ordering violation: sequence number not increasing",
				"symbol", rec.Target.Symbol,
				"file", rec.Target.Loc.File,
				"line", rec.Target.Loc.Line,
				"col", rec.Target.Loc.Col,
				"seq_num", rec.Seq,
				"last_seq_num", h.lastSeq)
		} else {
			h.lastSeq = rec.Seq
			h.hasSeq = true
		}

		h.entries = append(h.entries, Entry{
			Value:     rec.Value,
			Kind:      rec.Kind,
			Shape:     rec.Shape,
			Seq:       rec.Seq,
			Logical:   rec.Logical,
			Timestamp: rec.Timestamp,
			Deferred:  rec.Deferred,
		})

		if _, dup := seen[rec.Target]; !dup {
			seen[rec.Target] = struct{}{}
			touched = append(touched, rec.Target)
		}
	}
	return touched
}

// Snapshot returns a copy of the full ordered history for a target, and
// whether the target has a history at all.
func (s *Store) Snapshot(t target.Target) ([]Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.histories[t]
	if !ok {
		return nil, false
	}
	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out, true
}

// Len returns the number of records held for a target.
func (s *Store) Len(t target.Target) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if h, ok := s.histories[t]; ok {
		return len(h.entries)
	}
	return 0
}

// Targets returns every target with a history, in no particular order.
func (s *Store) Targets() []target.Target {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]target.Target, 0, len(s.histories))
	for t := range s.histories {
		out = append(out, t)
	}
	return out
}

// Deregister discards a target's history entirely. Re-adding the target later
// starts from a fresh, empty history with no residual ordering state.
func (s *Store) Deregister(t target.Target) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.histories[t]; !ok {
		return false
	}
	delete(s.histories, t)
	return true
}
