package sequence

import "github.com/probescope/probescope/internal/target"

// Pending is a deferred capture awaiting its flush. The sequence number is
// reserved at defer time so that immediate captures on later statements sort
// after the assignment they followed, even though its value is read later.
type Pending struct {
	Target      target.Target
	ReservedSeq uint64
	// PreValue is the value observed at defer time. It is never recorded;
	// it exists so a flush failure can log what the stale read would have
	// returned.
	PreValue any
}

// ReadValue resolves the current value of a target's symbol at flush time.
// The second result reports whether the symbol was still readable.
type ReadValue func(t target.Target) (any, bool)

// Defer reserves the next global sequence number for an assignment target
// whose value is only observable after the triggering statement completes.
// The capture is resolved by the next FlushDeferred, whichever event causes
// it.
func (a *Assembler) Defer(t target.Target, preValue any) Pending {
	seq := a.nextSeq.Add(1)

	a.mu.Lock()
	defer a.mu.Unlock()

	p := Pending{Target: t, ReservedSeq: seq, PreValue: preValue}
	a.pending = append(a.pending, p)
	a.pendingN.Store(int64(len(a.pending)))
	return p
}

// PendingCount returns the number of deferred captures not yet flushed.
// Lock-free so the statement hook's fast path stays cheap.
func (a *Assembler) PendingCount() int {
	return int(a.pendingN.Load())
}

// FlushDeferred resolves every outstanding deferred capture into the current
// event's batch, in reservation order, using the reserved sequence numbers.
// A symbol that can no longer be read is recorded with a placeholder and a
// warning; a deferred capture is never silently dropped.
//
// Flushed records carry the flushing event's timestamp and logical-order
// positions: they belong to the batch of the event that flushed them, not
// the event that deferred them.
func (a *Assembler) FlushDeferred(read ReadValue) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.pending) == 0 {
		return 0
	}

	flushed := len(a.pending)
	for _, p := range a.pending {
		value, ok := read(p.Target)
		if !ok {
			a.log.Warn("deferred capture unreadable at flush, storing placeholder",
				"symbol", p.Target.Symbol,
				"file", p.Target.Loc.File,
				"line", p.Target.Loc.Line,
				"seq_num", p.ReservedSeq)
			a.appendPlaceholderLocked(p.Target, p.ReservedSeq, true)
			continue
		}
		a.appendLocked(p.Target, value, p.ReservedSeq, true)
	}
	a.pending = a.pending[:0]
	a.pendingN.Store(0)
	return flushed
}
