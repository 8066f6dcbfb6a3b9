// Package sequence assigns the global ordering of captured values and
// assembles them into per-event batches. It owns the two-phase capture
// protocol: immediate captures are recorded as they happen, deferred captures
// reserve their sequence number up front and are resolved by a later flush.
package sequence

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/probescope/probescope/internal/logging"
	"github.com/probescope/probescope/internal/target"
	"github.com/probescope/probescope/internal/wire"
)

// Clock returns monotonic nanoseconds. Injectable for tests.
type Clock func() int64

// Emitter receives each closed batch, in event order.
type Emitter func(target.Batch)

var processStart = time.Now()

// MonotonicClock reports nanoseconds since process start using Go's
// monotonic clock reading.
func MonotonicClock() int64 {
	return time.Since(processStart).Nanoseconds()
}

// Assembler is the capture sequencer. It hands out globally monotonic
// sequence numbers, groups records into one batch per triggering event, and
// tracks deferred captures until they can be flushed.
//
// The producer context is effectively single-threaded, but all methods are
// safe for concurrent use so hot add/remove from the control protocol can
// never race a capture.
type Assembler struct {
	log   *logging.Logger
	clock Clock
	emit  Emitter

	nextSeq  atomic.Uint64
	pendingN atomic.Int64

	mu      sync.Mutex
	inEvent bool
	cur     target.Batch
	curTS   int64
	pending []Pending
}

// NewAssembler creates an Assembler that hands closed batches to emit.
// A nil clock uses MonotonicClock.
func NewAssembler(log *logging.Logger, clock Clock, emit Emitter) *Assembler {
	if clock == nil {
		clock = MonotonicClock
	}
	return &Assembler{
		log:   log,
		clock: clock,
		emit:  emit,
	}
}

// BeginEvent opens the batch for one triggering event (a statement, a return,
// or a panic). All records captured until EndEvent share this event's
// timestamp and receive sequential logical-order positions.
func (a *Assembler) BeginEvent() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.beginLocked()
}

func (a *Assembler) beginLocked() {
	a.inEvent = true
	a.cur = nil
	a.curTS = a.clock()
}

// EndEvent closes the current event. If any records were produced, the batch
// is handed to the emitter as one indivisible unit. Returns the batch for
// convenience (nil if the event produced nothing).
func (a *Assembler) EndEvent() target.Batch {
	a.mu.Lock()
	batch := a.endLocked()
	a.mu.Unlock()

	if batch != nil && a.emit != nil {
		a.emit(batch)
	}
	return batch
}

func (a *Assembler) endLocked() target.Batch {
	a.inEvent = false
	batch := a.cur
	a.cur = nil
	return batch
}

// CaptureImmediate records a value that is fully evaluated at the triggering
// statement. It assigns the next global sequence number and appends the
// record to the current event's batch. Called outside an event it produces a
// one-record event of its own.
func (a *Assembler) CaptureImmediate(t target.Target, value any) target.Record {
	a.mu.Lock()

	solo := !a.inEvent
	if solo {
		a.beginLocked()
	}

	rec := a.appendLocked(t, value, a.nextSeq.Add(1), false)

	var batch target.Batch
	if solo {
		batch = a.endLocked()
	}
	a.mu.Unlock()

	if batch != nil && a.emit != nil {
		a.emit(batch)
	}
	return rec
}

// appendLocked serializes value and appends a record to the current batch.
// Serialization failures produce a placeholder record, never a gap.
func (a *Assembler) appendLocked(t target.Target, value any, seq uint64, deferred bool) target.Record {
	wv, kind, shape, err := wire.EncodeValue(value)
	if err != nil {
		a.log.Warn("value serialization failed, storing placeholder",
			"symbol", t.Symbol,
			"file", t.Loc.File,
			"line", t.Loc.Line,
			"seq_num", seq,
			"error", err.Error())
		wv = target.Placeholder
		kind = target.KindUnserializable
		shape = nil
	}

	rec := target.Record{
		Target:    t,
		Value:     wv,
		Kind:      kind,
		Shape:     shape,
		Seq:       seq,
		Logical:   uint32(len(a.cur)),
		Timestamp: a.curTS,
		Deferred:  deferred,
	}
	a.cur = append(a.cur, rec)
	return rec
}

// appendPlaceholderLocked appends an unserializable-marker record.
func (a *Assembler) appendPlaceholderLocked(t target.Target, seq uint64, deferred bool) target.Record {
	rec := target.Record{
		Target:    t,
		Value:     target.Placeholder,
		Kind:      target.KindUnserializable,
		Seq:       seq,
		Logical:   uint32(len(a.cur)),
		Timestamp: a.curTS,
		Deferred:  deferred,
	}
	a.cur = append(a.cur, rec)
	return rec
}

// LastSeq returns the most recently assigned sequence number.
func (a *Assembler) LastSeq() uint64 {
	return a.nextSeq.Load()
}
