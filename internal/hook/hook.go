// Package hook is the statement-granularity instrumentation interface between
// a host execution engine and the capture pipeline. The host calls OnStatement
// for every executed statement in the traced scope, and OnReturn/OnPanic at
// scope boundaries; the hook decides, per registered target, whether to
// capture the value now or defer it until the statement has finished.
package hook

import (
	"github.com/probescope/probescope/internal/locindex"
	"github.com/probescope/probescope/internal/logging"
	"github.com/probescope/probescope/internal/sequence"
	"github.com/probescope/probescope/internal/target"
)

// ValueReader gives the hook access to the host frame's symbols.
// Implementations are provided by the host execution engine.
type ValueReader interface {
	// ReadValue returns the current value of a symbol in the given scope,
	// and whether the symbol is readable at all.
	ReadValue(symbol, scope string) (any, bool)
}

// Hook dispatches per-statement instrumentation callbacks into the sequencer.
// A statement with no registered targets and no pending deferred captures
// costs one index lookup and one atomic load.
type Hook struct {
	idx *locindex.Index
	asm *sequence.Assembler
	log *logging.Logger
}

// New creates a Hook over the given index and sequencer.
func New(idx *locindex.Index, asm *sequence.Assembler, log *logging.Logger) *Hook {
	return &Hook{idx: idx, asm: asm, log: log}
}

// OnStatement is invoked by the host engine once per executed statement.
// assigns lists the symbols this statement writes; a target matching one of
// them is an assignment destination, so its read is deferred until the next
// triggering event. Everything else on the line is captured immediately.
//
// Immediate captures for a statement are sequenced strictly before any
// sequence numbers reserved for that statement's assignment targets, so a
// probed right-hand side always sorts ahead of the left-hand side it feeds.
func (h *Hook) OnStatement(fr ValueReader, file string, line int, assigns ...string) {
	regs := h.idx.Lookup(file, line)
	if regs == nil && h.asm.PendingCount() == 0 {
		return
	}

	h.asm.BeginEvent()
	h.asm.FlushDeferred(readerFor(fr))

	// First pass: immediately readable values.
	for _, reg := range regs {
		if isAssigned(reg.Target.Symbol, assigns) {
			continue
		}
		value, ok := fr.ReadValue(reg.Target.Symbol, reg.Target.Scope)
		if !ok {
			h.log.Warn("registered symbol not readable at statement",
				"symbol", reg.Target.Symbol,
				"file", file,
				"line", line)
			value = target.Placeholder
		}
		h.asm.CaptureImmediate(reg.Target, value)
	}

	// Second pass: assignment destinations reserve their order now, read later.
	for _, reg := range regs {
		if isAssigned(reg.Target.Symbol, assigns) {
			pre, _ := fr.ReadValue(reg.Target.Symbol, reg.Target.Scope)
			h.asm.Defer(reg.Target, pre)
		}
	}

	h.asm.EndEvent()
}

// OnReturn is invoked by the host engine when the traced scope returns.
// Outstanding deferred captures flush as part of the return event; none may
// survive the scope boundary.
func (h *Hook) OnReturn(fr ValueReader) {
	h.flushBoundary(fr)
}

// OnPanic is invoked by the host engine when the traced scope unwinds with a
// panic or exception. Deferred captures flush exactly as on return.
func (h *Hook) OnPanic(fr ValueReader, recovered any) {
	if h.asm.PendingCount() > 0 {
		h.log.Debug("flushing deferred captures on panic", "recovered", recovered)
	}
	h.flushBoundary(fr)
}

func (h *Hook) flushBoundary(fr ValueReader) {
	if h.asm.PendingCount() == 0 {
		return
	}
	h.asm.BeginEvent()
	h.asm.FlushDeferred(readerFor(fr))
	h.asm.EndEvent()
}

func readerFor(fr ValueReader) sequence.ReadValue {
	return func(t target.Target) (any, bool) {
		return fr.ReadValue(t.Symbol, t.Scope)
	}
}

func isAssigned(symbol string, assigns []string) bool {
	for _, a := range assigns {
		if a == symbol {
			return true
		}
	}
	return false
}
