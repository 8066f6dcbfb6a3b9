// Package producer assembles the producer-side pipeline: the location index,
// the sequencer with its deferred tracker, the instrumentation hook handed to
// the host execution engine, and the transport send side. Its lifecycle is
// explicit: create, register targets (hot add/remove at any time), run the
// workload through the hook, then Finish or Fault — both of which flush every
// outstanding deferred capture before the stream ends.
package producer

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/probescope/probescope/internal/hook"
	"github.com/probescope/probescope/internal/locindex"
	"github.com/probescope/probescope/internal/logging"
	"github.com/probescope/probescope/internal/sequence"
	"github.com/probescope/probescope/internal/target"
	"github.com/probescope/probescope/internal/transport"
)

// Producer owns the capture side of one session.
type Producer struct {
	log  *logging.Logger
	idx  *locindex.Index
	asm  *sequence.Assembler
	hk   *hook.Hook
	send transport.Sender

	stopOnce sync.Once
	stopCh   chan struct{}

	mu       sync.Mutex
	finished bool
}

// New creates a Producer over the given transport sender. A nil clock uses
// the monotonic default.
func New(send transport.Sender, clock sequence.Clock, log *logging.Logger) *Producer {
	p := &Producer{
		log:    log.WithSide("producer"),
		idx:    locindex.New(),
		send:   send,
		stopCh: make(chan struct{}),
	}
	p.asm = sequence.NewAssembler(p.log, clock, p.emit)
	p.hk = hook.New(p.idx, p.asm, p.log)
	return p
}

// Hook returns the instrumentation hook to hand to the host execution engine.
func (p *Producer) Hook() *hook.Hook { return p.hk }

// AddTarget registers a capture target. Valid at any time, including while
// the workload is running.
func (p *Producer) AddTarget(t target.Target, throttleHint float64) {
	fresh := p.idx.Add(t, throttleHint)
	p.log.Info("target added",
		"symbol", t.Symbol,
		"file", t.Loc.File,
		"line", t.Loc.Line,
		"col", t.Loc.Col,
		"fresh", fresh)
}

// RemoveTarget deregisters a capture target. Idempotent.
func (p *Producer) RemoveTarget(t target.Target) {
	removed := p.idx.Remove(t)
	p.log.Info("target removed",
		"symbol", t.Symbol,
		"file", t.Loc.File,
		"line", t.Loc.Line,
		"removed", removed)
}

// Targets returns the currently registered targets.
func (p *Producer) Targets() []target.Target { return p.idx.Targets() }

// StopRequested is closed when a stop command arrives over the control
// protocol. The host engine checks it between statements.
func (p *Producer) StopRequested() <-chan struct{} { return p.stopCh }

// RequestStop asks the host engine to end the workload at the next safe
// point. The stream stays open until Finish runs.
func (p *Producer) RequestStop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// emit forwards a closed batch to the transport. A full queue blocks here —
// delivery is delayed, the capture itself has already completed.
func (p *Producer) emit(b target.Batch) {
	if err := p.send.SendBatch(b); err != nil {
		p.log.Error("failed to send batch",
			"records", len(b),
			"first_seq", b[0].Seq,
			"error", err.Error())
	}
}

// Finish ends the session normally: flush any deferred captures still
// outstanding at the final scope boundary, signal end-of-stream, then close
// the sender — which blocks until the outgoing queue has drained, so the
// end-of-stream message is never lost to early process exit.
func (p *Producer) Finish(fr hook.ValueReader, exitCode int) error {
	p.mu.Lock()
	if p.finished {
		p.mu.Unlock()
		return nil
	}
	p.finished = true
	p.mu.Unlock()

	p.hk.OnReturn(fr)

	if err := p.send.SendEndOfStream(exitCode); err != nil {
		return fmt.Errorf("failed to send end-of-stream: %w", err)
	}
	if err := p.send.Close(); err != nil {
		return fmt.Errorf("failed to drain transport: %w", err)
	}
	p.log.Info("session finished", "exit_code", exitCode, "last_seq", p.asm.LastSeq())
	return nil
}

// Fault ends the session after a producer-side unhandled error. Deferred
// captures flush as part of the fault boundary, then the fault message is
// delivered and the transport drained.
func (p *Producer) Fault(fr hook.ValueReader, recovered any) error {
	p.mu.Lock()
	if p.finished {
		p.mu.Unlock()
		return nil
	}
	p.finished = true
	p.mu.Unlock()

	traceback := string(debug.Stack())
	p.hk.OnPanic(fr, recovered)

	if err := p.send.SendFault(fmt.Sprint(recovered), traceback); err != nil {
		return fmt.Errorf("failed to send fault: %w", err)
	}
	if err := p.send.Close(); err != nil {
		return fmt.Errorf("failed to drain transport: %w", err)
	}
	p.log.Error("session faulted", "error", fmt.Sprint(recovered))
	return nil
}

// Run executes a workload through the producer, converting a panic into a
// fault message and a normal return into end-of-stream. fr must read the
// workload's symbols at its scope boundaries.
func (p *Producer) Run(fr hook.ValueReader, workload func() int) (exitCode int, err error) {
	defer func() {
		if r := recover(); r != nil {
			exitCode = 1
			err = p.Fault(fr, r)
		}
	}()

	exitCode = workload()
	err = p.Finish(fr, exitCode)
	return exitCode, err
}
