// Package consumer runs the receive side of one capture session: a periodic
// non-blocking poll of the transport with a bounded per-tick budget, feeding
// the probe data store and marking targets dirty for the redraw throttler.
// The poll never blocks the renderer's own event loop; if the consumer falls
// behind, histories still accumulate completely and only notification cadence
// degrades.
package consumer

import (
	"sync"
	"time"

	"github.com/probescope/probescope/internal/logging"
	"github.com/probescope/probescope/internal/notify"
	"github.com/probescope/probescope/internal/store"
	"github.com/probescope/probescope/internal/target"
	"github.com/probescope/probescope/internal/throttle"
	"github.com/probescope/probescope/internal/transport"
	"github.com/probescope/probescope/internal/wire"
)

// StreamResult reports how the producer's stream ended.
type StreamResult struct {
	// ExitCode is the producer's exit code on an orderly end-of-stream.
	ExitCode int
	// Fault is set when the producer reported an unhandled error.
	Fault *wire.Fault
	// Abnormal is true when the stream ended without end-of-stream
	// (producer crash).
	Abnormal bool
}

// Config tunes the poll loop.
type Config struct {
	// PollInterval is the time between transport polls.
	PollInterval time.Duration
	// Budget bounds the messages processed per poll so one busy tick
	// cannot starve the renderer.
	Budget int
}

// DefaultConfig returns the poll settings used when a field is zero.
func DefaultConfig() Config {
	return Config{
		PollInterval: 5 * time.Millisecond,
		Budget:       256,
	}
}

// Consumer owns the receive side of one session.
type Consumer struct {
	log   *logging.Logger
	recv  transport.Receiver
	store *store.Store
	thr   *throttle.Throttler
	cfg   Config

	mu       sync.Mutex
	running  bool
	done     chan struct{}
	loopDone chan struct{}

	resultOnce sync.Once
	resultCh   chan StreamResult
}

// New creates a Consumer over the given receiver, store, and throttler.
func New(recv transport.Receiver, st *store.Store, thr *throttle.Throttler, cfg Config, log *logging.Logger) *Consumer {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.Budget <= 0 {
		cfg.Budget = def.Budget
	}
	return &Consumer{
		log:      log.WithSide("consumer"),
		recv:     recv,
		store:    st,
		thr:      thr,
		cfg:      cfg,
		resultCh: make(chan StreamResult, 1),
	}
}

// Start begins the poll loop and the throttler's tick loop.
func (c *Consumer) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return
	}
	c.running = true
	c.done = make(chan struct{})
	c.loopDone = make(chan struct{})

	c.thr.Start()
	go c.loop(c.done, c.loopDone)
}

func (c *Consumer) loop(done, finished chan struct{}) {
	defer close(finished)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if terminal := c.PollOnce(); terminal {
				return
			}
		case <-done:
			return
		}
	}
}

// PollOnce drains up to the configured budget of messages and applies them.
// Returns true once a terminal message (end-of-stream, fault, abnormal
// close) has been processed. Exposed for tests and for hosts that drive the
// consumer from their own event loop.
func (c *Consumer) PollOnce() bool {
	msgs, err := c.recv.Poll(c.cfg.Budget)
	if err != nil {
		c.log.Error("transport poll failed", "error", err.Error())
		return false
	}

	for _, msg := range msgs {
		switch msg.Kind {
		case transport.KindBatch:
			touched := c.store.AppendBatch(msg.Batch)
			c.thr.MarkDirty(touched...)

		case transport.KindEndOfStream:
			c.log.Info("end of stream", "exit_code", msg.ExitCode)
			c.finish(StreamResult{ExitCode: msg.ExitCode})
			return true

		case transport.KindFault:
			c.log.Error("producer fault", "message", msg.Fault.Message)
			c.finish(StreamResult{ExitCode: 1, Fault: msg.Fault})
			return true

		case transport.KindAbnormalClose:
			c.log.Error("producer terminated without end-of-stream")
			c.finish(StreamResult{ExitCode: 1, Abnormal: true})
			return true
		}
	}
	return false
}

// finish records the stream result and flushes any remaining dirty targets
// so the final captures are rendered.
func (c *Consumer) finish(res StreamResult) {
	c.resultOnce.Do(func() {
		c.thr.Flush()
		c.resultCh <- res
	})
}

// Stop ends the poll loop and the throttler. Histories remain readable.
// The poll goroutine is joined before the receiver is closed: the receiver's
// socket may only be closed once nobody is polling it.
func (c *Consumer) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.done)
	loopDone := c.loopDone
	c.mu.Unlock()

	<-loopDone

	c.thr.Stop()
	if err := c.recv.Close(); err != nil {
		c.log.Warn("failed to close receiver", "error", err.Error())
	}
}

// Result delivers the stream result once the stream has ended.
func (c *Consumer) Result() <-chan StreamResult { return c.resultCh }

// GetHistory returns the full ordered history for a target.
func (c *Consumer) GetHistory(t target.Target) ([]store.Entry, bool) {
	return c.store.Snapshot(t)
}

// Targets returns every target with recorded data.
func (c *Consumer) Targets() []target.Target { return c.store.Targets() }

// Subscribe registers a dirty-batch handler with the throttler's bus.
func (c *Consumer) Subscribe(handler notify.Handler) uint64 {
	return c.thr.Bus().Subscribe(handler)
}

// Unsubscribe removes a dirty-batch subscription.
func (c *Consumer) Unsubscribe(id uint64) bool {
	return c.thr.Bus().Unsubscribe(id)
}

// Deregister discards a target's history and pending dirty flag. Re-adding
// the target later starts fresh.
func (c *Consumer) Deregister(t target.Target) bool {
	c.thr.Forget(t)
	return c.store.Deregister(t)
}
