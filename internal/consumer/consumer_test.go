package consumer

import (
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/probescope/probescope/internal/logging"
	"github.com/probescope/probescope/internal/notify"
	"github.com/probescope/probescope/internal/producer"
	"github.com/probescope/probescope/internal/script"
	"github.com/probescope/probescope/internal/store"
	"github.com/probescope/probescope/internal/target"
	"github.com/probescope/probescope/internal/throttle"
	"github.com/probescope/probescope/internal/transport"
)

// session wires a full in-process pipeline: producer and hook on one end,
// consumer, store, and throttler on the other.
type session struct {
	prod   *producer.Producer
	sender *transport.PairSender
	cons   *Consumer
	bus    *notify.Bus
}

func newSession(t *testing.T, opts transport.Options) *session {
	t.Helper()
	log := logging.NopLogger()

	if opts.RegionDir == "" {
		opts.RegionDir = t.TempDir()
	}
	sender, recv := transport.NewPair(opts, log)

	bus := notify.NewBus()
	st := store.New(log)
	thr := throttle.New(bus, 60)

	return &session{
		prod:   producer.New(sender, nil, log),
		sender: sender,
		cons:   New(recv, st, thr, Config{}, log),
		bus:    bus,
	}
}

// drain polls until a terminal message arrives, bounded so a broken stream
// fails the test instead of hanging it.
func (s *session) drain(t *testing.T) StreamResult {
	t.Helper()
	for i := 0; i < 1_000_000; i++ {
		if s.cons.PollOnce() {
			select {
			case res := <-s.cons.Result():
				return res
			default:
				t.Fatal("Terminal poll did not produce a stream result")
			}
		}
	}
	t.Fatal("Stream never terminated")
	return StreamResult{}
}

func asInt64(t *testing.T, v any) int64 {
	t.Helper()
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	}
	t.Fatalf("Expected an integer, got %T", v)
	return 0
}

func TestConsumer_CountdownEndToEnd(t *testing.T) {
	s := newSession(t, transport.Options{QueueLen: 256})

	prog, fr, targets := script.Countdown(100)
	for _, tgt := range targets {
		s.prod.AddTarget(tgt, 0)
	}

	engine := script.NewEngine(s.prod.Hook(), s.prod.StopRequested())
	go func() {
		if err := engine.Run(prog, fr); err != nil {
			s.prod.Fault(fr, err)
			return
		}
		s.prod.Finish(fr, 0)
	}()

	res := s.drain(t)
	if res.ExitCode != 0 || res.Fault != nil || res.Abnormal {
		t.Fatalf("Expected orderly zero exit, got %+v", res)
	}

	hist, ok := s.cons.GetHistory(targets[0])
	if !ok {
		t.Fatal("Expected a history for the probed variable")
	}
	if len(hist) != 100 {
		t.Fatalf("Expected 100 captures, got %d", len(hist))
	}

	var lastSeq uint64
	for i, e := range hist {
		if want := int64(100 - i); asInt64(t, e.Value) != want {
			t.Fatalf("Capture %d: expected %d, got %v", i, want, e.Value)
		}
		if e.Seq <= lastSeq {
			t.Fatalf("Capture %d: sequence not increasing (%d after %d)", i, e.Seq, lastSeq)
		}
		if !e.Deferred {
			t.Errorf("Capture %d: assignment destination must be deferred", i)
		}
		lastSeq = e.Seq
	}
}

func TestConsumer_VolumeDoesNotLoseData(t *testing.T) {
	s := newSession(t, transport.Options{})

	const n = 10000
	prog, fr, targets := script.Countdown(n)
	s.prod.AddTarget(targets[0], 0)

	notifications := 0
	s.cons.Subscribe(func(notify.DirtyBatch) { notifications++ })

	engine := script.NewEngine(s.prod.Hook(), nil)
	go func() {
		if err := engine.Run(prog, fr); err != nil {
			s.prod.Fault(fr, err)
			return
		}
		s.prod.Finish(fr, 0)
	}()

	res := s.drain(t)
	if res.ExitCode != 0 {
		t.Fatalf("Expected orderly exit, got %+v", res)
	}

	hist, _ := s.cons.GetHistory(targets[0])
	if len(hist) != n {
		t.Errorf("Store must hold the complete history: expected %d, got %d", n, len(hist))
	}
	// Without ticker-driven flushes only the terminal flush publishes:
	// capture volume and notification volume are fully decoupled.
	if notifications != 1 {
		t.Errorf("Expected 1 batched notification, got %d", notifications)
	}
}

func TestConsumer_WavesSharedEventAndRegionPayload(t *testing.T) {
	s := newSession(t, transport.Options{QueueLen: 256, InlineThreshold: 64})

	prog, fr, targets := script.Waves(32)
	for _, tgt := range targets {
		s.prod.AddTarget(tgt, 0)
	}
	y, idx, buf := targets[0], targets[1], targets[2]

	engine := script.NewEngine(s.prod.Hook(), nil)
	go func() {
		if err := engine.Run(prog, fr); err != nil {
			s.prod.Fault(fr, err)
			return
		}
		s.prod.Finish(fr, 0)
	}()

	res := s.drain(t)
	if res.ExitCode != 0 {
		t.Fatalf("Expected orderly exit, got %+v", res)
	}

	yHist, _ := s.cons.GetHistory(y)
	iHist, _ := s.cons.GetHistory(idx)
	if len(yHist) != 32 || len(iHist) != 32 {
		t.Fatalf("Expected 32 captures per wave variable, got %d and %d", len(yHist), len(iHist))
	}
	for k := range yHist {
		if yHist[k].Timestamp != iHist[k].Timestamp {
			t.Fatalf("Capture %d: same-statement values must share a timestamp", k)
		}
	}

	bufHist, ok := s.cons.GetHistory(buf)
	if !ok || len(bufHist) != 1 {
		t.Fatalf("Expected one capture of the sample buffer, got %d", len(bufHist))
	}
	entry := bufHist[0]
	if entry.Kind != target.KindList {
		t.Errorf("Expected list dtype for the buffer, got %v", entry.Kind)
	}
	samples, ok := entry.Value.([]any)
	if !ok {
		t.Fatalf("Expected the region payload resolved to a list, got %T", entry.Value)
	}
	if len(samples) != 32 {
		t.Errorf("Expected 32 samples, got %d", len(samples))
	}

	if err := s.sender.Release(); err != nil {
		t.Errorf("Release failed: %v", err)
	}
}

func TestConsumer_FaultResult(t *testing.T) {
	s := newSession(t, transport.Options{QueueLen: 64})

	prog, fr, targets := script.Crash()
	s.prod.AddTarget(targets[0], 0)

	engine := script.NewEngine(s.prod.Hook(), nil)
	go func() {
		if err := engine.Run(prog, fr); err != nil {
			s.prod.Fault(fr, err)
			return
		}
		s.prod.Finish(fr, 0)
	}()

	res := s.drain(t)
	if res.Fault == nil {
		t.Fatalf("Expected a fault result, got %+v", res)
	}
	if res.ExitCode != 1 || res.Abnormal {
		t.Errorf("Fault result malformed: %+v", res)
	}

	// The assignment right before the panic must have been flushed.
	hist, ok := s.cons.GetHistory(targets[0])
	if !ok || len(hist) != 1 {
		t.Fatalf("Expected the pre-panic capture, got %d entries", len(hist))
	}
	if asInt64(t, hist[0].Value) != 42 {
		t.Errorf("Expected the value assigned before the panic, got %v", hist[0].Value)
	}
}

func TestConsumer_AbnormalClose(t *testing.T) {
	s := newSession(t, transport.Options{QueueLen: 64})

	if err := s.sender.Close(); err != nil { // crash: no end-of-stream
		t.Fatalf("Close failed: %v", err)
	}

	res := s.drain(t)
	if !res.Abnormal {
		t.Errorf("Expected abnormal close, got %+v", res)
	}
	if res.ExitCode != 1 {
		t.Errorf("Abnormal close must report failure, got exit code %d", res.ExitCode)
	}
}

func TestConsumer_DeregisterDiscardsHistory(t *testing.T) {
	s := newSession(t, transport.Options{QueueLen: 64})

	prog, fr, targets := script.Countdown(3)
	s.prod.AddTarget(targets[0], 0)

	engine := script.NewEngine(s.prod.Hook(), nil)
	if err := engine.Run(prog, fr); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	s.prod.Finish(fr, 0)
	s.drain(t)

	if !s.cons.Deregister(targets[0]) {
		t.Fatal("Deregister should report true for a recorded target")
	}
	if _, ok := s.cons.GetHistory(targets[0]); ok {
		t.Error("History must be discarded on deregistration")
	}
	if s.cons.Deregister(targets[0]) {
		t.Error("Deregister should report false the second time")
	}
}

func TestConsumer_PollLoopDeliversResult(t *testing.T) {
	s := newSession(t, transport.Options{QueueLen: 64})

	prog, fr, targets := script.Countdown(5)
	s.prod.AddTarget(targets[0], 0)

	engine := script.NewEngine(s.prod.Hook(), nil)
	go func() {
		if err := engine.Run(prog, fr); err != nil {
			s.prod.Fault(fr, err)
			return
		}
		s.prod.Finish(fr, 0)
	}()

	s.cons.Start()
	defer s.cons.Stop()

	select {
	case res := <-s.cons.Result():
		if res.ExitCode != 0 {
			t.Errorf("Expected orderly exit, got %+v", res)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Poll loop never delivered a stream result")
	}

	if len(s.cons.Targets()) != 1 {
		t.Errorf("Expected one recorded target, got %v", s.cons.Targets())
	}
}

// trackingReceiver records whether Close ever overlapped an in-flight Poll.
type trackingReceiver struct {
	mu      sync.Mutex
	polling bool
	closed  bool
	overlap bool
}

func (r *trackingReceiver) Poll(int) ([]transport.Message, error) {
	r.mu.Lock()
	r.polling = true
	r.mu.Unlock()

	time.Sleep(200 * time.Microsecond)

	r.mu.Lock()
	r.polling = false
	r.mu.Unlock()
	return nil, nil
}

func (r *trackingReceiver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.polling {
		r.overlap = true
	}
	return nil
}

func TestConsumer_StopJoinsPollLoopBeforeClosingReceiver(t *testing.T) {
	log := logging.NopLogger()
	recv := &trackingReceiver{}
	c := New(recv, store.New(log), throttle.New(notify.NewBus(), 60), Config{
		PollInterval: time.Microsecond,
		Budget:       1,
	}, log)

	c.Start()
	time.Sleep(5 * time.Millisecond)
	c.Stop()

	recv.mu.Lock()
	defer recv.mu.Unlock()
	if !recv.closed {
		t.Fatal("Stop must close the receiver")
	}
	if recv.overlap {
		t.Error("Receiver was closed while a poll was in flight")
	}
}
