package hook

import (
	"testing"

	"github.com/probescope/probescope/internal/locindex"
	"github.com/probescope/probescope/internal/logging"
	"github.com/probescope/probescope/internal/sequence"
	"github.com/probescope/probescope/internal/target"
	"github.com/probescope/probescope/internal/testutil"
)

// fakeFrame is a ValueReader over a plain map.
type fakeFrame map[string]any

func (f fakeFrame) ReadValue(symbol, scope string) (any, bool) {
	v, ok := f[symbol]
	return v, ok
}

func newHook(t *testing.T, batches *[]target.Batch) (*Hook, *locindex.Index) {
	t.Helper()
	idx := locindex.New()
	asm := sequence.NewAssembler(logging.NopLogger(), nil, func(b target.Batch) {
		*batches = append(*batches, b)
	})
	return New(idx, asm, logging.NopLogger()), idx
}

func records(batches []target.Batch) []target.Record {
	var out []target.Record
	for _, b := range batches {
		out = append(out, b...)
	}
	return out
}

func TestHook_NoTargetsNoCapture(t *testing.T) {
	var batches []target.Batch
	hk, _ := newHook(t, &batches)
	fr := fakeFrame{"x": 1}

	for i := 0; i < 100; i++ {
		hk.OnStatement(fr, "main.go", i)
	}
	hk.OnReturn(fr)

	if len(batches) != 0 {
		t.Errorf("Expected no batches without registered targets, got %d", len(batches))
	}
}

func TestHook_ImmediateCapture(t *testing.T) {
	var batches []target.Batch
	hk, idx := newHook(t, &batches)

	tgt := testutil.Target("main.go", 5, 1, "x", "")
	idx.Add(tgt, 0)

	fr := fakeFrame{"x": 41}
	hk.OnStatement(fr, "main.go", 5)

	recs := records(batches)
	if len(recs) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(recs))
	}
	if recs[0].Deferred {
		t.Error("A non-assignment read must be captured immediately")
	}
	if v, ok := recs[0].Value.(int64); !ok || v != 41 {
		t.Errorf("Expected value 41, got %v", recs[0].Value)
	}
}

func TestHook_DeferredCaptureSeesPostAssignmentValue(t *testing.T) {
	var batches []target.Batch
	hk, idx := newHook(t, &batches)

	tgt := testutil.Target("main.go", 5, 1, "v", "")
	idx.Add(tgt, 0)

	fr := fakeFrame{"v": 0}

	// v = f(x): the hook fires before the statement runs, so reading v now
	// would observe the stale pre-assignment value.
	hk.OnStatement(fr, "main.go", 5, "v")
	fr["v"] = 123 // the statement executes

	// Next statement flushes the deferred capture.
	hk.OnStatement(fr, "main.go", 6)

	recs := records(batches)
	if len(recs) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(recs))
	}
	if !recs[0].Deferred {
		t.Error("Assignment destination must be captured deferred")
	}
	if v, ok := recs[0].Value.(int64); !ok || v != 123 {
		t.Errorf("Deferred capture must see the post-assignment value, got %v", recs[0].Value)
	}
}

func TestHook_LoopOrderPreservation(t *testing.T) {
	var batches []target.Batch
	hk, idx := newHook(t, &batches)

	tgt := testutil.Target("main.go", 5, 1, "v", "")
	idx.Add(tgt, 0)

	fr := fakeFrame{}
	for i := 9; i >= 1; i-- {
		hk.OnStatement(fr, "main.go", 5, "v")
		fr["v"] = i
	}
	hk.OnReturn(fr)

	recs := records(batches)
	if len(recs) != 9 {
		t.Fatalf("Expected 9 records for 9 iterations, got %d", len(recs))
	}

	var lastSeq uint64
	for i, rec := range recs {
		want := int64(9 - i)
		if v, _ := rec.Value.(int64); v != want {
			t.Errorf("Record %d: expected value %d, got %v", i, want, rec.Value)
		}
		if rec.Seq <= lastSeq {
			t.Errorf("Record %d: seq %d not increasing past %d", i, rec.Seq, lastSeq)
		}
		lastSeq = rec.Seq
	}
}

func TestHook_ScopeExitFlushOnReturn(t *testing.T) {
	var batches []target.Batch
	hk, idx := newHook(t, &batches)

	tgt := testutil.Target("main.go", 5, 1, "v", "")
	idx.Add(tgt, 0)

	fr := fakeFrame{}
	hk.OnStatement(fr, "main.go", 5, "v")
	fr["v"] = 7
	hk.OnReturn(fr) // function returns right after the assignment

	recs := records(batches)
	if len(recs) != 1 {
		t.Fatalf("Deferred capture lost at return boundary: got %d records", len(recs))
	}
	if v, _ := recs[0].Value.(int64); v != 7 {
		t.Errorf("Expected post-assignment value 7, got %v", recs[0].Value)
	}
}

func TestHook_ScopeExitFlushOnPanic(t *testing.T) {
	var batches []target.Batch
	hk, idx := newHook(t, &batches)

	tgt := testutil.Target("main.go", 5, 1, "v", "")
	idx.Add(tgt, 0)

	fr := fakeFrame{}
	hk.OnStatement(fr, "main.go", 5, "v")
	fr["v"] = 7
	hk.OnPanic(fr, "boom")

	recs := records(batches)
	if len(recs) != 1 {
		t.Fatalf("Deferred capture lost at panic boundary: got %d records", len(recs))
	}
	if !recs[0].Deferred {
		t.Error("Flushed record must be marked deferred")
	}
}

func TestHook_TwoTargetsOneStatement(t *testing.T) {
	var batches []target.Batch
	hk, idx := newHook(t, &batches)

	x := testutil.Target("main.go", 5, 1, "x", "")
	y := testutil.Target("main.go", 5, 5, "y", "")
	idx.Add(x, 0)
	idx.Add(y, 0)

	fr := fakeFrame{"x": 1, "y": 2}
	hk.OnStatement(fr, "main.go", 5)

	if len(batches) != 1 {
		t.Fatalf("Two targets on one statement must share a batch, got %d batches", len(batches))
	}
	batch := batches[0]
	if len(batch) != 2 {
		t.Fatalf("Expected 2 records in the batch, got %d", len(batch))
	}
	if batch[0].Timestamp != batch[1].Timestamp {
		t.Error("Same-event records must share a timestamp")
	}
	if batch[0].Logical != 0 || batch[1].Logical != 1 {
		t.Errorf("Expected sequential logical order, got %d,%d", batch[0].Logical, batch[1].Logical)
	}
}

func TestHook_RHSCapturesBeforeLHSReservation(t *testing.T) {
	var batches []target.Batch
	hk, idx := newHook(t, &batches)

	// v = x + 1 with both v (LHS) and x (RHS) probed on the same line.
	lhs := testutil.Target("main.go", 5, 1, "v", "")
	rhs := testutil.Target("main.go", 5, 5, "x", "")
	idx.Add(lhs, 0)
	idx.Add(rhs, 0)

	fr := fakeFrame{"x": 10}
	hk.OnStatement(fr, "main.go", 5, "v")
	fr["v"] = 11
	hk.OnReturn(fr)

	recs := records(batches)
	if len(recs) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(recs))
	}

	var rhsSeq, lhsSeq uint64
	for _, rec := range recs {
		switch rec.Target.Symbol {
		case "x":
			rhsSeq = rec.Seq
		case "v":
			lhsSeq = rec.Seq
		}
	}
	if rhsSeq == 0 || lhsSeq == 0 {
		t.Fatal("Missing a record for one of the targets")
	}
	if rhsSeq >= lhsSeq {
		t.Errorf("RHS capture (seq %d) must sort before the LHS reservation (seq %d)", rhsSeq, lhsSeq)
	}
}

func TestHook_HotRemoveStopsCapture(t *testing.T) {
	var batches []target.Batch
	hk, idx := newHook(t, &batches)

	tgt := testutil.Target("main.go", 5, 1, "x", "")
	idx.Add(tgt, 0)
	fr := fakeFrame{"x": 1}

	hk.OnStatement(fr, "main.go", 5)
	idx.Remove(tgt)
	hk.OnStatement(fr, "main.go", 5)

	if len(records(batches)) != 1 {
		t.Errorf("Expected capture to stop after removal, got %d records", len(records(batches)))
	}
}
