package throttle

import (
	"testing"
	"time"

	"github.com/probescope/probescope/internal/notify"
	"github.com/probescope/probescope/internal/testutil"
)

func TestThrottler_ManyMarksOneNotification(t *testing.T) {
	bus := notify.NewBus()
	th := New(bus, 60)

	var got []notify.DirtyBatch
	bus.Subscribe(func(b notify.DirtyBatch) { got = append(got, b) })

	tgt := testutil.Target("main.go", 3, 1, "x", "f")
	for i := 0; i < 10000; i++ {
		th.MarkDirty(tgt)
	}

	if n := th.Flush(); n != 1 {
		t.Errorf("Expected 1 dirty target at flush, got %d", n)
	}
	if len(got) != 1 {
		t.Fatalf("10000 captures must collapse into one notification, got %d", len(got))
	}
	if len(got[0].Targets) != 1 || got[0].Targets[0] != tgt {
		t.Errorf("Notification must name the dirty target, got %v", got[0].Targets)
	}
}

func TestThrottler_IdleTickPublishesNothing(t *testing.T) {
	bus := notify.NewBus()
	th := New(bus, 60)

	calls := 0
	bus.Subscribe(func(notify.DirtyBatch) { calls++ })

	if n := th.Flush(); n != 0 {
		t.Errorf("Expected empty flush, got %d", n)
	}
	if calls != 0 {
		t.Errorf("Idle tick must publish nothing, got %d notifications", calls)
	}
}

func TestThrottler_FlushClearsDirtySet(t *testing.T) {
	bus := notify.NewBus()
	th := New(bus, 60)

	th.MarkDirty(testutil.Target("main.go", 3, 1, "x", "f"))
	th.Flush()

	if n := th.Flush(); n != 0 {
		t.Errorf("Dirty flags must clear on flush, second flush reported %d", n)
	}
}

func TestThrottler_BatchesMultipleTargets(t *testing.T) {
	bus := notify.NewBus()
	th := New(bus, 60)

	var got []notify.DirtyBatch
	bus.Subscribe(func(b notify.DirtyBatch) { got = append(got, b) })

	a := testutil.Target("main.go", 3, 1, "x", "f")
	b := testutil.Target("main.go", 4, 1, "y", "f")
	th.MarkDirty(a)
	th.MarkDirty(b, a)

	th.Flush()

	if len(got) != 1 {
		t.Fatalf("All dirty targets share one notification, got %d", len(got))
	}
	if len(got[0].Targets) != 2 {
		t.Errorf("Expected both targets in the batch, got %v", got[0].Targets)
	}
}

func TestThrottler_TickCounterAdvances(t *testing.T) {
	bus := notify.NewBus()
	th := New(bus, 60)

	var ticks []uint64
	bus.Subscribe(func(b notify.DirtyBatch) { ticks = append(ticks, b.Tick) })

	tgt := testutil.Target("main.go", 3, 1, "x", "f")
	th.MarkDirty(tgt)
	th.Flush()
	th.MarkDirty(tgt)
	th.Flush()

	if len(ticks) != 2 || ticks[0] != 1 || ticks[1] != 2 {
		t.Errorf("Expected ticks 1,2; got %v", ticks)
	}
}

func TestThrottler_Forget(t *testing.T) {
	bus := notify.NewBus()
	th := New(bus, 60)

	tgt := testutil.Target("main.go", 3, 1, "x", "f")
	th.MarkDirty(tgt)
	th.Forget(tgt)

	if n := th.Flush(); n != 0 {
		t.Errorf("Forgotten target must not be notified, flush reported %d", n)
	}
}

func TestThrottler_StopFlushesRemainder(t *testing.T) {
	bus := notify.NewBus()
	// Slow cadence so the ticker cannot fire before Stop.
	th := New(bus, 0.001)

	var got []notify.DirtyBatch
	bus.Subscribe(func(b notify.DirtyBatch) { got = append(got, b) })

	th.Start()
	th.MarkDirty(testutil.Target("main.go", 3, 1, "x", "f"))
	th.Stop()

	if len(got) != 1 {
		t.Errorf("Stop must flush remaining dirty targets, got %d notifications", len(got))
	}
}

func TestThrottler_StartIdempotent(t *testing.T) {
	th := New(notify.NewBus(), 60)
	th.Start()
	th.Start()
	th.Stop()
	th.Stop()
}

func TestThrottler_DefaultCadence(t *testing.T) {
	th := New(notify.NewBus(), 0)
	if th.interval != New(notify.NewBus(), DefaultRefreshHz).interval {
		t.Error("Non-positive refresh rate must fall back to the default")
	}
}

func TestThrottler_HintCapsPerTargetCadence(t *testing.T) {
	bus := notify.NewBus()
	th := New(bus, 60)

	now := time.Unix(0, 0)
	th.now = func() time.Time { return now }

	tgt := testutil.Target("main.go", 3, 1, "x", "f")
	th.SetHint(tgt, 10) // at most once per 100ms

	th.MarkDirty(tgt)
	if n := th.Flush(); n != 1 {
		t.Fatalf("First notification must pass the hint, flush reported %d", n)
	}

	th.MarkDirty(tgt)
	if n := th.Flush(); n != 0 {
		t.Errorf("Target inside its hint interval must be withheld, flush reported %d", n)
	}

	now = now.Add(150 * time.Millisecond)
	if n := th.Flush(); n != 1 {
		t.Errorf("Withheld target must stay dirty and flush once eligible, flush reported %d", n)
	}
}

func TestThrottler_HintDoesNotDelayOtherTargets(t *testing.T) {
	bus := notify.NewBus()
	th := New(bus, 60)

	now := time.Unix(0, 0)
	th.now = func() time.Time { return now }

	var got []notify.DirtyBatch
	bus.Subscribe(func(b notify.DirtyBatch) { got = append(got, b) })

	slow := testutil.Target("main.go", 3, 1, "x", "f")
	fast := testutil.Target("main.go", 4, 1, "y", "f")
	th.SetHint(slow, 1)

	th.MarkDirty(slow, fast)
	th.Flush()
	th.MarkDirty(slow, fast)
	th.Flush()

	if len(got) != 2 {
		t.Fatalf("Expected 2 notifications, got %d", len(got))
	}
	if len(got[1].Targets) != 1 || got[1].Targets[0] != fast {
		t.Errorf("Only the unhinted target should pass the second tick, got %v", got[1].Targets)
	}
}

func TestThrottler_ClearedHintResumesEveryTick(t *testing.T) {
	bus := notify.NewBus()
	th := New(bus, 60)

	now := time.Unix(0, 0)
	th.now = func() time.Time { return now }

	tgt := testutil.Target("main.go", 3, 1, "x", "f")
	th.SetHint(tgt, 1)
	th.MarkDirty(tgt)
	th.Flush()

	th.SetHint(tgt, 0)
	th.MarkDirty(tgt)
	if n := th.Flush(); n != 1 {
		t.Errorf("Cleared hint must stop withholding, flush reported %d", n)
	}
}

func TestThrottler_StopIgnoresHints(t *testing.T) {
	bus := notify.NewBus()
	// Slow cadence so the ticker cannot fire before Stop.
	th := New(bus, 0.001)

	var got []notify.DirtyBatch
	bus.Subscribe(func(b notify.DirtyBatch) { got = append(got, b) })

	tgt := testutil.Target("main.go", 3, 1, "x", "f")
	th.SetHint(tgt, 1)

	th.Start()
	th.MarkDirty(tgt)
	th.Flush()
	th.MarkDirty(tgt)
	th.Stop()

	if len(got) != 2 {
		t.Errorf("Final flush on Stop must deliver hinted targets too, got %d notifications", len(got))
	}
}
