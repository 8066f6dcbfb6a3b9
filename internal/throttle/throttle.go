// Package throttle decouples capture rate from display rate. Appends mark
// targets dirty; on a fixed cadence the throttler collects every dirty
// target, clears the flags, and publishes one batched notification telling
// renderers to re-read those histories. It governs display cadence only —
// the probe data store holds the complete history regardless of render rate.
package throttle

import (
	"sync"
	"time"

	"github.com/probescope/probescope/internal/notify"
	"github.com/probescope/probescope/internal/target"
)

// DefaultRefreshHz is the default display refresh cadence.
const DefaultRefreshHz = 60

// Throttler tracks dirty targets and emits batched redraw notifications.
// All methods are safe for concurrent use.
type Throttler struct {
	bus      *notify.Bus
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	dirty    map[target.Target]struct{}
	hints    map[target.Target]time.Duration
	notified map[target.Target]time.Time
	tick     uint64
	running  bool
	done     chan struct{}
}

// New creates a Throttler publishing to bus at the given refresh rate.
// A non-positive refreshHz uses DefaultRefreshHz.
func New(bus *notify.Bus, refreshHz float64) *Throttler {
	if refreshHz <= 0 {
		refreshHz = DefaultRefreshHz
	}
	return &Throttler{
		bus:      bus,
		interval: time.Duration(float64(time.Second) / refreshHz),
		now:      time.Now,
		dirty:    make(map[target.Target]struct{}),
		hints:    make(map[target.Target]time.Duration),
		notified: make(map[target.Target]time.Time),
	}
}

// Bus returns the notification bus renderers subscribe to.
func (th *Throttler) Bus() *notify.Bus { return th.bus }

// SetHint caps how often one target appears in notifications, to at most hz
// per second. A withheld target stays dirty and is included on the first tick
// after its interval elapses, so no capture is lost — only the redraw is
// delayed. A non-positive hz clears the cap.
func (th *Throttler) SetHint(t target.Target, hz float64) {
	th.mu.Lock()
	defer th.mu.Unlock()
	if hz <= 0 {
		delete(th.hints, t)
		return
	}
	th.hints[t] = time.Duration(float64(time.Second) / hz)
}

// MarkDirty flags a target as having new data. Any number of captures
// between two ticks collapse into a single notification entry.
func (th *Throttler) MarkDirty(targets ...target.Target) {
	th.mu.Lock()
	for _, t := range targets {
		th.dirty[t] = struct{}{}
	}
	th.mu.Unlock()
}

// Forget drops a target's dirty flag and hint state, used when the target is
// deregistered between ticks.
func (th *Throttler) Forget(t target.Target) {
	th.mu.Lock()
	delete(th.dirty, t)
	delete(th.hints, t)
	delete(th.notified, t)
	th.mu.Unlock()
}

// Start begins the tick loop. Safe to call on a running throttler.
func (th *Throttler) Start() {
	th.mu.Lock()
	defer th.mu.Unlock()

	if th.running {
		return
	}
	th.running = true
	th.done = make(chan struct{})

	go th.loop(th.done)
}

func (th *Throttler) loop(done chan struct{}) {
	ticker := time.NewTicker(th.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			th.Flush()
		case <-done:
			return
		}
	}
}

// Stop ends the tick loop and emits one final notification if any targets
// are still dirty, so data arriving just before shutdown is rendered. The
// final flush ignores per-target hints.
func (th *Throttler) Stop() {
	th.mu.Lock()
	if !th.running {
		th.mu.Unlock()
		return
	}
	th.running = false
	close(th.done)
	th.mu.Unlock()

	th.flush(true)
}

// Flush performs one tick immediately: collect the eligible dirty targets,
// clear their flags, and publish a single batched notification. Targets
// withheld by a hint stay dirty for a later tick; a tick with nothing
// eligible publishes nothing. Exposed for tests and for the final flush on
// Stop.
func (th *Throttler) Flush() int {
	return th.flush(false)
}

func (th *Throttler) flush(force bool) int {
	th.mu.Lock()
	if len(th.dirty) == 0 {
		th.mu.Unlock()
		return 0
	}

	now := th.now()
	targets := make([]target.Target, 0, len(th.dirty))
	for t := range th.dirty {
		if !force {
			if min, hinted := th.hints[t]; hinted {
				if last, seen := th.notified[t]; seen && now.Sub(last) < min {
					continue
				}
			}
		}
		targets = append(targets, t)
		th.notified[t] = now
		delete(th.dirty, t)
	}
	if len(targets) == 0 {
		th.mu.Unlock()
		return 0
	}
	th.tick++
	tick := th.tick
	th.mu.Unlock()

	th.bus.Publish(notify.DirtyBatch{
		Targets: targets,
		Tick:    tick,
		At:      now,
	})
	return len(targets)
}
