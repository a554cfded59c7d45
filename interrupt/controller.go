// Package interrupt implements the software-interrupt subsystem: per-worker
// timer-driven preemption signals and signal-safe critical sections.
//
// Go provides no portable way to deliver an OS signal to one specific
// goroutine mid-instruction and resume exactly where it left off, so the
// "signal handler" here is realized as a callback invoked by the owning
// worker's poll goroutine when its I/O multiplexer reports the per-worker
// timer fd readable (see the ioloop package). This keeps the handler
// inside the owning worker, which is the Go-idiomatic rendering of "signal
// delivered only to the owning worker thread" — see design note §9.
package interrupt

import (
	"sync/atomic"
)

// Signal identifies one of the two recognized signal kinds.
type Signal int

const (
	// SignalAlarm is the SIGALRM analogue: periodic time-slice expiry.
	SignalAlarm Signal = iota
	// SignalWake is the SIGUSR1 analogue: cross-thread "wake from block".
	SignalWake
)

// Controller holds the per-worker software-interrupt state described in
// §3 and §4.2. One Controller is owned by exactly one worker.
type Controller struct {
	workerIdx int

	disabled      atomic.Bool
	deferredCount atomic.Int64

	// deferredMax is shared process-wide observability state, indexed by
	// worker index (§3: "a process-wide array deferred_max[worker_idx]").
	deferredMax *DeferredMaxTable

	// pendingPreempt is set by OnTimerFired and cleared by whatever
	// consumes it (ctxswitch, at the sandbox's next safe point).
	pendingPreempt atomic.Bool
}

// DeferredMaxTable is the process-wide deferred_max[worker_idx] array.
// Reads/writes to each slot are atomic-relaxed per §5.
type DeferredMaxTable struct {
	slots []atomic.Int64
}

// NewDeferredMaxTable allocates a table sized for workerCount workers.
func NewDeferredMaxTable(workerCount int) *DeferredMaxTable {
	return &DeferredMaxTable{slots: make([]atomic.Int64, workerCount)}
}

// RecordIfLarger stores value at idx if it exceeds the current slot value.
func (t *DeferredMaxTable) RecordIfLarger(idx int, value int64) {
	for {
		cur := t.slots[idx].Load()
		if value <= cur {
			return
		}
		if t.slots[idx].CompareAndSwap(cur, value) {
			return
		}
	}
}

// Get returns the recorded maximum for idx.
func (t *DeferredMaxTable) Get(idx int) int64 { return t.slots[idx].Load() }

// NewController constructs a Controller for workerIdx backed by the shared
// deferredMax table.
func NewController(workerIdx int, deferredMax *DeferredMaxTable) *Controller {
	return &Controller{workerIdx: workerIdx, deferredMax: deferredMax}
}

// Disable atomically transitions disabled 0->1. A recursive disable (the
// flag was already set) is a FATAL_INVARIANT and halts the process,
// matching the original's panic("Recursive call to software_interrupt_disable").
func (c *Controller) Disable() {
	if !c.disabled.CompareAndSwap(false, true) {
		panic("interrupt: recursive call to Disable")
	}
}

// Enable atomically transitions disabled 1->0. If deferred_count is
// nonzero it is folded into deferred_max[workerIdx] and cleared. Per the
// recorded open question in §9, this does not resynthesize a preemption
// for signals that arrived while disabled.
func (c *Controller) Enable() {
	if !c.disabled.CompareAndSwap(true, false) {
		panic("interrupt: recursive call to Enable")
	}

	deferred := c.deferredCount.Swap(0)
	if deferred > 0 {
		c.deferredMax.RecordIfLarger(c.workerIdx, deferred)
	}
}

// IsEnabled reports whether interrupts are currently enabled.
func (c *Controller) IsEnabled() bool { return !c.disabled.Load() }

// DeferredMaxObservation returns the largest deferred-signal count this
// worker has folded into the shared table so far, for surfacing into the
// deferred_max[worker_idx] observability gauge (§3/§4.2).
func (c *Controller) DeferredMaxObservation() int64 {
	return c.deferredMax.Get(c.workerIdx)
}

// DeferredCount returns the number of timer signals coalesced since the
// last Enable, for tests and observability.
func (c *Controller) DeferredCount() int64 { return c.deferredCount.Load() }

// OnTimerFired is the signal-handler-equivalent entry point, invoked by the
// worker when its per-thread timer expires (§4.2 step 1-2). It must not
// allocate or block.
func (c *Controller) OnTimerFired(sandboxRunning bool, consumedOneQuantum bool) {
	if c.disabled.Load() {
		c.deferredCount.Add(1)
		return
	}
	if sandboxRunning && consumedOneQuantum {
		c.pendingPreempt.Store(true)
	}
}

// PreemptionPending reports and clears a pending preemption request; it is
// polled by the running sandbox's safe points (ctxswitch.Yield).
func (c *Controller) PreemptionPending() bool {
	return c.pendingPreempt.CompareAndSwap(true, false)
}
