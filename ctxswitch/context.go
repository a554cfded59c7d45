// Package ctxswitch implements the stack-swap context switcher between a
// sandbox's guest code and its worker's scheduler loop.
//
// Go has no portable ucontext-equivalent reachable without cgo or
// architecture-specific assembly. Per design note §9, this models the
// switch as a goroutine parked on a channel receive at every safe point:
// the Go runtime already preserves a blocked goroutine's full call stack,
// so blocking on a channel receive *is* "capture", and unblocking it via a
// channel send *is* "resume". This is the idiomatic Go rendering of the
// spec's opaque Context value with capture/resume semantics.
package ctxswitch

import (
	"fmt"

	"github.com/go-foundations/sandboxrt/interrupt"
)

// Outcome classifies why a guest returned control to the worker.
type Outcome int

const (
	// OutcomePaused means the guest yielded — cooperatively or because a
	// preemption was pending — and remains resumable. RUNNING -> RUNNABLE.
	OutcomePaused Outcome = iota
	// OutcomeBlocked means the guest is waiting on I/O. RUNNING -> BLOCKED.
	OutcomeBlocked
	// OutcomeReturned means the guest's entry function returned normally.
	// RUNNING -> RETURNED.
	OutcomeReturned
	// OutcomeError means the guest's entry function returned an error or
	// panicked (a guest trap). RUNNING -> ERROR.
	OutcomeError
)

// Result is what SwitchTo hands back to the worker loop after a dispatch.
type Result struct {
	Outcome Outcome
	Err     error
	// WasPreempted is set only when Outcome is OutcomePaused and the pause
	// was caused by Yield actually consuming a pending preemption — as
	// opposed to a plain Cooperative yield, which also produces
	// OutcomePaused but never touches PreemptionPending. The worker uses
	// this to count real preemptions (§4.2) without conflating them with
	// voluntary yields.
	WasPreempted bool
}

// EntryFunc is the sandbox's guest entry function. It must call
// Yielder.Yield at safe points (loop back-edges, in real WASM runtimes
// these are "epoch" checks) so the worker can preempt it, and
// Yielder.Block before any operation that would otherwise block the OS
// thread.
type EntryFunc func(y *Yielder) error

// Context is the switchable unit: one sandbox's suspended-or-running
// goroutine. The zero value is not usable; construct with New.
type Context struct {
	entry   EntryFunc
	started bool
	resume  chan struct{}
	done    chan Result
}

// New constructs a Context around entry. The guest goroutine is not
// started until the first call to SwitchTo.
func New(entry EntryFunc) *Context {
	return &Context{
		entry:  entry,
		resume: make(chan struct{}),
		done:   make(chan Result, 1),
	}
}

// Yielder is handed to the guest entry function so it can cooperate with
// the scheduler at safe points.
type Yielder struct {
	ctx *Context
}

// Yield is a safe point. If ctrl has a pending preemption, this parks the
// guest goroutine and returns control to the worker with OutcomePaused; it
// resumes transparently (as a normal function return) once the worker
// calls SwitchTo again. If nothing is pending this is a fast-path no-op —
// no channel traffic, no allocation.
func (y *Yielder) Yield(ctrl *interrupt.Controller) {
	if !ctrl.PreemptionPending() {
		return
	}
	y.ctx.pause(Result{Outcome: OutcomePaused, WasPreempted: true})
}

// Cooperative is an explicit voluntary yield, independent of any pending
// preemption (the spec's "worker on cooperative yield" edge).
func (y *Yielder) Cooperative() {
	y.ctx.pause(Result{Outcome: OutcomePaused})
}

// Block parks the guest goroutine and returns control to the worker with
// OutcomeBlocked, for the "RUNNING -> BLOCKED" transition on an I/O call
// that would otherwise block.
func (y *Yielder) Block() {
	y.ctx.pause(Result{Outcome: OutcomeBlocked})
}

func (c *Context) pause(result Result) {
	c.done <- result
	<-c.resume
}

// SwitchTo hands control to the sandbox: on first call it starts the guest
// goroutine via a trampoline (switch_to in §4.5); on later calls it
// resumes a parked goroutine (save_and_switch / preempt). It blocks until
// the guest pauses, blocks, returns, or traps, then returns that Result.
//
// Invariant: the caller (worker) must not call SwitchTo again for the same
// Context while a prior call is still in flight on another goroutine —
// that would violate "at most one sandbox is in state RUNNING on that
// worker" (§8). A single worker goroutine driving one Context at a time
// satisfies this by construction.
func (c *Context) SwitchTo() Result {
	if !c.started {
		c.started = true
		y := &Yielder{ctx: c}
		go c.run(y)
	} else {
		c.resume <- struct{}{}
	}
	return <-c.done
}

func (c *Context) run(y *Yielder) {
	defer func() {
		if r := recover(); r != nil {
			c.done <- Result{Outcome: OutcomeError, Err: fmt.Errorf("guest trap: %v", r)}
		}
	}()

	if err := c.entry(y); err != nil {
		c.done <- Result{Outcome: OutcomeError, Err: err}
		return
	}
	c.done <- Result{Outcome: OutcomeReturned}
}
