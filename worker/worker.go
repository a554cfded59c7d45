// Package worker implements the per-worker main loop described in §4.4:
// a single OS thread, pinned to one core, that pulls admissions, maintains
// a run-queue, dispatches sandboxes through their context switcher, and
// services the software-interrupt subsystem.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/go-foundations/sandboxrt/admission"
	"github.com/go-foundations/sandboxrt/ctxswitch"
	"github.com/go-foundations/sandboxrt/interrupt"
	"github.com/go-foundations/sandboxrt/ioloop"
	"github.com/go-foundations/sandboxrt/metrics"
	"github.com/go-foundations/sandboxrt/runqueue"
	"github.com/go-foundations/sandboxrt/runtimecfg"
	"github.com/go-foundations/sandboxrt/sandbox"
	"github.com/rs/zerolog"
)

// GuestLoader resolves a request's module name to an entry function. The
// actual guest-code translation/execution engine is an external
// collaborator (Non-goals); the worker only needs something that behaves
// like one for dispatch purposes.
type GuestLoader func(req *sandbox.Request) (ctxswitch.EntryFunc, error)

// Idx identifies a worker for logging and metrics labeling.
type Idx int

// Worker owns one run-queue, one interrupt controller, one poller, and
// drives sandboxes to completion one at a time.
type Worker struct {
	idx    Idx
	core   int
	policy admission.Policy

	admissionSched *admission.Scheduler
	runq           *runqueue.RunQueue
	ctrl           *interrupt.Controller
	poller         *ioloop.Poller
	loader         GuestLoader
	metrics        *metrics.Registry

	log zerolog.Logger

	memorySize int
	idlePoll   time.Duration

	// inFlight tracks sandboxes the worker currently holds: RUNNING,
	// RUNNABLE (on runq), or BLOCKED (parked on an I/O fd). A sandbox
	// leaves this map only on RETURNED/ERROR.
	inFlight map[*sandbox.Sandbox]*ctxswitch.Context
	blocked  map[int]*sandbox.Sandbox // fd -> sandbox waiting on it

	// running reports whether a sandbox is currently inside SwitchTo, read
	// by pollLoop (a different goroutine from the one driving dispatch) to
	// answer OnTimerFired's "is a sandbox running" question.
	running atomic.Bool

	// ioEvents carries I/O readiness classified by pollLoop/pollOnce to
	// processIO, which applies it on the dispatch goroutine. Buffered so a
	// burst of wakeups between ticks doesn't stall the poller.
	ioEvents chan ioloop.Event
}

// Config bundles the dependencies and tunables a Worker needs. Fields with
// no explicit default use the package-level defaults documented below.
type Config struct {
	Idx            Idx
	Core           int
	Policy         admission.Policy
	AdmissionSched *admission.Scheduler
	DeferredMax    *interrupt.DeferredMaxTable
	Loader         GuestLoader
	Metrics        *metrics.Registry
	Log            zerolog.Logger
	MemorySizeBytes int
	// IdlePoll bounds each epoll wait of the worker's poll goroutine and is
	// how long the dispatch loop pauses when it has no work, the "yields
	// briefly" behavior of §4.4 step 2c. Defaults to 1ms.
	IdlePoll time.Duration
}

// defaultMemorySizeBytes is used when Config.MemorySizeBytes is zero — a
// conservative default sandbox linear-memory size.
const defaultMemorySizeBytes = 4 << 20 // 4 MiB

// New constructs a Worker. It does not start the goroutine or touch any
// OS thread state; call Run for that.
func New(cfg Config) (*Worker, error) {
	poller, err := ioloop.New()
	if err != nil {
		return nil, fmt.Errorf("worker[%d]: create poller: %w", cfg.Idx, err)
	}

	memSize := cfg.MemorySizeBytes
	if memSize <= 0 {
		memSize = defaultMemorySizeBytes
	}
	idle := cfg.IdlePoll
	if idle <= 0 {
		idle = time.Millisecond
	}

	w := &Worker{
		idx:            cfg.Idx,
		core:           cfg.Core,
		policy:         cfg.Policy,
		admissionSched: cfg.AdmissionSched,
		runq:           runqueue.New(cfg.Policy),
		ctrl:           interrupt.NewController(int(cfg.Idx), cfg.DeferredMax),
		poller:         poller,
		loader:         cfg.Loader,
		metrics:        cfg.Metrics,
		log:            cfg.Log.With().Int("worker", int(cfg.Idx)).Logger(),
		memorySize:     memSize,
		idlePoll:       idle,
		inFlight:       make(map[*sandbox.Sandbox]*ctxswitch.Context),
		blocked:        make(map[int]*sandbox.Sandbox),
		ioEvents:       make(chan ioloop.Event, 64),
	}
	return w, nil
}

// Run pins the calling goroutine to its configured core and drives the
// main loop (§4.4 steps 1-2) until ctx is cancelled. It must be invoked as
// the entire body of a dedicated goroutine — runtime.LockOSThread's
// guarantee only holds for the goroutine that calls it.
func (w *Worker) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer w.poller.Close()

	interrupt.Mask(interrupt.SignalAlarm)
	interrupt.Mask(interrupt.SignalWake)
	if err := runtimecfg.PinCurrentThread(w.core); err != nil {
		return fmt.Errorf("worker[%d]: %w", w.idx, err)
	}
	if err := w.poller.ArmTimer(runtimecfg.SoftwareInterruptInterval); err != nil {
		return fmt.Errorf("worker[%d]: arm timer: %w", w.idx, err)
	}
	interrupt.Unmask(interrupt.SignalAlarm)
	interrupt.Unmask(interrupt.SignalWake)

	w.log.Info().Int("core", w.core).Msg("worker started")

	// pollLoop owns the poller for the lifetime of Run, running
	// concurrently with the dispatch loop below. This matters because a
	// sandbox's quantum can run for the full inter-timer interval with the
	// dispatch goroutine parked inside SwitchTo; nothing else would ever
	// observe the timerfd firing if polling only happened between
	// dispatches (§4.2: the timer is asynchronous to the sandbox, not to
	// the worker's tick).
	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		w.pollLoop(ctx)
	}()
	defer func() { <-pollDone }()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("worker stopping")
			return nil
		default:
		}
		w.tick(ctx)
	}
}

// tick runs one iteration of the loop body in §4.4 step 2.
func (w *Worker) tick(ctx context.Context) {
	w.processIO()
	w.evictExpired()

	sb := w.selectNext()
	if sb == nil {
		w.reportDepth()
		select {
		case <-ctx.Done():
		case <-time.After(w.idlePoll):
		}
		return
	}

	w.dispatch(sb)
	w.reportDepth()
}

// pollLoop repeatedly calls pollOnce until ctx is cancelled. It is the
// sole poller owner while Run is active.
func (w *Worker) pollLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		w.pollOnce(w.idlePoll)
	}
}

// pollOnce performs a single poller.Wait pass: timer fires feed the
// interrupt controller and the deferred_max observability gauge directly;
// I/O readiness is queued for processIO, which applies it on the dispatch
// goroutine. Callers must not invoke pollOnce concurrently with another
// pollOnce on the same Worker.
func (w *Worker) pollOnce(timeout time.Duration) {
	events, err := w.poller.Wait(timeout)
	if err != nil {
		w.log.Warn().Err(err).Msg("poller wait failed")
		return
	}

	for _, ev := range events {
		switch ev.Kind {
		case ioloop.EventTimer:
			w.ctrl.OnTimerFired(w.running.Load(), true)
			if w.metrics != nil {
				w.metrics.DeferredMax.WithLabelValues(fmt.Sprint(int(w.idx))).Set(float64(w.ctrl.DeferredMaxObservation()))
			}
		case ioloop.EventWake:
			// Cross-thread nudge; the loop will simply re-check I/O and
			// the run-queue on its next iteration.
		case ioloop.EventIO:
			select {
			case w.ioEvents <- ev:
			default:
				w.log.Warn().Int("fd", ev.FD).Msg("io readiness event dropped: queue full")
			}
		}
	}
}

// processIO is step (a): applies any I/O readiness pollOnce has queued,
// waking the sandbox waiting on each fd.
func (w *Worker) processIO() {
	for {
		select {
		case ev := <-w.ioEvents:
			sb, ok := w.blocked[ev.FD]
			if !ok {
				continue
			}
			delete(w.blocked, ev.FD)
			_ = w.poller.UnregisterFD(ev.FD)
			if err := sb.Transition(sandbox.Runnable); err != nil {
				w.log.Warn().Err(err).Str("sandbox", sb.ID.String()).Msg("wake transition failed")
				continue
			}
			w.runq.Insert(sb)
		default:
			return
		}
	}
}

// evictExpired drops run-queue entries whose deadline has already passed,
// per §5's deadline-eviction rule.
func (w *Worker) evictExpired() {
	expired := w.runq.EvictExpired(time.Now())
	for _, sb := range expired {
		w.log.Warn().Str("sandbox", sb.ID.String()).Msg("sandbox evicted: deadline missed")
		if w.metrics != nil {
			w.metrics.SandboxFailures.WithLabelValues(sb.Cause().String()).Inc()
		}
		delete(w.inFlight, sb)
	}
}

// selectNext is step (b): prefers the run-queue, falling back to a fresh
// admission from the global scheduler.
func (w *Worker) selectNext() *sandbox.Sandbox {
	if sb, ok := w.runq.Next(); ok {
		return sb
	}

	req, ok := w.admissionSched.Remove()
	if !ok {
		return nil
	}

	sb := sandbox.New(req, w.memorySize)
	if err := sb.Transition(sandbox.Initialized); err != nil {
		sb.Fail(sandbox.CauseAllocationFailure)
		w.log.Error().Err(err).Str("sandbox", sb.ID.String()).Msg("initialize failed")
		return nil
	}
	if err := sb.Transition(sandbox.Runnable); err != nil {
		sb.Fail(sandbox.CauseAllocationFailure)
		w.log.Error().Err(err).Str("sandbox", sb.ID.String()).Msg("admit-to-runnable failed")
		return nil
	}

	w.inFlight[sb] = nil
	return sb
}

// dispatch is steps (d)-(e): hands control to the sandbox and reacts to
// the result.
func (w *Worker) dispatch(sb *sandbox.Sandbox) {
	if sb.DeadlineExceeded(time.Now()) {
		sb.Fail(sandbox.CauseDeadlineMissed)
		delete(w.inFlight, sb)
		if w.metrics != nil {
			w.metrics.SandboxFailures.WithLabelValues(sb.Cause().String()).Inc()
		}
		return
	}

	guestCtx, ok := w.inFlight[sb]
	if !ok || guestCtx == nil {
		entry, err := w.loader(sb.Request)
		if err != nil {
			sb.Fail(sandbox.CauseGuestTrap)
			delete(w.inFlight, sb)
			w.log.Error().Err(err).Str("sandbox", sb.ID.String()).Msg("guest load failed")
			return
		}
		guestCtx = ctxswitch.New(func(y *ctxswitch.Yielder) error {
			return w.runGuest(y, entry)
		})
		w.inFlight[sb] = guestCtx
	}

	if err := sb.Transition(sandbox.Running); err != nil {
		w.log.Error().Err(err).Str("sandbox", sb.ID.String()).Msg("dispatch transition failed")
		return
	}
	w.running.Store(true)

	result := guestCtx.SwitchTo()
	w.running.Store(false)

	switch result.Outcome {
	case ctxswitch.OutcomePaused:
		if result.WasPreempted {
			if w.metrics != nil {
				w.metrics.Preemptions.WithLabelValues(fmt.Sprint(int(w.idx))).Inc()
			}
		}
		_ = sb.Transition(sandbox.Runnable)
		w.runq.Insert(sb)
	case ctxswitch.OutcomeBlocked:
		_ = sb.Transition(sandbox.Blocked)
		// The entry function is expected to have registered its I/O fd
		// via BlockOn before calling Yielder.Block; see runGuest.
	case ctxswitch.OutcomeReturned:
		_ = sb.Transition(sandbox.Returned)
		delete(w.inFlight, sb)
	case ctxswitch.OutcomeError:
		sb.Fail(sandbox.CauseGuestTrap)
		delete(w.inFlight, sb)
		if w.metrics != nil {
			w.metrics.SandboxFailures.WithLabelValues(sb.Cause().String()).Inc()
		}
		w.log.Warn().Err(result.Err).Str("sandbox", sb.ID.String()).Msg("sandbox trapped")
	}
}

// runGuest adapts the injected GuestLoader's EntryFunc: this is where a
// real translation layer would also register blocking fds with
// BlockOn/w.poller before calling y.Block(). The core scheduler does not
// need to know what the guest actually does, only how it yields.
func (w *Worker) runGuest(y *ctxswitch.Yielder, entry ctxswitch.EntryFunc) error {
	return entry(y)
}

// BlockOn registers fd as the descriptor the currently-blocking sandbox is
// waiting on, so a later readiness event can wake it. Guest code (via its
// translation layer) must call this immediately before Yielder.Block.
func (w *Worker) BlockOn(sb *sandbox.Sandbox, fd int) error {
	if err := w.poller.RegisterFD(fd); err != nil {
		return fmt.Errorf("worker[%d]: register block fd: %w", w.idx, err)
	}
	w.blocked[fd] = sb
	return nil
}

func (w *Worker) reportDepth() {
	if w.metrics == nil {
		return
	}
	label := fmt.Sprint(int(w.idx))
	w.metrics.RunQueueDepth.WithLabelValues(label).Set(float64(w.runq.Len()))
	w.metrics.AdmissionDepth.Set(float64(w.admissionSched.Len()))
}
