package sandbox

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Timing holds the allocation, first-run, last-resume, total-run, and
// completion accounting named in §3.
type Timing struct {
	AllocatedAt  time.Time
	FirstRunAt   time.Time
	LastResumeAt time.Time
	TotalRun     time.Duration
	CompletedAt  time.Time
}

// Sandbox is the execution unit. It owns a private linear memory region
// (modeled as an opaque byte slice — WebAssembly memory translation is an
// external collaborator of this core), an execution stack represented by
// its goroutine (see ctxswitch), a state tag, a reference to its
// originating request, and timing accounting. A sandbox is owned by
// exactly one worker from creation to destruction.
type Sandbox struct {
	ID      uuid.UUID
	Request *Request
	Memory  []byte

	mu    sync.Mutex
	state State
	cause Cause

	Timing Timing
}

// New allocates a sandbox for req with the given linear memory size. The
// sandbox starts in the Allocated state.
func New(req *Request, memorySize int) *Sandbox {
	return &Sandbox{
		ID:      uuid.New(),
		Request: req,
		Memory:  make([]byte, memorySize),
		state:   Allocated,
		Timing:  Timing{AllocatedAt: time.Now()},
	}
}

// State returns the current lifecycle state.
func (s *Sandbox) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Cause returns the recorded error cause, if any.
func (s *Sandbox) Cause() Cause {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// Transition moves the sandbox from its current state to to, enforcing the
// lifecycle graph in §4.6. An illegal transition is a programming error:
// the spec treats signal-handler-level invariant violations as fatal, but
// a sandbox-local state violation is scoped to the sandbox, so this
// returns an error rather than halting the process.
func (s *Sandbox) Transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !canTransition(s.state, to) {
		return fmt.Errorf("sandbox %s: illegal transition %s -> %s", s.ID, s.state, to)
	}

	switch to {
	case Running:
		if s.Timing.FirstRunAt.IsZero() {
			s.Timing.FirstRunAt = time.Now()
		}
		s.Timing.LastResumeAt = time.Now()
	case Runnable, Blocked:
		if !s.Timing.LastResumeAt.IsZero() {
			s.Timing.TotalRun += time.Since(s.Timing.LastResumeAt)
		}
	case Returned:
		if !s.Timing.LastResumeAt.IsZero() {
			s.Timing.TotalRun += time.Since(s.Timing.LastResumeAt)
		}
		s.Timing.CompletedAt = time.Now()
	}

	s.state = to
	return nil
}

// Fail transitions the sandbox to Error from any state, recording cause.
// This implements the "any -> ERROR" edge, which is unconditional by
// design (a fault can occur from any lifecycle point).
func (s *Sandbox) Fail(cause Cause) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Timing.LastResumeAt.IsZero() && s.Timing.CompletedAt.IsZero() && s.state == Running {
		s.Timing.TotalRun += time.Since(s.Timing.LastResumeAt)
	}
	s.state = Error
	s.cause = cause
	s.Timing.CompletedAt = time.Now()
}

// DeadlineExceeded reports whether the request's absolute deadline has
// already passed as of now.
func (s *Sandbox) DeadlineExceeded(now time.Time) bool {
	return now.After(s.Request.AbsoluteDeadline())
}
