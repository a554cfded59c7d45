// Package runqueue implements the per-worker run-queue: an ordered
// container of RUNNABLE sandboxes belonging to exactly one worker. It is
// never shared across workers (Non-goals: no work-stealing).
package runqueue

import (
	"time"

	"github.com/go-foundations/sandboxrt/admission"
	"github.com/go-foundations/sandboxrt/pqueue"
	"github.com/go-foundations/sandboxrt/sandbox"
)

// RunQueue orders sandboxes by the same policy as the global admission
// scheduler, applied to each sandbox's originating request.
type RunQueue struct {
	policy admission.Policy
	queue  *pqueue.Queue[*sandbox.Sandbox]
	seq    uint64
	seqOf  map[*sandbox.Sandbox]uint64
}

// New constructs an unbounded run-queue ordered by policy.
func New(policy admission.Policy) *RunQueue {
	rq := &RunQueue{policy: policy, seqOf: make(map[*sandbox.Sandbox]uint64)}
	rq.queue = pqueue.New[*sandbox.Sandbox](0, rq.priorityOf)
	return rq
}

func (rq *RunQueue) priorityOf(s *sandbox.Sandbox) uint64 {
	if rq.policy == admission.EDF {
		return uint64(s.Request.AbsoluteDeadline().UnixNano())
	}
	return rq.seqOf[s]
}

// Insert places s onto the run-queue. The caller must have already
// transitioned s to Runnable.
func (rq *RunQueue) Insert(s *sandbox.Sandbox) {
	rq.seq++
	rq.seqOf[s] = rq.seq
	// Unbounded queue: Enqueue only fails at capacity, which New(0, ...)
	// never reaches.
	_ = rq.queue.Enqueue(s)
}

// Next removes and returns the best sandbox to dispatch (smallest key for
// the configured policy), or (nil, false) if the run-queue is empty.
func (rq *RunQueue) Next() (*sandbox.Sandbox, bool) {
	s, err := rq.queue.Dequeue()
	if err != nil {
		return nil, false
	}
	delete(rq.seqOf, s)
	return s, true
}

// Len reports the number of runnable sandboxes currently queued.
func (rq *RunQueue) Len() int { return rq.queue.Len() }

// Remove drops a specific sandbox from the run-queue (used when a sandbox
// is cancelled or discovered to have missed its deadline before dispatch).
func (rq *RunQueue) Remove(s *sandbox.Sandbox) bool {
	ok := rq.queue.Delete(s)
	if ok {
		delete(rq.seqOf, s)
	}
	return ok
}

// EvictExpired removes and returns every sandbox whose absolute deadline
// has already passed as of now, transitioning each to Error with cause
// DeadlineMissed. The worker calls this on every loop iteration, right
// after applying I/O wakeups; dispatch separately checks the deadline of
// the sandbox it is about to run.
func (rq *RunQueue) EvictExpired(now time.Time) []*sandbox.Sandbox {
	var expired []*sandbox.Sandbox
	var survivors []*sandbox.Sandbox

	for rq.queue.Len() > 0 {
		s, _ := rq.queue.Dequeue()
		if s.DeadlineExceeded(now) {
			expired = append(expired, s)
			delete(rq.seqOf, s)
			continue
		}
		survivors = append(survivors, s)
	}
	for _, s := range survivors {
		_ = rq.queue.Enqueue(s)
	}

	for _, s := range expired {
		s.Fail(sandbox.CauseDeadlineMissed)
	}
	return expired
}
