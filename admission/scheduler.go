// Package admission implements the global admission scheduler: a single,
// process-wide priority queue of pending sandbox requests shared between
// one producer (the listener) and N consumers (the workers).
package admission

import (
	"sync/atomic"

	"github.com/go-foundations/sandboxrt/pqueue"
	"github.com/go-foundations/sandboxrt/sandbox"
	"github.com/rs/zerolog"
)

// entry wraps a request with the monotonic sequence number used by the
// FIFO policy; EDF ignores it and keys on the absolute deadline instead.
type entry struct {
	req *sandbox.Request
	seq uint64
}

// Scheduler is the global admission queue described in §4.3. It is a
// process-wide singleton by convention — callers construct exactly one and
// thread it into the listener and every worker, per design note §9 (an
// explicit handle rather than package-level mutable state).
type Scheduler struct {
	policy Policy
	queue  *pqueue.Queue[*entry]
	seq    atomic.Uint64
	log    zerolog.Logger
}

// New constructs a Scheduler with the given policy and bounded capacity
// (0 means unbounded). The policy is fixed for the lifetime of the
// Scheduler.
func New(policy Policy, capacity int, log zerolog.Logger) *Scheduler {
	s := &Scheduler{policy: policy, log: log.With().Str("component", "admission").Logger()}
	s.queue = pqueue.New[*entry](capacity, s.priorityOf)
	return s
}

func (s *Scheduler) priorityOf(e *entry) uint64 {
	switch s.policy {
	case EDF:
		return uint64(e.req.AbsoluteDeadline().UnixNano())
	default: // FIFO
		return e.seq
	}
}

// Policy returns the configured scheduling policy.
func (s *Scheduler) Policy() Policy { return s.policy }

// Add enqueues req, returning (req, true) on success or (nil, false) if
// the queue is at capacity — the caller (listener) must reject the
// request upstream in that case.
func (s *Scheduler) Add(req *sandbox.Request) (*sandbox.Request, bool) {
	e := &entry{req: req, seq: s.seq.Add(1)}
	if err := s.queue.Enqueue(e); err != nil {
		s.log.Warn().Str("request_id", req.ID.String()).Err(err).Msg("admission rejected")
		return nil, false
	}
	return req, true
}

// Remove dequeues the highest-priority pending request, or (nil, false) if
// the queue is empty — the caller should sleep or poll.
func (s *Scheduler) Remove() (*sandbox.Request, bool) {
	e, err := s.queue.Dequeue()
	if err != nil {
		return nil, false
	}
	return e.req, true
}

// Len reports the number of pending requests, for observability.
func (s *Scheduler) Len() int { return s.queue.Len() }
