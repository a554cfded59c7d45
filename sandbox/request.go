// Package sandbox defines the admission unit (Request) and execution unit
// (Sandbox) data model, plus the sandbox lifecycle state machine consumed
// by the scheduler.
package sandbox

import (
	"time"

	"github.com/google/uuid"
)

// Request is an immutable admission record describing a pending
// invocation. It is created by the listener and destroyed only after the
// sandbox it produces enters a terminal state and its response has been
// delivered.
type Request struct {
	ID               uuid.UUID
	ModuleName       string
	Payload          []byte
	EnqueuedAt       time.Time
	RelativeDeadline time.Duration
}

// NewRequest stamps EnqueuedAt with now and derives an ID. payload is not
// copied; callers must not mutate it after submission.
func NewRequest(module string, payload []byte, relativeDeadline time.Duration, now time.Time) *Request {
	return &Request{
		ID:               uuid.New(),
		ModuleName:       module,
		Payload:          payload,
		EnqueuedAt:       now,
		RelativeDeadline: relativeDeadline,
	}
}

// AbsoluteDeadline returns EnqueuedAt + RelativeDeadline.
func (r *Request) AbsoluteDeadline() time.Time {
	return r.EnqueuedAt.Add(r.RelativeDeadline)
}
