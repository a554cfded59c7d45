// Package listener implements the producer side of the admission queue:
// it validates an invocation against the module spec and submits it to
// the global admission scheduler. Real network transport (HTTP/gRPC
// framing, connection handling) is an external collaborator — out of
// scope per the Non-goals — so Submit takes an already-decoded request.
package listener

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-foundations/sandboxrt/admission"
	"github.com/go-foundations/sandboxrt/metrics"
	"github.com/go-foundations/sandboxrt/modulespec"
	"github.com/go-foundations/sandboxrt/sandbox"
	"github.com/rs/zerolog"
)

// ErrUnknownModule is returned by Submit when the requested module is not
// present in the loaded module spec.
var ErrUnknownModule = errors.New("listener: unknown module")

// ErrAdmissionQueueFull is returned by Submit when the global admission
// scheduler rejected the request because it is at capacity.
var ErrAdmissionQueueFull = errors.New("listener: admission queue full")

// Listener validates and submits incoming invocations.
type Listener struct {
	spec    *modulespec.ModuleSpec
	sched   *admission.Scheduler
	metrics *metrics.Registry
	log     zerolog.Logger
}

// New constructs a Listener bound to spec and sched.
func New(spec *modulespec.ModuleSpec, sched *admission.Scheduler, m *metrics.Registry, log zerolog.Logger) *Listener {
	return &Listener{
		spec:    spec,
		sched:   sched,
		metrics: m,
		log:     log.With().Str("component", "listener").Logger(),
	}
}

// Submit looks up moduleName, builds a Request with its configured
// relative deadline, and enqueues it on the admission scheduler. It
// returns the accepted Request, or an error identifying why the
// invocation could not be admitted.
func (l *Listener) Submit(moduleName string, payload []byte, now time.Time) (*sandbox.Request, error) {
	m, ok := l.spec.Lookup(moduleName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModule, moduleName)
	}

	req := sandbox.NewRequest(moduleName, payload, m.RelativeDeadline, now)
	if _, ok := l.sched.Add(req); !ok {
		if l.metrics != nil {
			l.metrics.RejectionsTotal.Inc()
		}
		l.log.Warn().Str("module", moduleName).Msg("admission rejected: queue full")
		return nil, fmt.Errorf("%w: module %q", ErrAdmissionQueueFull, moduleName)
	}

	if l.metrics != nil {
		l.metrics.AdmissionsTotal.Inc()
		l.metrics.AdmissionDepth.Set(float64(l.sched.Len()))
	}
	l.log.Debug().Str("module", moduleName).Str("request_id", req.ID.String()).Msg("admitted")
	return req, nil
}
