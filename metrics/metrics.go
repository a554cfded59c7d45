// Package metrics exposes the runtime's Prometheus surface: the
// process-wide deferred_max[worker] observability array, run-queue and
// admission-queue depth gauges, and a preemption counter.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles the collectors registered against a single Prometheus
// registerer, constructed once in cmd/sandboxrt and threaded into the
// listener and each worker.
type Registry struct {
	DeferredMax      *prometheus.GaugeVec
	RunQueueDepth    *prometheus.GaugeVec
	AdmissionDepth   prometheus.Gauge
	Preemptions      *prometheus.CounterVec
	AdmissionsTotal  prometheus.Counter
	RejectionsTotal  prometheus.Counter
	SandboxFailures  *prometheus.CounterVec
}

// NewRegistry constructs and registers every collector against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	m := &Registry{
		DeferredMax: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sandboxrt",
			Name:      "deferred_max",
			Help:      "largest deferred-signal count folded in by a single enable, per worker",
		}, []string{"worker"}),
		RunQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sandboxrt",
			Name:      "run_queue_depth",
			Help:      "number of runnable sandboxes currently queued per worker",
		}, []string{"worker"}),
		AdmissionDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sandboxrt",
			Name:      "admission_queue_depth",
			Help:      "number of requests pending in the global admission queue",
		}),
		Preemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sandboxrt",
			Name:      "preemptions_total",
			Help:      "number of preemptive context switches performed per worker",
		}, []string{"worker"}),
		AdmissionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sandboxrt",
			Name:      "admissions_total",
			Help:      "total requests accepted into the admission queue",
		}),
		RejectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sandboxrt",
			Name:      "rejections_total",
			Help:      "total requests rejected because the admission queue was full",
		}),
		SandboxFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sandboxrt",
			Name:      "sandbox_failures_total",
			Help:      "sandboxes that entered ERROR, labeled by cause",
		}, []string{"cause"}),
	}

	reg.MustRegister(
		m.DeferredMax,
		m.RunQueueDepth,
		m.AdmissionDepth,
		m.Preemptions,
		m.AdmissionsTotal,
		m.RejectionsTotal,
		m.SandboxFailures,
	)
	return m
}
