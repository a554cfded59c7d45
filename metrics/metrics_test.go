package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestDeferredMaxTracksPerWorkerLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRegistry(reg)

	m.DeferredMax.WithLabelValues("0").Set(3)
	m.DeferredMax.WithLabelValues("1").Set(7)

	var out dto.Metric
	require.NoError(t, m.DeferredMax.WithLabelValues("1").Write(&out))
	require.Equal(t, 7.0, out.GetGauge().GetValue())
}

func TestRegistryRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewRegistry(reg)

	families, err := reg.Gather()
	require.NoError(t, err)
	// Unlabeled gauges and counters export a zero sample from the start;
	// the labeled vectors appear only once a label value has been used.
	require.Len(t, families, 3, "admission_queue_depth, admissions_total and rejections_total")
}

func TestPreemptionCounterIncrementsPerWorker(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRegistry(reg)

	m.Preemptions.WithLabelValues("2").Inc()
	m.Preemptions.WithLabelValues("2").Inc()

	var out dto.Metric
	require.NoError(t, m.Preemptions.WithLabelValues("2").Write(&out))
	require.Equal(t, 2.0, out.GetCounter().GetValue())
}
