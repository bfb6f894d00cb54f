package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/hpcoord/ensemble/types"
)

func TestNewPrometheus(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		p := NewPrometheus(nil, "")
		require.NotNil(t, p)
		require.Equal(t, "ensemble", p.namespace)
	})

	t.Run("CustomNamespace", func(t *testing.T) {
		p := NewPrometheus(prometheus.NewRegistry(), "custom")
		require.Equal(t, "custom", p.namespace)
	})
}

func TestPrometheusCollector_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg, "ensemble")

	p.RecordStateTransition(types.StateInit, types.StateRunning, 0.5)
	p.RecordAllocation(5, 0.002)
	p.RecordWorkerFailure(3, "timeout")
	p.RecordActiveWorkers(4)
	p.RecordRowsAppended(10, types.KindGen)
	p.RecordRowsReturned(10, types.KindSim)
	p.RecordRowsReleased(2)
	p.RecordMessage("work", "out")
	p.RecordRoutineDuration(types.KindSim, 0.1, true)
	p.RecordRoutineDuration(types.KindSim, 0.2, false)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"ensemble_state_transitions_total",
		"ensemble_allocation_items",
		"ensemble_worker_failures_total",
		"ensemble_active_workers",
		"ensemble_rows_appended_total",
		"ensemble_rows_returned_total",
		"ensemble_rows_released_total",
		"ensemble_messages_total",
		"ensemble_routine_duration_seconds",
	} {
		require.True(t, names[want], "missing metric family %s", want)
	}
}

func TestPrometheusCollector_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := NewPrometheus(reg, "ensemble")
	b := NewPrometheus(reg, "ensemble")

	a.RecordRowsReleased(1)

	// The second collector hits AlreadyRegisteredError on first use; it must
	// not panic and later records must not either.
	require.NotPanics(t, func() {
		b.RecordRowsReleased(1)
		b.RecordActiveWorkers(2)
	})
}
