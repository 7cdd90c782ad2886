package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rageval/src/metrics"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.ObserveJudgeCall("ok", 2*time.Second)
	m.ObserveJudgeCall("error", time.Second)
	m.ItemResult("ai", "applied")
	m.ItemResult("ai", "applied")
	m.TestTransition("completed")
	m.TransactionConflict()
	m.AssignmentEvent("created")

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"rageval_judge_calls_total",
		"rageval_judge_call_duration_seconds",
		"rageval_item_results_total",
		"rageval_test_transitions_total",
		"rageval_transaction_conflicts_total",
		"rageval_assignment_events_total",
	} {
		assert.True(t, names[want], "missing %s", want)
	}

	count, err := testutil.GatherAndCount(reg, "rageval_judge_calls_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.ObserveJudgeCall("ok", time.Second)
		m.ItemResult("human", "skipped")
		m.TestTransition("running")
		m.TransactionConflict()
		m.AssignmentEvent("expired")
	})
}
