package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	m := New()
	m.ObserveEvent("text", OutcomeAccepted)
	m.ObserveEvent("text", OutcomeAccepted)
	m.ObserveEvent("choice", OutcomeIgnored)
	m.ObserveHandler("deploy", 20*time.Millisecond)
	m.SetActiveFlows(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("text", OutcomeAccepted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("choice", OutcomeIgnored)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.activeFlows))

	n, err := testutil.GatherAndCount(m.Gatherer(), "unrug_handler_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveEvent("text", OutcomeFailed)
		m.ObserveHandler("", time.Second)
		m.SetActiveFlows(1)
	})
}
