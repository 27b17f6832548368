package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/dbsync/internal/metrics"
)

func TestPushTotalIncrementsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewRegistry(reg)

	m.PushTotal.WithLabelValues(metrics.OutcomeApplied).Inc()
	m.PushTotal.WithLabelValues(metrics.OutcomeApplied).Inc()
	m.PushTotal.WithLabelValues(metrics.OutcomePushRejected).Inc()

	families, err := reg.Gather()
	require.NoError(t, err)

	var applied, rejected float64
	for _, f := range families {
		if f.GetName() != "dbsync_server_push_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetValue() == metrics.OutcomeApplied {
					applied = metric.GetCounter().GetValue()
				}
				if label.GetValue() == metrics.OutcomePushRejected {
					rejected = metric.GetCounter().GetValue()
				}
			}
		}
	}
	assert.Equal(t, float64(2), applied)
	assert.Equal(t, float64(1), rejected)
}

func TestMergeDurationObserves(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewRegistry(reg)

	m.MergeDuration.Observe(0.05)

	families, err := reg.Gather()
	require.NoError(t, err)

	var found *dto.Metric
	for _, f := range families {
		if f.GetName() == "dbsync_merge_merge_duration_seconds" {
			found = f.GetMetric()[0]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, uint64(1), found.GetHistogram().GetSampleCount())
}
