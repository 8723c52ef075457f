package telemetry

import (
	"testing"

	"github.com/maxpert/catalogbridge/cfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func enablePrometheus(t *testing.T) {
	t.Helper()
	previous := cfg.Config.Prometheus.Enabled
	cfg.Config.Prometheus.Enabled = true
	InitializeTelemetry()
	InitMetrics()

	t.Cleanup(func() {
		cfg.Config.Prometheus.Enabled = previous
		registry = nil
		InitMetrics()
	})
}

func TestMetrics_DisabledAreNoop(t *testing.T) {
	require.Nil(t, registry)
	InitMetrics()

	assert.IsType(t, noopHistogramVec{}, CatalogFetchSeconds)
	assert.NotPanics(t, func() {
		CatalogFetchSeconds.With("success").Observe(1)
	})
	assert.Nil(t, GetMetricsHandler())
}

func TestMetrics_CatalogFetchSecondsByResult(t *testing.T) {
	enablePrometheus(t)

	CatalogFetchSeconds.With("success").Observe(0.4)
	CatalogFetchSeconds.With("success").Observe(1.2)
	CatalogFetchSeconds.With("unavailable").Observe(30)

	const name = "catalogbridge_publisher_catalog_fetch_seconds"
	families, err := registry.Gather()
	require.NoError(t, err)

	samples := map[string]uint64{}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "result" {
					samples[l.GetValue()] = m.GetHistogram().GetSampleCount()
				}
			}
		}
	}
	assert.Equal(t, map[string]uint64{"success": 2, "unavailable": 1}, samples)
	assert.NotNil(t, GetMetricsHandler())
}
