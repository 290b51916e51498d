package observability

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())

	m.RecordEvolution("success", 1.5)
	m.RecordEvolution("failed", 0.2)
	m.RecordEvolution("failed", 0.3)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EvolutionAttempts.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EvolutionAttempts.WithLabelValues("failed")))

	score := 66
	m.RecordVerdict(true, &score)
	m.RecordVerdict(false, nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EligibilityVerdicts.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EligibilityVerdicts.WithLabelValues("false")))

	m.RecordRPC("eth_call", 0.01, nil)
	m.RecordRPC("eth_call", 0.01, errors.New("boom"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RPCCallErrors.WithLabelValues("eth_call")))

	m.SetScanInProgress(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScanInProgress))
	m.SetScanInProgress(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ScanInProgress))

	m.RecordScan("scheduled", "success", 12, 1_700_000_000)
	assert.Equal(t, 1_700_000_000.0, testutil.ToFloat64(m.LastSuccessfulScan))
	m.RecordScan("manual", "error", 1, 1_800_000_000)
	assert.Equal(t, 1_700_000_000.0, testutil.ToFloat64(m.LastSuccessfulScan))

	m.RecordCacheLookup(true)
	m.RecordCacheLookup(false)
	m.RecordCacheLookup(false)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MetadataCacheLookup.WithLabelValues("miss")))
}

func TestNewMetrics_IsolatedRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics("dup", prometheus.NewRegistry())
		NewMetrics("dup", prometheus.NewRegistry())
	})
}
