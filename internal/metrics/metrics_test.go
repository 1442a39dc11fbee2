package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	a := assert.New(t)
	reg := prometheus.NewRegistry()

	m, err := New(reg)
	require.NoError(t, err)

	m.Hit(TierMemory)
	m.Hit(TierMemory)
	m.Hit(TierDisk)
	m.Miss()
	m.OriginFetch(0.01)
	m.FetchError("network")
	m.Coalesce()
	m.Evict()
	m.SetMemoryBytes(4096)
	m.Metadata("ok")

	a.Equal(2.0, testutil.ToFloat64(m.CacheHits.WithLabelValues(TierMemory)))
	a.Equal(1.0, testutil.ToFloat64(m.CacheHits.WithLabelValues(TierDisk)))
	a.Equal(1.0, testutil.ToFloat64(m.CacheMisses))
	a.Equal(1.0, testutil.ToFloat64(m.OriginFetches))
	a.Equal(1.0, testutil.ToFloat64(m.FetchErrors.WithLabelValues("network")))
	a.Equal(1.0, testutil.ToFloat64(m.Coalesced))
	a.Equal(1.0, testutil.ToFloat64(m.Evictions))
	a.Equal(4096.0, testutil.ToFloat64(m.MemoryBytes))
	a.Equal(1.0, testutil.ToFloat64(m.MetadataRequests.WithLabelValues("ok")))
}

func TestMetrics_DoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()

	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	assert.Error(t, err)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Hit(TierMemory)
		m.Miss()
		m.OriginFetch(1)
		m.FetchError("decode")
		m.Coalesce()
		m.Evict()
		m.SetMemoryBytes(1)
		m.Metadata("error")
	})
}
