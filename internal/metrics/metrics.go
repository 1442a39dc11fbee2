// Package metrics provides the Prometheus collectors for the image pipeline.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	TierMemory = "memory"
	TierDisk   = "disk"
)

// Metrics contains all Prometheus metrics related to image fetching and caching.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	CacheHits        *prometheus.CounterVec
	CacheMisses      prometheus.Counter
	OriginFetches    prometheus.Counter
	FetchErrors      *prometheus.CounterVec
	Coalesced        prometheus.Counter
	Evictions        prometheus.Counter
	MemoryBytes      prometheus.Gauge
	FetchDuration    prometheus.Histogram
	MetadataRequests *prometheus.CounterVec
}

// New creates the collectors and registers them with registry.
func New(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "picdeck_cache_hits_total",
			Help: "Total number of cache hits by tier.",
		}, []string{"tier"}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "picdeck_cache_misses_total",
			Help: "Total number of requests that missed every cache tier.",
		}),
		OriginFetches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "picdeck_origin_fetches_total",
			Help: "Total number of origin fetches started.",
		}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "picdeck_fetch_errors_total",
			Help: "Total number of failed image fetches by kind.",
		}, []string{"kind"}),
		Coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "picdeck_fetch_coalesced_total",
			Help: "Total number of requests attached to an in-flight fetch.",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "picdeck_memory_evictions_total",
			Help: "Total number of memory cache entries evicted by the byte budget.",
		}),
		MemoryBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "picdeck_memory_cache_bytes",
			Help: "Estimated bytes held by the memory cache.",
		}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "picdeck_origin_fetch_duration_seconds",
			Help:    "Duration of origin fetches in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		MetadataRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "picdeck_metadata_requests_total",
			Help: "Total number of metadata loads by result.",
		}, []string{"result"}),
	}

	if registry == nil {
		return m, nil
	}

	for _, c := range []prometheus.Collector{
		m.CacheHits, m.CacheMisses, m.OriginFetches, m.FetchErrors, m.Coalesced,
		m.Evictions, m.MemoryBytes, m.FetchDuration, m.MetadataRequests,
	} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) Hit(tier string) {
	if m != nil {
		m.CacheHits.WithLabelValues(tier).Inc()
	}
}

func (m *Metrics) Miss() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}

func (m *Metrics) OriginFetch(seconds float64) {
	if m != nil {
		m.OriginFetches.Inc()
		m.FetchDuration.Observe(seconds)
	}
}

func (m *Metrics) FetchError(kind string) {
	if m != nil {
		m.FetchErrors.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Coalesce() {
	if m != nil {
		m.Coalesced.Inc()
	}
}

func (m *Metrics) Evict() {
	if m != nil {
		m.Evictions.Inc()
	}
}

func (m *Metrics) SetMemoryBytes(n int64) {
	if m != nil {
		m.MemoryBytes.Set(float64(n))
	}
}

func (m *Metrics) Metadata(result string) {
	if m != nil {
		m.MetadataRequests.WithLabelValues(result).Inc()
	}
}
