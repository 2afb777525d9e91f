package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsRegistry holds the Prometheus metrics the signal API exposes,
// grounded on the same "one struct of named collectors, registered once
// at construction" pattern used for pipeline-step metrics elsewhere in
// the retrieved pack.
type MetricsRegistry struct {
	DetectDuration *prometheus.HistogramVec
	DetectTotal    *prometheus.CounterVec
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
}

// NewMetricsRegistry creates and registers the signal API's metrics.
func NewMetricsRegistry() *MetricsRegistry {
	m := &MetricsRegistry{
		DetectDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "maude_signals_detect_duration_seconds",
				Help:    "Duration of Detect requests in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"cache"},
		),
		DetectTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maude_signals_detect_requests_total",
				Help: "Total number of Detect requests by cache outcome",
			},
			[]string{"cache"},
		),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "maude_signals_cache_hits_total",
			Help: "Total number of signal cache hits",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "maude_signals_cache_misses_total",
			Help: "Total number of signal cache misses",
		}),
	}

	prometheus.MustRegister(m.DetectDuration, m.DetectTotal, m.CacheHits, m.CacheMisses)
	return m
}

// ObserveDetect records one Detect call's duration and cache outcome.
func (m *MetricsRegistry) ObserveDetect(d time.Duration, cacheHit bool) {
	cache := "miss"
	if cacheHit {
		cache = "hit"
		m.CacheHits.Inc()
	} else {
		m.CacheMisses.Inc()
	}
	m.DetectDuration.WithLabelValues(cache).Observe(d.Seconds())
	m.DetectTotal.WithLabelValues(cache).Inc()
}

// Handler returns the /metrics HTTP handler.
func (m *MetricsRegistry) Handler() http.Handler {
	return promhttp.Handler()
}
