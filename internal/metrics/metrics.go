// Package metrics exposes Prometheus collectors for the page lifecycle.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "toomanypages"

type Metrics struct {
	registry          *prometheus.Registry
	discoveryDuration prometheus.Histogram
	pagesDiscovered   prometheus.Histogram
	requests          *prometheus.CounterVec
	cacheLookups      *prometheus.CounterVec
}

// New creates the collectors on their own registry, so several instances can
// coexist in tests.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		discoveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "discovery_duration_seconds",
			Help:      "Time spent discovering pages per request.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
		pagesDiscovered: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pages_discovered",
			Help:      "Number of pages found by discovery per request.",
			Buckets:   []float64{0, 1, 10, 100, 1000, 10000},
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests served, by status code.",
		}, []string{"status"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Response cache lookups, by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		m.discoveryDuration,
		m.pagesDiscovered,
		m.requests,
		m.cacheLookups,
	)
	return m
}

func (m *Metrics) ObserveDiscovery(d time.Duration, pages int) {
	m.discoveryDuration.Observe(d.Seconds())
	m.pagesDiscovered.Observe(float64(pages))
}

func (m *Metrics) ObserveRequest(status int) {
	m.requests.WithLabelValues(strconv.Itoa(status)).Inc()
}

func (m *Metrics) ObserveCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
