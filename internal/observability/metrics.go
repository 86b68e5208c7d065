// Package observability holds the Prometheus metrics shared by the fetcher,
// the tile proxy and the HTTP server.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "quakemap"

// Metrics holds the Prometheus counters, histograms, and gauges for the service.
type Metrics struct {
	FetchDuration     prometheus.Histogram
	FetchErrors       prometheus.Counter
	FeaturesFetched   prometheus.Gauge
	MalformedFeatures *prometheus.CounterVec // labels: reason={magnitude,time,place,position}
	MarkersRendered   prometheus.Gauge

	HTTPRequests *prometheus.CounterVec // labels: method, code

	TileRequests         *prometheus.CounterVec // labels: result={hit,miss,empty,error}
	TileUpstreamDuration prometheus.Histogram
}

func newMetrics() *Metrics {
	return &Metrics{
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feed_fetch_duration_seconds",
			Help:      "Duration of the earthquake feed request including decoding.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		FetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_fetch_errors_total",
			Help:      "Total failed feed requests.",
		}),
		FeaturesFetched: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_features",
			Help:      "Number of features in the last fetched collection.",
		}),
		MalformedFeatures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_malformed_features_total",
			Help:      "Features with missing or invalid attributes, by attribute.",
		}, []string{"reason"}),
		MarkersRendered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "markers_rendered",
			Help:      "Number of markers in the earthquake overlay.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
		TileRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tile_requests_total",
			Help:      "Tile proxy requests by result.",
		}, []string{"result"}),
		TileUpstreamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tile_upstream_duration_seconds",
			Help:      "Upstream tile request duration including transcoding.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.FetchDuration,
		m.FetchErrors,
		m.FeaturesFetched,
		m.MalformedFeatures,
		m.MarkersRendered,
		m.HTTPRequests,
		m.TileRequests,
		m.TileUpstreamDuration,
	)
	return m
}

// NewMetricsForTesting creates Metrics that are not registered anywhere, so
// tests can build as many as they like.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
