// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	peerRequestsTotal          *prometheus.CounterVec
	peerRequestDurationSeconds *prometheus.HistogramVec
	peerRetriesTotal           *prometheus.CounterVec
	harvestUnitsTotal          *prometheus.CounterVec
	harvestFeaturesTotal       *prometheus.CounterVec
	harvestWarningsTotal       *prometheus.CounterVec
	harvestArtifactBytesTotal  *prometheus.CounterVec
	harvestActiveWorkers       prometheus.Gauge
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		peerRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_peer_requests_total",
				Help: "Requests sent to the catalog peer, labeled by endpoint and outcome.",
			},
			[]string{"endpoint", "outcome"},
		)

		peerRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvest_peer_request_duration_seconds",
				Help:    "Latency of peer requests including retries, labeled by endpoint.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"endpoint"},
		)

		peerRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_peer_retries_total",
				Help: "Retried peer requests, labeled by endpoint.",
			},
			[]string{"endpoint"},
		)

		harvestUnitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_units_total",
				Help: "Harvest units reaching a terminal state, labeled by category and state.",
			},
			[]string{"category", "state"},
		)

		harvestFeaturesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_features_total",
				Help: "Features processed, labeled by category and outcome (kept or dropped).",
			},
			[]string{"category", "outcome"},
		)

		harvestWarningsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_warnings_total",
				Help: "Non-fatal warnings recorded, labeled by scope.",
			},
			[]string{"scope"},
		)

		harvestArtifactBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvest_artifact_bytes_total",
				Help: "Bytes persisted to the archive, labeled by artifact kind.",
			},
			[]string{"kind"},
		)

		harvestActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvest_active_workers",
				Help: "Number of workers currently processing a unit or service.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvest_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePeerRequest records one logical peer request and its total latency.
func ObservePeerRequest(endpoint, outcome string, duration time.Duration) {
	Init()
	peerRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
	peerRequestDurationSeconds.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveRetry increments the retry counter for endpoint.
func ObserveRetry(endpoint string) {
	Init()
	peerRetriesTotal.WithLabelValues(endpoint).Inc()
}

// ObserveUnit records a unit reaching a terminal state.
func ObserveUnit(category, state string) {
	Init()
	harvestUnitsTotal.WithLabelValues(category, state).Inc()
}

// ObserveFeatures records kept and dropped feature counts for a layer.
func ObserveFeatures(category string, kept, dropped int) {
	Init()
	if kept > 0 {
		harvestFeaturesTotal.WithLabelValues(category, "kept").Add(float64(kept))
	}
	if dropped > 0 {
		harvestFeaturesTotal.WithLabelValues(category, "dropped").Add(float64(dropped))
	}
}

// ObserveWarning increments the warning counter for scope.
func ObserveWarning(scope string) {
	Init()
	harvestWarningsTotal.WithLabelValues(scope).Inc()
}

// ObserveArtifact records bytes written for an artifact kind.
func ObserveArtifact(kind string, size int) {
	Init()
	harvestArtifactBytesTotal.WithLabelValues(kind).Add(float64(size))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	harvestActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	harvestActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the ops server request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
