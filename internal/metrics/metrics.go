// Package metrics exposes Prometheus collectors for the policy crawler.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values shared by the counters below.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeBlocked = "blocked"
	OutcomeEmpty   = "empty"
	OutcomeSkipped = "skipped"
	OutcomeQuota   = "quota"
)

var (
	noticesDiscoveredTotal     *prometheus.CounterVec
	detailFetchesTotal         *prometheus.CounterVec
	linkValidationsTotal       *prometheus.CounterVec
	llmRequestsTotal           *prometheus.CounterVec
	recordsStoredTotal         *prometheus.CounterVec
	gateWaitSeconds            *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		noticesDiscoveredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policycrawler_notices_discovered_total",
				Help: "Notices extracted from list pages, labeled by source.",
			},
			[]string{"source"},
		)

		detailFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policycrawler_detail_fetches_total",
				Help: "Detail page fetches, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		linkValidationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policycrawler_link_validations_total",
				Help: "Link validation results, labeled valid or invalid.",
			},
			[]string{"result"},
		)

		llmRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policycrawler_llm_requests_total",
				Help: "Metadata extraction calls, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		recordsStoredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policycrawler_records_stored_total",
				Help: "Policy records written, labeled by backend and outcome.",
			},
			[]string{"backend", "outcome"},
		)

		gateWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "policycrawler_gate_wait_seconds",
				Help:    "Time spent waiting on a request gate.",
				Buckets: []float64{0.1, 0.5, 1, 2, 4, 8, 16},
			},
			[]string{"gate"},
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveNoticesDiscovered adds n discovered notices for source.
func ObserveNoticesDiscovered(source string, n int) {
	Init()
	noticesDiscoveredTotal.WithLabelValues(source).Add(float64(n))
}

// ObserveDetailFetch records the outcome of one detail fetch.
func ObserveDetailFetch(source, outcome string) {
	Init()
	detailFetchesTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveLinkValidation records one validation result.
func ObserveLinkValidation(valid bool) {
	Init()
	result := "invalid"
	if valid {
		result = "valid"
	}
	linkValidationsTotal.WithLabelValues(result).Inc()
}

// ObserveLLMRequest records the outcome of one metadata extraction.
func ObserveLLMRequest(outcome string) {
	Init()
	llmRequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRecordStored records one persistence attempt.
func ObserveRecordStored(backend, outcome string) {
	Init()
	recordsStoredTotal.WithLabelValues(backend, outcome).Inc()
}

// ObserveGateWait records how long a caller blocked on a gate.
func ObserveGateWait(gate string, d time.Duration) {
	Init()
	gateWaitSeconds.WithLabelValues(gate).Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
