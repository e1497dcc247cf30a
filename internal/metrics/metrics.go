package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects generation and HTTP metrics. A nil *Metrics is valid and
// records nothing, which keeps tests free of registry setup.
type Metrics struct {
	registry *prometheus.Registry

	// GenerationRuns counts completed runs.
	// Labels: live (true|false)
	GenerationRuns *prometheus.CounterVec

	// BackendRequests counts live backend calls.
	// Labels: backend, status (success|error)
	BackendRequests *prometheus.CounterVec

	// BackendDuration measures live backend call latency in seconds.
	// Labels: backend
	BackendDuration *prometheus.HistogramVec

	// FallbackCells counts cells filled by the fallback synthesizer.
	// Labels: reason (no_backend|backend_error)
	FallbackCells *prometheus.CounterVec

	// LiveShortfalls counts cells where the backend returned fewer
	// candidates than variations requested.
	LiveShortfalls prometheus.Counter

	// ResponseScore is the distribution of aggregate quality scores.
	ResponseScore prometheus.Histogram

	// HTTPRequests counts HTTP requests.
	// Labels: method, route, status_code
	HTTPRequests *prometheus.CounterVec

	// HTTPDuration measures HTTP request latency in seconds.
	// Labels: method, route
	HTTPDuration *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		GenerationRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptlab_generation_runs_total",
				Help: "Total number of generation runs by whether a live backend was configured",
			},
			[]string{"live"},
		),

		BackendRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptlab_backend_requests_total",
				Help: "Total number of live backend calls by backend and status",
			},
			[]string{"backend", "status"},
		),

		BackendDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "promptlab_backend_request_duration_seconds",
				Help:    "Duration of live backend calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"backend"},
		),

		FallbackCells: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptlab_fallback_cells_total",
				Help: "Total number of grid cells filled with fallback responses by reason",
			},
			[]string{"reason"},
		),

		LiveShortfalls: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "promptlab_live_shortfall_cells_total",
				Help: "Grid cells where the live backend returned fewer candidates than requested variations",
			},
		),

		ResponseScore: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "promptlab_response_score",
				Help:    "Aggregate heuristic quality score of generated responses",
				Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
			},
		),

		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "promptlab_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status_code"},
		),

		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "promptlab_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"method", "route"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) GenerationRun(live bool) {
	if m == nil {
		return
	}
	m.GenerationRuns.WithLabelValues(strconv.FormatBool(live)).Inc()
}

func (m *Metrics) BackendCall(backend string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.BackendRequests.WithLabelValues(backend, status).Inc()
	m.BackendDuration.WithLabelValues(backend).Observe(d.Seconds())
}

func (m *Metrics) FallbackCell(reason string) {
	if m == nil {
		return
	}
	m.FallbackCells.WithLabelValues(reason).Inc()
}

func (m *Metrics) LiveShortfall() {
	if m == nil {
		return
	}
	m.LiveShortfalls.Inc()
}

func (m *Metrics) ObserveScore(score float64) {
	if m == nil {
		return
	}
	m.ResponseScore.Observe(score)
}

func (m *Metrics) HTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
