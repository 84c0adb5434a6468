package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	ScrapeAttempts   *prometheus.CounterVec
	Ingestions       *prometheus.CounterVec
	Votes            *prometheus.CounterVec
	LLMCalls         *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{Registry: prometheus.NewRegistry()}

	m.ScrapeAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carnival_scrape_attempts_total",
			Help: "Upstream scrape attempts, by backend and outcome.",
		},
		[]string{"backend", "outcome"},
	)

	m.Ingestions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carnival_video_ingestions_total",
			Help: "Video submissions, by outcome.",
		},
		[]string{"outcome"},
	)

	m.Votes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carnival_votes_total",
			Help: "Vote attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	m.LLMCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carnival_llm_calls_total",
			Help: "LLM completions, by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	m.RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "carnival_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds, by route, method and status.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method", "status"},
	)

	m.RequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "carnival_http_requests_in_flight",
			Help: "Number of HTTP requests currently being served.",
		},
	)

	m.Registry.MustRegister(
		m.ScrapeAttempts,
		m.Ingestions,
		m.Votes,
		m.LLMCalls,
		m.RequestDuration,
		m.RequestsInFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveScrape counts one upstream attempt.
func (m *Metrics) ObserveScrape(backend, outcome string) {
	if m == nil {
		return
	}
	m.ScrapeAttempts.WithLabelValues(backend, outcome).Inc()
}

// ObserveIngestion counts one video submission.
func (m *Metrics) ObserveIngestion(outcome string) {
	if m == nil {
		return
	}
	m.Ingestions.WithLabelValues(outcome).Inc()
}

// ObserveVote counts one vote attempt.
func (m *Metrics) ObserveVote(outcome string) {
	if m == nil {
		return
	}
	m.Votes.WithLabelValues(outcome).Inc()
}

// ObserveLLM counts one LLM completion.
func (m *Metrics) ObserveLLM(kind, outcome string) {
	if m == nil {
		return
	}
	m.LLMCalls.WithLabelValues(kind, outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Middleware records request duration by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.RequestsInFlight.Inc()
		defer m.RequestsInFlight.Dec()

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		m.RequestDuration.
			WithLabelValues(route, r.Method, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}
