package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Login flow metrics
	LoginAttemptsTotal      *prometheus.CounterVec
	RedirectsIssuedTotal    *prometheus.CounterVec
	ValidationFailuresTotal *prometheus.CounterVec
	TicketsIssuedTotal      *prometheus.CounterVec

	// Correlation store metrics
	CorrelationOpsTotal   *prometheus.CounterVec
	CorrelationOpDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fedgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fedgate_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		LoginAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fedgate_login_attempts_total",
				Help: "Login flow executions by provider and outcome event",
			},
			[]string{"provider", "outcome"},
		),
		RedirectsIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fedgate_redirects_issued_total",
				Help: "Outbound identity-provider redirects issued",
			},
			[]string{"provider"},
		),
		ValidationFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fedgate_validation_failures_total",
				Help: "Token validation failures by provider and reason",
			},
			[]string{"provider", "reason"},
		),
		TicketsIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fedgate_tickets_issued_total",
				Help: "Ticket-granting artifacts created per provider",
			},
			[]string{"provider"},
		),
		CorrelationOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fedgate_correlation_ops_total",
				Help: "Correlation store operations by op and result",
			},
			[]string{"op", "result"},
		),
		CorrelationOpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fedgate_correlation_op_duration_seconds",
				Help:    "Correlation store operation latency",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
			},
			[]string{"op"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LoginAttemptsTotal,
		m.RedirectsIssuedTotal,
		m.ValidationFailuresTotal,
		m.TicketsIssuedTotal,
		m.CorrelationOpsTotal,
		m.CorrelationOpDuration,
	)

	return m
}

// RegisterSnapshotsInFlight exposes the live snapshot count as a gauge
// sampled from the correlation store at scrape time. The store owns the
// number, so snapshots that expire without a callback fall off on their
// own.
func (m *Metrics) RegisterSnapshotsInFlight(count func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "fedgate_snapshots_in_flight",
			Help: "Request snapshots currently awaiting a callback",
		},
		count,
	))
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCorrelationOp records a single correlation store operation
func (m *Metrics) ObserveCorrelationOp(op, result string, start time.Time) {
	m.CorrelationOpsTotal.WithLabelValues(op, result).Inc()
	m.CorrelationOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// statusRecorder captures the response status code for metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// HTTPMiddleware instruments HTTP handlers with request metrics
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		path := r.URL.Path
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
