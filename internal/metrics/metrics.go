package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the Prometheus registry and the collectors the service
// exposes on /metrics.
type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	redemptions     *prometheus.CounterVec
	checkins        *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	redemptions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "code_redemptions_total",
		Help: "Code redemption attempts by outcome",
	}, []string{"outcome"})

	checkins := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkins_total",
		Help: "Attendance check-in requests by outcome",
	}, []string{"outcome"})

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		requestDuration,
		requestTotal,
		redemptions,
		checkins,
	)

	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		redemptions:     redemptions,
		checkins:        checkins,
	}
}

func (m *Metrics) Handler() http.Handler {
	return m.handler
}

func (m *Metrics) ObserveHTTPRequest(method, path string, status int, d time.Duration) {
	code := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, code).Observe(d.Seconds())
	m.requestTotal.WithLabelValues(method, path, code).Inc()
}

func (m *Metrics) RedemptionObserved(outcome string) {
	m.redemptions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CheckinObserved(outcome string) {
	m.checkins.WithLabelValues(outcome).Inc()
}
