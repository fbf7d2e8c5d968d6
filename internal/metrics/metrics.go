// Package metrics exposes Prometheus collectors for the result crawler service.
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

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	portalThrottleDelaySeconds *prometheus.HistogramVec
	captchaSolveSeconds        *prometheus.HistogramVec
	browserSessionsActive      prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120, 600},
			},
			[]string{"method", "route"},
		)

		portalThrottleDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "results_portal_throttle_delay_seconds",
				Help:    "Time spent waiting on the portal rate limiter, labeled by host.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		captchaSolveSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "results_captcha_solve_seconds",
				Help:    "CAPTCHA solve latency, labeled by result (ok, empty, timeout, error).",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
			},
			[]string{"result"},
		)

		browserSessionsActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "results_browser_sessions_active",
				Help: "Number of portal browser sessions currently open.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObservePortalThrottle records a rate limiter wait against the portal host.
func ObservePortalThrottle(host string, duration time.Duration) {
	if portalThrottleDelaySeconds == nil {
		return
	}
	portalThrottleDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveCaptchaSolve records one solve attempt.
func ObserveCaptchaSolve(result string, duration time.Duration) {
	if captchaSolveSeconds == nil {
		return
	}
	captchaSolveSeconds.WithLabelValues(result).Observe(duration.Seconds())
}

// IncBrowserSessions increments the open browser gauge.
func IncBrowserSessions() {
	if browserSessionsActive != nil {
		browserSessionsActive.Inc()
	}
}

// DecBrowserSessions decrements the open browser gauge.
func DecBrowserSessions() {
	if browserSessionsActive != nil {
		browserSessionsActive.Dec()
	}
}
