// Package metrics holds the Prometheus collectors for the API server and the
// deployment actions it performs.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kubedash_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	requestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubedash_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// ActionsTotal counts deployment actions by kind and result
	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubedash_actions_total",
			Help: "Total deployment actions by action and result",
		},
		[]string{"action", "result"},
	)

	// ActionDuration observes how long each backend action took
	ActionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kubedash_action_duration_seconds",
			Help:    "Deployment action duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		},
		[]string{"action"},
	)

	// WatchStreams is the number of open deployment watch streams
	WatchStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kubedash_watch_streams",
			Help: "Current number of open deployment watch streams",
		},
	)
)

// ObserveAction records one action outcome.
func ObserveAction(action string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	ActionsTotal.WithLabelValues(action, result).Inc()
	ActionDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// unmatchedEndpoint labels requests that matched no route
const unmatchedEndpoint = "unmatched"

// Middleware collects request metrics labelled by chi route pattern
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		status := strconv.Itoa(wrapped.statusCode)

		// route pattern keeps label cardinality bounded
		endpoint := unmatchedEndpoint
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				endpoint = strings.TrimRight(pattern, "/")
				if endpoint == "" {
					endpoint = "/"
				}
			}
		}

		requestDuration.WithLabelValues(r.Method, endpoint, status).Observe(time.Since(start).Seconds())
		requestCount.WithLabelValues(r.Method, endpoint, status).Inc()
	})
}

// responseWriter captures the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}
