package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var httpLabels = []string{"service", "method", "route", "status"}

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "siraat_http_requests_total",
		Help: "HTTP requests served by the companion daemon",
	}, httpLabels)

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "siraat_http_request_duration_seconds",
		Help:    "Time to serve an HTTP request, including upstream time for proxied calls",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 15},
	}, httpLabels)

	httpResponseBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "siraat_http_response_bytes_total",
		Help: "Response body bytes written",
	}, []string{"service", "route"})

	httpRequestsInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "siraat_http_requests_in_flight",
		Help: "Requests currently being served",
	}, []string{"service"})
)

// PrometheusMetrics records request counts, latency and response size per
// chi route pattern. The route, not the raw path, keeps proxied traffic to a
// single label value.
func PrometheusMetrics(serviceName string) func(next http.Handler) http.Handler {
	inFlight := httpRequestsInFlight.WithLabelValues(serviceName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			inFlight.Inc()
			defer inFlight.Dec()

			start := time.Now()
			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r)

			route := routePattern(r)
			labels := prometheus.Labels{
				"service": serviceName,
				"method":  r.Method,
				"route":   route,
				"status":  strconv.Itoa(rec.status),
			}
			httpRequestsTotal.With(labels).Inc()
			httpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
			httpResponseBytes.WithLabelValues(serviceName, route).Add(float64(rec.bytes))
		})
	}
}
