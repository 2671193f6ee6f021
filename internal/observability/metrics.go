package observability

import "github.com/prometheus/client_golang/prometheus"

// HTTP metrics are labelled by route pattern, never by raw path, so table
// names in URLs do not create new series.
var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nl2sql_http_requests_total",
			Help: "Total number of HTTP requests by route and status.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "nl2sql_http_request_duration_seconds",
			Help: "HTTP request latency by route. Query routes include backend generation time.",
			// Generation can take tens of seconds on a local model.
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"method", "route"},
	)

	httpRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nl2sql_http_requests_in_flight",
			Help: "Number of HTTP requests currently being served.",
		},
	)

	httpPanicsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nl2sql_http_panics_total",
			Help: "Total number of handler panics recovered by the HTTP server.",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDurationSeconds, httpRequestsInFlight, httpPanicsTotal)
}
