package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nl2sql_generations_total",
			Help: "Total number of backend generation calls by backend and outcome.",
		},
		[]string{"backend", "outcome"},
	)
	generationLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nl2sql_generation_latency_ms",
			Help:    "Backend generation wall-clock latency in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 20000, 30000},
		},
		[]string{"backend"},
	)
	validationRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nl2sql_validation_rejections_total",
			Help: "Total number of statements rejected by the safety validator, by rule.",
		},
		[]string{"rule"},
	)
	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nl2sql_query_executions_total",
			Help: "Total number of certified statements executed, by status.",
		},
		[]string{"status"},
	)
	executionLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nl2sql_query_execution_latency_ms",
			Help:    "Database execution latency in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		},
	)
	sessionTurns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nl2sql_session_turns",
			Help: "Current number of turns held by the conversation store.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		generationsTotal,
		generationLatencyMs,
		validationRejectionsTotal,
		executionsTotal,
		executionLatencyMs,
		sessionTurns,
	)
}

// ObserveGeneration records one backend call. outcome is "ok" or an error kind.
func ObserveGeneration(backend, outcome string, elapsed time.Duration) {
	generationsTotal.WithLabelValues(backend, outcome).Inc()
	generationLatencyMs.WithLabelValues(backend).Observe(float64(elapsed.Milliseconds()))
}

func IncrementValidationRejection(rule string) {
	validationRejectionsTotal.WithLabelValues(rule).Inc()
}

func ObserveExecution(status string, elapsed time.Duration) {
	executionsTotal.WithLabelValues(status).Inc()
	executionLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

func SetSessionTurns(count int) {
	if count < 0 {
		count = 0
	}
	sessionTurns.Set(float64(count))
}
