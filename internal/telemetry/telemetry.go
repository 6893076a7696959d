// Package telemetry declares the Prometheus collectors shared by the
// training pipeline and the serving process.
package telemetry

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kestrel",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kestrel",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 15),
		},
		[]string{"method", "route"},
	)

	// Serving metrics
	PredictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kestrel",
			Subsystem: "serving",
			Name:      "predictions_total",
			Help:      "Total number of scored transactions",
		},
		[]string{"algorithm", "source", "blocked"},
	)

	PredictionLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kestrel",
			Subsystem: "serving",
			Name:      "prediction_latency_seconds",
			Help:      "Time to transform and score one transaction",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 18),
		},
		[]string{"algorithm"},
	)

	// Training metrics
	PipelineStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kestrel",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of a training pipeline stage",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 12),
		},
		[]string{"stage"},
	)

	TrainingRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kestrel",
			Subsystem: "pipeline",
			Name:      "training_runs_total",
			Help:      "Total number of model creation runs",
		},
		[]string{"algorithm", "status"},
	)

	HPOTrialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kestrel",
			Subsystem: "pipeline",
			Name:      "hpo_trials_total",
			Help:      "Total number of hyperparameter search trials",
		},
		[]string{"algorithm", "status"},
	)

	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kestrel",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Content-addressed cache lookups",
		},
		[]string{"namespace", "result"},
	)

	BusMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kestrel",
			Subsystem: "bus",
			Name:      "messages_total",
			Help:      "Messages handed to in-process subscribers",
		},
		[]string{"topic", "result"},
	)
)

// ObserveStage records the duration of a pipeline stage and logs it.
func ObserveStage(stage string, started time.Time, args ...any) {
	elapsed := time.Since(started)
	PipelineStageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	slog.Info("pipeline stage completed", append([]any{"stage", stage, "duration_ms", elapsed.Milliseconds()}, args...)...)
}
