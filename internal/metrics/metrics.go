// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MatchDuration tracks end-to-end /match latency split by outcome.
	MatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coverscan_match_duration_seconds",
			Help:    "Duration of cover match requests",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"outcome"},
	)

	MatchBestDistance = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coverscan_match_best_distance",
			Help:    "Euclidean distance of the best candidate per match",
			Buckets: prometheus.LinearBuckets(0, 0.1, 15),
		},
	)

	ExtractDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coverscan_extract_duration_seconds",
			Help:    "Feature extraction latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"extractor"},
	)

	IndexSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coverscan_index_vectors",
			Help: "Number of cover embeddings held by the reference index",
		},
	)

	BookCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverscan_book_cache_lookups_total",
			Help: "Book enrichment cache lookups",
		},
		[]string{"result"}, // hit, miss
	)

	JobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverscan_jobs_enqueued_total",
			Help: "Intake jobs created",
		},
		[]string{"kind"},
	)

	JobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverscan_jobs_finished_total",
			Help: "Intake jobs processed by workers",
		},
		[]string{"kind", "outcome"}, // done, retry, failed, released, lost
	)

	JobsReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coverscan_jobs_reclaimed_total",
			Help: "Running jobs returned to pending after a missed heartbeat",
		},
	)

	WorkerRunning = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coverscan_worker_running",
			Help: "1 when the worker loop goroutine is alive",
		},
		[]string{"worker"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coverscan_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	MetadataFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverscan_metadata_fetches_total",
			Help: "Metadata lookups per provider and outcome",
		},
		[]string{"provider", "outcome"},
	)
)
