// Package metrics exposes Prometheus instrumentation for the embedding pipeline,
// similarity batch jobs and the recommendation path.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Embedding provider metrics
	EmbeddingCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hondana_embedding_calls_total",
			Help: "Embedding provider calls by outcome",
		},
		[]string{"outcome"}, // "success", "transient_error", "error"
	)

	EmbeddingRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hondana_embedding_retries_total",
			Help: "Embedding provider calls retried after a transient failure",
		},
	)

	EmbeddingUnavailable = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hondana_embedding_unavailable_total",
			Help: "Embedding requests that failed after exhausting retries",
		},
	)

	EmbeddingLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hondana_embedding_call_duration_seconds",
			Help:    "Duration of one embedding provider call",
			Buckets: prometheus.DefBuckets,
		},
	)

	EmbeddingCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hondana_embedding_cache_hits_total",
			Help: "Texts served from the embedding cache",
		},
	)

	// Embedding store metrics
	ChaptersProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hondana_chapters_processed_total",
			Help: "Chapters processed by embedding generation",
		},
		[]string{"status"}, // "embedded", "unchanged", "empty", "failed"
	)

	MigrationRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hondana_migration_runs_total",
			Help: "Corpus embedding migration runs",
		},
	)

	// Similarity metrics
	PlagiarismFlags = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hondana_plagiarism_flagged_chapters_total",
			Help: "Chapters flagged for plagiarism review",
		},
	)

	SimilarityRefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hondana_similarity_refresh_duration_seconds",
			Help:    "Duration of a user similarity batch refresh",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
	)

	SimilarityRowsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hondana_user_similarity_rows_written_total",
			Help: "UserSimilarity rows written by batch refreshes",
		},
	)

	// Recommendation metrics
	Recommendations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hondana_recommendations_total",
			Help: "Recommendation requests by ranking path",
		},
		[]string{"path"}, // "personalized", "cold_start", "empty"
	)

	RecommendationLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hondana_recommendation_duration_seconds",
			Help:    "Duration of a recommendation request",
			Buckets: prometheus.DefBuckets,
		},
	)

	// HTTP API metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hondana_http_requests_total",
			Help: "HTTP API requests by route pattern and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hondana_http_request_duration_seconds",
			Help:    "HTTP API request latency by route pattern",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordHTTPRequest records one served API request.
func RecordHTTPRequest(method, route, status string, seconds float64) {
	HTTPRequests.WithLabelValues(method, route, status).Inc()
	HTTPDuration.WithLabelValues(method, route).Observe(seconds)
}
