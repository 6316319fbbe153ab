// Package metrics provides Prometheus metrics for the sorrel service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sorrel"

var (
	// ResolutionsTotal tracks get-or-create calls by outcome (exact, similar, composite, created, ...)
	ResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolution",
			Name:      "resolutions_total",
			Help:      "Total number of get-or-create calls by outcome",
		},
		[]string{"type", "outcome"},
	)

	// ResolutionDuration tracks get-or-create latency
	ResolutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "resolution",
			Name:      "duration_seconds",
			Help:      "Duration of get-or-create calls in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"type"},
	)

	// UniquenessRetriesTotal tracks create attempts lost to a concurrent caller
	UniquenessRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolution",
			Name:      "uniqueness_retries_total",
			Help:      "Total number of create attempts that hit the uniqueness constraint",
		},
		[]string{"type"},
	)

	// StrategyHitsTotal tracks which similarity strategy decided a verdict
	StrategyHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "matching",
			Name:      "strategy_hits_total",
			Help:      "Total number of equivalence verdicts by deciding strategy",
		},
		[]string{"reason"},
	)

	// BackendFailuresTotal tracks embedding and oracle failures, including timeouts
	BackendFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "matching",
			Name:      "backend_failures_total",
			Help:      "Total number of embedding or oracle calls that failed or timed out",
		},
		[]string{"backend"},
	)

	// ScanCandidatesTotal tracks duplicate candidates emitted by the scanner
	ScanCandidatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "candidates_total",
			Help:      "Total number of duplicate candidates by kind and reason",
		},
		[]string{"kind", "reason"},
	)

	// ScanSkippedPartitionsTotal tracks partitions too large for the all-pairs pass
	ScanSkippedPartitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "skipped_partitions_total",
			Help:      "Total number of partitions whose all-pairs pass was skipped",
		},
		[]string{"kind"},
	)

	// ScanDuration tracks the duration of a full scan
	ScanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "duration_seconds",
			Help:      "Duration of duplicate scans in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		},
		[]string{"kind"},
	)

	// ScanClustersTotal tracks duplicate clusters built from scan candidates
	ScanClustersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "clusters_total",
			Help:      "Total number of duplicate clusters by kind",
		},
		[]string{"kind"},
	)

	// MergesTotal tracks merges by kind and status (merged, dry_run, already_merged, failed)
	MergesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "merge",
			Name:      "merges_total",
			Help:      "Total number of merges by kind and status",
		},
		[]string{"kind", "status"},
	)

	// ReassignedReferencesTotal tracks foreign key rows repointed by merges
	ReassignedReferencesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "merge",
			Name:      "reassigned_references_total",
			Help:      "Total number of referencing rows repointed to a canonical",
		},
		[]string{"kind", "relation"},
	)

	// ImportedRecordsTotal tracks records received from import messages by source and result
	ImportedRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "records_total",
			Help:      "Total number of imported records by source and result",
		},
		[]string{"source", "result"},
	)

	// KafkaMessagesTotal tracks consumed and produced Kafka messages
	KafkaMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kafka",
			Name:      "messages_total",
			Help:      "Total number of Kafka messages by topic, direction and status",
		},
		[]string{"topic", "direction", "status"},
	)
)

// RecordResolution records one get-or-create call
func RecordResolution(typeSlug, outcome string, durationSeconds float64) {
	ResolutionsTotal.WithLabelValues(typeSlug, outcome).Inc()
	ResolutionDuration.WithLabelValues(typeSlug).Observe(durationSeconds)
}

// RecordMerge records one merge and the rows it repointed
func RecordMerge(kind, status string, reassigned map[string]int64) {
	MergesTotal.WithLabelValues(kind, status).Inc()
	for relation, n := range reassigned {
		ReassignedReferencesTotal.WithLabelValues(kind, relation).Add(float64(n))
	}
}

// RecordKafkaMessage records one consumed or produced message
func RecordKafkaMessage(topic, direction, status string) {
	KafkaMessagesTotal.WithLabelValues(topic, direction, status).Inc()
}

// RecordImport records the outcome of one import message
func RecordImport(source string, created, matched, failed int) {
	ImportedRecordsTotal.WithLabelValues(source, "created").Add(float64(created))
	ImportedRecordsTotal.WithLabelValues(source, "matched").Add(float64(matched))
	ImportedRecordsTotal.WithLabelValues(source, "failed").Add(float64(failed))
}
