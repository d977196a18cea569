// Package metrics exposes Prometheus collectors for the pipeline. All
// collectors are registered on the default registry and served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BatchesStaged counts CSV files accepted for ingestion.
	BatchesStaged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lead_engine_batches_staged_total",
		Help: "CSV files staged for ingestion.",
	})

	// BatchesProcessed counts batches finishing a pipeline stage.
	BatchesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lead_engine_batches_processed_total",
		Help: "Batches completing a pipeline stage.",
	}, []string{"stage"})

	// LeadsSettled counts canonical leads reaching a terminal match status.
	LeadsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lead_engine_leads_settled_total",
		Help: "Canonical leads settled by the matcher.",
	}, []string{"outcome"})

	// EmbeddingTasksCompleted counts embedding queue completions.
	EmbeddingTasksCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lead_engine_embedding_tasks_completed_total",
		Help: "Embedding tasks completed.",
	})

	// CrmSyncRuns counts CRM sync runs by terminal status.
	CrmSyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lead_engine_crm_sync_runs_total",
		Help: "CRM sync runs by status.",
	}, []string{"status"})

	// CandidatesExpired counts review candidates expired by the sweeper.
	CandidatesExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lead_engine_candidates_expired_total",
		Help: "Match candidates expired past their review TTL.",
	})

	// WorkerRuns counts poll-loop iterations per worker.
	WorkerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lead_engine_worker_runs_total",
		Help: "Worker iterations by result.",
	}, []string{"worker", "result"})

	// WorkerDuration observes per-iteration wall time.
	WorkerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lead_engine_worker_run_seconds",
		Help:    "Worker iteration duration.",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	}, []string{"worker"})
)
