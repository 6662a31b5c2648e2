package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IndicatorUpserts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iocdb_indicator_upserts_total",
		Help: "Indicator upserts by result (created or updated)",
	}, []string{"result"})

	UpsertConflictRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "iocdb_upsert_conflict_retries_total",
		Help: "Unique-key races recovered by re-running the merge path",
	})

	EnrichmentResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iocdb_enrichment_results_total",
		Help: "Per-provider enrichment attempts by status",
	}, []string{"provider", "status"})

	EnrichmentLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "iocdb_enrichment_duration_seconds",
		Help:    "Per-provider enrichment call duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})

	SightingsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "iocdb_sightings_recorded_total",
		Help: "Sightings appended to the audit trail",
	})
)
