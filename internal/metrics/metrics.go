package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all the Prometheus metrics for the seclens pipeline.
type Metrics struct {
	RawEventsIngested prometheus.Counter
	IngestInvalid     prometheus.Counter

	EventsNormalized prometheus.Counter
	NormalizeSkipped prometheus.Counter

	FeatureRowsUpserted prometheus.Counter

	SignalsEmitted prometheus.Counter

	IncidentsCreated  prometheus.Counter
	SignalsCorrelated prometheus.Counter

	StageRuns     *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
}

// New creates a Metrics instance with all collectors registered on the
// default registry.
func New() *Metrics {
	return &Metrics{
		RawEventsIngested: promauto.NewCounter(prometheus.CounterOpts{
			Name: "seclens_raw_events_ingested_total",
			Help: "Total number of raw events accepted from the ingest subject",
		}),
		IngestInvalid: promauto.NewCounter(prometheus.CounterOpts{
			Name: "seclens_ingest_invalid_total",
			Help: "Total number of inbound events rejected by schema validation",
		}),
		EventsNormalized: promauto.NewCounter(prometheus.CounterOpts{
			Name: "seclens_events_normalized_total",
			Help: "Total number of normalized events written",
		}),
		NormalizeSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "seclens_normalize_skipped_total",
			Help: "Total number of raw events skipped as noise or malformed",
		}),
		FeatureRowsUpserted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "seclens_feature_rows_upserted_total",
			Help: "Total number of feature bucket rows upserted",
		}),
		SignalsEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "seclens_signals_emitted_total",
			Help: "Total number of new signals inserted (after dedup)",
		}),
		IncidentsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "seclens_incidents_created_total",
			Help: "Total number of incidents opened",
		}),
		SignalsCorrelated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "seclens_signals_correlated_total",
			Help: "Total number of signals consumed by the correlator",
		}),
		StageRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "seclens_stage_runs_total",
			Help: "Pipeline stage invocations by stage and outcome",
		}, []string{"stage", "outcome"}),
		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "seclens_stage_duration_seconds",
			Help:    "Pipeline stage run duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
	}
}
