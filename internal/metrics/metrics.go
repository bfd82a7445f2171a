package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EntriesCounter       *prometheus.CounterVec
	EntryRunTimeSummary  *prometheus.SummaryVec
	RecordsCounter       *prometheus.CounterVec
	BatchCounter         *prometheus.CounterVec
	BatchRunTimeSummary  *prometheus.SummaryVec
	UploadBytes          *prometheus.CounterVec
	StoreQueryErrorCount *prometheus.CounterVec
	StatsCacheCounter    *prometheus.CounterVec
	PublishCounter       *prometheus.CounterVec
)

func init() {
	EntriesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pms_archive_entries_total",
			Help: "A counter metric to measure the total count of archive entries processed, admitted and rejected",
		},
		[]string{"kind", "outcome"},
	)

	EntryRunTimeSummary = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Name: "pms_archive_entry_duration_seconds",
			Help: "A summary metric to measure the total time spent processing each archive entry",
		},
		[]string{"kind", "outcome"},
	)

	RecordsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pms_records_admitted_total",
			Help: "A counter metric to measure the total count of records admitted into the registry",
		},
		[]string{"kind"},
	)

	BatchCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pms_batches_total",
			Help: "A counter metric to measure the total count of batches by their final state",
		},
		[]string{"state"},
	)

	BatchRunTimeSummary = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Name: "pms_batch_duration_seconds",
			Help: "A summary metric to measure the total time spent in completing each batch",
		},
		[]string{"state"},
	)

	UploadBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pms_upload_bytes",
			Help: "A counter metric to measure archives uploaded in bytes",
		},
		[]string{"response"},
	)

	StoreQueryErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_query_error_count",
			Help: "A counter metric to measure the total count of errors querying the asset store.",
		},
		[]string{"storeKind", "queryKind"},
	)

	StatsCacheCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pms_stats_cache_lookups_total",
			Help: "A counter metric to measure dashboard stats cache hits and misses",
		},
		[]string{"cache", "result"},
	)

	PublishCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pms_reports_published_total",
			Help: "A counter metric to measure processing reports published, successful and failed",
		},
		[]string{"result"},
	)
}

// Handler returns the prometheus metrics handler to be served as /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
