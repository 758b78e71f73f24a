package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the scrape pipeline:
// - quota ledger usage
// - per-channel scrape outcomes and latency
// - outlier detections and snapshot writes
// - scheduler runs

var (
	QuotaUsed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "radar_quota_used_units",
			Help: "Quota units consumed in the current ledger day",
		},
	)

	QuotaRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "radar_quota_remaining_units",
			Help: "Quota units left in the current ledger day",
		},
	)

	QuotaDebits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radar_quota_debited_units_total",
			Help: "Total quota units debited, by operation",
		},
		[]string{"operation"},
	)

	ChannelScrapes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radar_channel_scrapes_total",
			Help: "Channel refreshes by outcome status",
		},
		[]string{"status"}, // ok, partial, no_videos, fetch_error, quota_blocked, cancelled
	)

	ChannelScrapeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "radar_channel_scrape_duration_seconds",
			Help:    "Wall time of a single channel refresh",
			Buckets: prometheus.DefBuckets,
		},
	)

	VideoErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "radar_video_errors_total",
			Help: "Per-video processing failures recovered by the orchestrator",
		},
	)

	OutliersUpserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "radar_outliers_upserted_total",
			Help: "Outlier records created or refreshed",
		},
	)

	SnapshotsStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "radar_snapshots_stored_total",
			Help: "Video snapshots handed to the store",
		},
	)

	SchedulerRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radar_scheduler_runs_total",
			Help: "Rotation scheduler runs by trigger",
		},
		[]string{"trigger"}, // tick, force
	)

	SchedulerLastRun = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "radar_scheduler_last_run_timestamp_seconds",
			Help: "Unix time of the last completed scheduler run",
		},
	)
)

// RecordQuota publishes the current ledger figures.
func RecordQuota(used, remaining int) {
	QuotaUsed.Set(float64(used))
	QuotaRemaining.Set(float64(remaining))
}
