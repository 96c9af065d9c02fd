// Package metrics holds the Prometheus collectors of the harvester.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IndexRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spices_index_refreshes_total",
			Help: "Remote index refreshes by outcome",
		},
		[]string{"type", "status"},
	)

	AssetDownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spices_asset_downloads_total",
			Help: "Thumbnail downloads by outcome",
		},
		[]string{"type", "status"},
	)

	AssetsRemovedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spices_assets_removed_total",
			Help: "Cached thumbnails deleted by garbage collection",
		},
		[]string{"type"},
	)

	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spices_operations_total",
			Help: "Install, upgrade and uninstall operations by outcome",
		},
		[]string{"type", "action", "status"},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spices_operation_duration_seconds",
			Help:    "Install and upgrade duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"type", "action"},
	)

	UpdatesAvailable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "spices_updates_available",
			Help: "Installed spices with a newer remote revision",
		},
		[]string{"type"},
	)

	ActivityLogDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spices_activity_log_dropped_total",
			Help: "Activity log lines that could not be written",
		},
	)
)

// Status turns an error into the status label value.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
