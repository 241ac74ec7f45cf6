// Package metrics declares the Prometheus collectors contexthub exposes.
// Shape follows cuemby-warren's pkg/metrics: package-level collector vars
// registered once by the server entrypoint and updated in-line. Only the
// compress service updates its collectors (CompressRunsTotal,
// CompressLastRunSeconds, CompressLastDurationSeconds); the document,
// WAL, shard and blob collectors are registered but no component sets them.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	DocumentsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "contexthub_documents_total",
		Help: "Total number of in-memory documents held by the store.",
	})

	WALSegmentsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "contexthub_wal_segments_total",
		Help: "Total number of on-disk WAL segments.",
	})

	WALAppendsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "contexthub_wal_appends_total",
		Help: "Total number of records appended to the WAL.",
	})

	WALBytesTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "contexthub_wal_bytes_total",
		Help: "Total size in bytes of all *.log WAL segments.",
	})

	CompressRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "contexthub_compress_runs_total",
		Help: "Total compress() invocations by outcome.",
	}, []string{"outcome"})

	CompressLastRunSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "contexthub_compress_last_run_seconds",
		Help: "Unix timestamp of the last successful compress().",
	})

	CompressLastDurationSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "contexthub_compress_last_duration_seconds",
		Help: "Wall-clock duration of the last compress() run.",
	})

	ShardActiveTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "contexthub_shard_active_total",
		Help: "Number of shards currently Active or ReadOnly.",
	})

	BlobBytesTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "contexthub_blob_bytes_total",
		Help: "Total size in bytes of the blob store.",
	})
)

// MustRegisterAll registers every collector above against reg. Call once
// from the serve entrypoint.
func MustRegisterAll(reg prometheus.Registerer) {
	reg.MustRegister(
		DocumentsTotal,
		WALSegmentsTotal,
		WALAppendsTotal,
		WALBytesTotal,
		CompressRunsTotal,
		CompressLastRunSeconds,
		CompressLastDurationSeconds,
		ShardActiveTotal,
		BlobBytesTotal,
	)
}
