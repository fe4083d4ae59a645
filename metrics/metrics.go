// The metrics package defines prometheus metric types and provides
// convenience methods to add accounting to various parts of the pipeline.
//
// When defining new operations or metrics, these are helpful values to track:
//  - things coming into or go out of the system: requests, files, stations, writes.
//  - the success or error status of any of the above.
//  - the distribution of processing latency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	// Register the metrics defined with Prometheus's default registry.
	prometheus.MustRegister(WorkerCount)
	prometheus.MustRegister(WorkerState)
	prometheus.MustRegister(FileCount)
	prometheus.MustRegister(StationCount)
	prometheus.MustRegister(ChunkCount)
	prometheus.MustRegister(BulkWriteCount)
	prometheus.MustRegister(StoreRetryCount)
	prometheus.MustRegister(ErrorCount)
	prometheus.MustRegister(FileSizeHistogram)
	prometheus.MustRegister(InsertionHistogram)
}

var (
	// Counts the number of workers currently active.
	//
	// Provides metrics:
	//   netatmo_worker_count
	// Example usage:
	//   metrics.WorkerCount.Inc() / .Dec()
	WorkerCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "netatmo_worker_count",
		Help: "Number of active workers.",
	})

	// Counts the number of workers in each state.
	//
	// Provides metrics:
	//   netatmo_worker_state{stage, state}
	// Example usage:
	//   metrics.WorkerState.WithLabelValues("file", "fetch").Inc() / .Dec()
	WorkerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "netatmo_worker_state",
		Help: "Number of workers in different states.",
	},
		// Pipeline stage and worker state, e.g. fetch, parse, upsert.
		[]string{"stage", "state"},
	)

	// Counts the archive files processed by the pipeline, by disposition.
	//
	// Provides metrics:
	//   netatmo_file_count{status}
	// Example usage:
	//   metrics.FileCount.WithLabelValues("ok").Inc()
	FileCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netatmo_file_count",
			Help: "Number of archive files processed.",
		},
		// ok, not_found, fetch_error, decode_error
		[]string{"status"},
	)

	// Counts the station records parsed out of archive files.
	//
	// Provides metrics:
	//   netatmo_station_count{status}
	// Example usage:
	//   metrics.StationCount.WithLabelValues("parsed").Inc()
	StationCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netatmo_station_count",
			Help: "Number of station records parsed from archives.",
		},
		// parsed, out_of_region, skipped
		[]string{"status"},
	)

	// Counts the chunks handed from the file stage to the DB stage.
	//
	// Provides metrics:
	//   netatmo_chunk_count
	// Example usage:
	//   metrics.ChunkCount.Inc()
	ChunkCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "netatmo_chunk_count",
		Help: "Number of station chunks submitted to the DB stage.",
	})

	// Counts the bulk writes executed against the document store.
	//
	// Provides metrics:
	//   netatmo_bulk_write_count{status}
	// Example usage:
	//   metrics.BulkWriteCount.WithLabelValues("ok").Inc()
	BulkWriteCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netatmo_bulk_write_count",
			Help: "Number of bulk writes to the stations collection.",
		},
		[]string{"status"},
	)

	// Counts the internal retries of the object store client.
	//
	// Provides metrics:
	//   netatmo_store_retry_count
	// Example usage:
	//   metrics.StoreRetryCount.Inc()
	StoreRetryCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "netatmo_store_retry_count",
		Help: "Number of transient object store errors retried.",
	})

	// Counts the errors delivered to the pipeline error sink.
	//
	// Provides metrics:
	//   netatmo_error_count{source}
	// Example usage:
	//   metrics.ErrorCount.WithLabelValues("fetch").Inc()
	ErrorCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netatmo_error_count",
			Help: "Number of errors recorded in the error sink.",
		},
		[]string{"source"},
	)

	// Tracks the size distribution of fetched archive files.
	//
	// Provides metrics:
	//   netatmo_file_size_bytes
	// Example usage:
	//   metrics.FileSizeHistogram.Observe(float64(len(data)))
	FileSizeHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "netatmo_file_size_bytes",
		Help:    "Size of fetched archive files.",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
	})

	// Tracks the latency distribution of bulk writes.
	//
	// Provides metrics:
	//   netatmo_insertion_seconds
	// Example usage:
	//   metrics.InsertionHistogram.Observe(time.Since(start).Seconds())
	InsertionHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "netatmo_insertion_seconds",
		Help:    "Latency of bulk writes to the stations collection.",
		Buckets: prometheus.DefBuckets,
	})
)
