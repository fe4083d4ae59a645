// Package worker orchestrates the two-stage ingestion pipeline: file
// workers fetch and decode archives, DB workers bulk-upsert the resulting
// station chunks.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/weatherlab/netatmo-etl/etl"
	"github.com/weatherlab/netatmo-etl/metrics"
	"github.com/weatherlab/netatmo-etl/schema"
	"github.com/weatherlab/netatmo-etl/task"
)

// Config holds the pipeline tuning knobs.  The zero value selects the
// defaults.
type Config struct {
	FileWorkers int // number of fetch/decode workers.
	JSONWorkers int // number of DB workers.

	// StoreConcurrency caps in-flight object store fetches, independent
	// of FileWorkers.
	StoreConcurrency int64
	// DBConcurrency caps in-flight bulk writes, independent of
	// JSONWorkers.
	DBConcurrency int64

	// MinChunkSize is the smallest chunk worth a bulk write round trip.
	// A performance heuristic; correctness does not depend on it.
	MinChunkSize int

	// ChunkQueueDepth bounds the queue between the two stages.
	// Defaults to 2x the CPU count.
	ChunkQueueDepth int
}

func (c Config) withDefaults() Config {
	if c.FileWorkers == 0 {
		c.FileWorkers = 2
	}
	if c.JSONWorkers == 0 {
		c.JSONWorkers = 4
	}
	if c.StoreConcurrency == 0 {
		c.StoreConcurrency = 2
	}
	if c.DBConcurrency == 0 {
		c.DBConcurrency = 4
	}
	if c.MinChunkSize == 0 {
		c.MinChunkSize = 3000
	}
	if c.ChunkQueueDepth == 0 {
		c.ChunkQueueDepth = 2 * runtime.NumCPU()
	}
	return c
}

// IngestError is one recoverable failure recorded during a run.  Key is
// empty for failures not tied to a single archive.
type IngestError struct {
	Key    string
	Source string // fetch, decode, or upsert.
	Err    error
}

func (e IngestError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Source, e.Key, e.Err)
}

func (e IngestError) Unwrap() error {
	return e.Err
}

// RunIngestion executes one ingestion run: it expands the request into
// archive keys, streams them through the file and DB stages, and returns
// the recoverable failures observed along the way.
//
// A single bad file never stops the run, and a single bad chunk never
// stops the DB stage.  The returned error is non-nil only when the request
// itself is invalid.
func RunIngestion(ctx context.Context, req etl.DataRequest, src etl.Fetcher, ins etl.Inserter, cfg Config) ([]IngestError, error) {
	keys, err := etl.ArchiveKeys(req)
	if err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	log.Printf("Loading %d files in total.", len(keys))

	// The file queue holds the whole run up front; closing it replaces
	// the source's sentinel tokens.
	files := make(chan string, len(keys))
	for _, key := range keys {
		files <- key
	}
	close(files)

	chunks := make(chan map[string]*schema.Station, cfg.ChunkQueueDepth)

	// Single-consumer error sink, drained by a collector goroutine so
	// producers never block on it for long.
	sink := make(chan IngestError, cfg.FileWorkers+cfg.JSONWorkers)
	var collected []IngestError
	var collectorWG sync.WaitGroup
	collectorWG.Add(1)
	go func() {
		defer collectorWG.Done()
		for e := range sink {
			metrics.ErrorCount.WithLabelValues(e.Source).Inc()
			collected = append(collected, e)
		}
	}()

	storeSem := semaphore.NewWeighted(cfg.StoreConcurrency)
	dbSem := semaphore.NewWeighted(cfg.DBConcurrency)

	var fileWG sync.WaitGroup
	for i := 0; i < cfg.FileWorkers; i++ {
		fileWG.Add(1)
		go func() {
			defer fileWG.Done()
			fileWorker(ctx, req.Region, src, cfg, files, chunks, sink, storeSem)
		}()
	}

	var dbWG sync.WaitGroup
	for i := 0; i < cfg.JSONWorkers; i++ {
		dbWG.Add(1)
		go func() {
			defer dbWG.Done()
			dbWorker(ctx, ins, chunks, sink, dbSem)
		}()
	}

	// Drain the file stage, then release the DB stage, then the sink.
	fileWG.Wait()
	close(chunks)
	dbWG.Wait()
	close(sink)
	collectorWG.Wait()

	return collected, nil
}

// fileWorker drains the file queue.  Each archive is fetched under the
// store token, decoded, and sharded onto the chunk queue.
func fileWorker(ctx context.Context, region *etl.Region, src etl.Fetcher, cfg Config,
	files <-chan string, chunks chan<- map[string]*schema.Station, sink chan<- IngestError,
	storeSem *semaphore.Weighted) {

	metrics.WorkerCount.Inc()
	defer metrics.WorkerCount.Dec()

	for key := range files {
		t := task.New(key, src, region, cfg.JSONWorkers, cfg.MinChunkSize)

		metrics.WorkerState.WithLabelValues("file", "fetch").Inc()
		err := storeSem.Acquire(ctx, 1)
		var data []byte
		if err == nil {
			data, err = t.Fetch(ctx)
			storeSem.Release(1)
		}
		metrics.WorkerState.WithLabelValues("file", "fetch").Dec()

		if err != nil {
			switch {
			case errors.Is(err, etl.ErrNotFound):
				log.Printf("File does not exist: %s", key)
				metrics.FileCount.WithLabelValues("not_found").Inc()
			default:
				log.Printf("ERROR fetching %s: %v", key, err)
				metrics.FileCount.WithLabelValues("fetch_error").Inc()
			}
			sink <- IngestError{Key: key, Source: "fetch", Err: err}
			continue
		}
		metrics.FileSizeHistogram.Observe(float64(len(data)))

		metrics.WorkerState.WithLabelValues("file", "parse").Inc()
		shards, stats, err := t.Process(data)
		metrics.WorkerState.WithLabelValues("file", "parse").Dec()
		if err != nil {
			log.Printf("ERROR decoding %s: %v", key, err)
			metrics.FileCount.WithLabelValues("decode_error").Inc()
			sink <- IngestError{Key: key, Source: "decode", Err: err}
			continue
		}
		stats.LogDebug(key)
		metrics.FileCount.WithLabelValues("ok").Inc()
		metrics.StationCount.WithLabelValues("parsed").Add(float64(stats.NewStations))
		metrics.StationCount.WithLabelValues("out_of_region").Add(float64(stats.StationsOutOfRegion))

		for _, chunk := range shards {
			// May block while the DB stage catches up.
			chunks <- chunk
			metrics.ChunkCount.Inc()
		}
	}
}

// dbWorker drains the chunk queue into the document store under the DB
// token.  Bulk write failures are recorded and do not terminate the
// worker.
func dbWorker(ctx context.Context, ins etl.Inserter,
	chunks <-chan map[string]*schema.Station, sink chan<- IngestError,
	dbSem *semaphore.Weighted) {

	metrics.WorkerCount.Inc()
	defer metrics.WorkerCount.Dec()

	for chunk := range chunks {
		metrics.WorkerState.WithLabelValues("db", "upsert").Inc()
		err := dbSem.Acquire(ctx, 1)
		if err == nil {
			_, err = ins.UpsertStations(ctx, chunk)
			dbSem.Release(1)
		}
		metrics.WorkerState.WithLabelValues("db", "upsert").Dec()

		if err != nil {
			log.Printf("ERROR bulk write of %d stations: %v", len(chunk), err)
			sink <- IngestError{Source: "upsert", Err: err}
		}
	}
}
