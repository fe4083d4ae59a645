// Package task provides the unit of work for a single archive file:
// fetch the object, decode it into stations, and shard the result into
// chunks for the DB stage.
package task

import (
	"context"

	"github.com/weatherlab/netatmo-etl/etl"
	"github.com/weatherlab/netatmo-etl/parser"
	"github.com/weatherlab/netatmo-etl/schema"
)

// Task tracks the processing of one archive file.
type Task struct {
	Key string

	src          etl.Fetcher
	region       *etl.Region
	chunkWorkers int
	minChunkSize int
}

// New constructs a task, injecting the source.
func New(key string, src etl.Fetcher, region *etl.Region, chunkWorkers, minChunkSize int) *Task {
	return &Task{
		Key:          key,
		src:          src,
		region:       region,
		chunkWorkers: chunkWorkers,
		minChunkSize: minChunkSize,
	}
}

// Fetch downloads the archive body.  The caller is expected to hold the
// store concurrency token for the duration of the call.
func (t *Task) Fetch(ctx context.Context) ([]byte, error) {
	return t.src.Fetch(ctx, t.Key)
}

// Process decodes the archive and shards the station map into chunks.
func (t *Task) Process(data []byte) ([]map[string]*schema.Station, parser.Stats, error) {
	dataMap, stats, err := parser.DecodeAndParse(t.Key, data, t.region)
	if err != nil {
		return nil, stats, err
	}
	return Split(dataMap, t.chunkWorkers, t.minChunkSize), stats, nil
}

// Split shards a station map into chunks of size
// max(ceil(len/workers), minSize).  Only the final chunk may be smaller.
// Splitting below minSize does not help throughput, it only multiplies
// bulk write round trips.
func Split(dataMap map[string]*schema.Station, workers, minSize int) []map[string]*schema.Station {
	if len(dataMap) == 0 {
		return nil
	}
	size := (len(dataMap) + workers - 1) / workers
	if size < minSize {
		size = minSize
	}

	chunks := make([]map[string]*schema.Station, 0, workers)
	chunk := make(map[string]*schema.Station, size)
	for id, station := range dataMap {
		chunk[id] = station
		if len(chunk) == size {
			chunks = append(chunks, chunk)
			chunk = make(map[string]*schema.Station, size)
		}
	}
	if len(chunk) > 0 {
		chunks = append(chunks, chunk)
	}
	return chunks
}
