// Package engine reconstructs per-station time series from archived files,
// without involving the document store.  It is the read-side companion of
// the ingestion pipeline, and works against any archive source: a local
// directory or an S3 bucket.
package engine

import (
	"context"
	"errors"
	"log"

	"github.com/weatherlab/netatmo-etl/etl"
	"github.com/weatherlab/netatmo-etl/parser"
	"github.com/weatherlab/netatmo-etl/schema"
)

// Engine translates a DataRequest into a DataResponse using an archive
// source.
type Engine struct {
	Source etl.Fetcher
}

// Query replays the request window over the source, folding every archive
// into one station map.  Missing archives are logged and skipped.
func (e *Engine) Query(ctx context.Context, req etl.DataRequest) (*etl.DataResponse, error) {
	keys, err := etl.ArchiveKeys(req)
	if err != nil {
		return nil, err
	}

	dataMap := make(map[string]*schema.Station)
	log.Printf("Loading %d files in total.", len(keys))
	for i, key := range keys {
		log.Printf("File %d: %s", i+1, key)
		data, err := e.Source.Fetch(ctx, key)
		if errors.Is(err, etl.ErrNotFound) {
			log.Printf("File does not exist: %s", key)
			continue
		}
		if err != nil {
			return nil, err
		}

		records, err := parser.Decode(key, data)
		if err != nil {
			return nil, err
		}
		stats := parser.ParseStations(records, req.Region, dataMap)
		stats.LogDebug(key)
	}

	return &etl.DataResponse{DataMap: dataMap}, nil
}
