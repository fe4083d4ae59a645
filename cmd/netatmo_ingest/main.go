// The netatmo_ingest command runs one ingestion: it downloads the archive
// files covering the requested window from S3 and upserts the parsed
// station series into MongoDB.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/weatherlab/netatmo-etl/creds"
	"github.com/weatherlab/netatmo-etl/etl"
	"github.com/weatherlab/netatmo-etl/mongodb"
	"github.com/weatherlab/netatmo-etl/storage"
	"github.com/weatherlab/netatmo-etl/worker"
)

// Flags.
var (
	credsFile = flag.String("credentials", "config/AWS_key", "Path to the AWS credentials file")
	awsRegion = flag.String("aws_region", storage.DefaultRegion, "AWS region of the archive bucket")
	keyPrefix = flag.String("key_prefix", "data/", "Object key prefix of the archive files")

	mongoURI     = flag.String("mongo_uri", "mongodb://localhost:27017", "MongoDB connection URI")
	writeConcern = flag.Int("write_concern", 1, "MongoDB write concern for bulk upserts")

	startFlag = flag.String("start", "", "Window start, RFC3339 UTC (inclusive)")
	endFlag   = flag.String("end", "", "Window end, RFC3339 UTC (inclusive)")
	stepFlag  = flag.Int("step", 10, "Archive cadence in minutes")
	region    = flag.String("region", "",
		"Bounding box as top_lat,left_lon,bottom_lat,right_lon; empty means worldwide")

	fileWorkers      = flag.Int("file_workers", 2, "Number of fetch/decode workers")
	jsonWorkers      = flag.Int("json_workers", 4, "Number of DB workers")
	storeConcurrency = flag.Int64("store_concurrency", 2, "Max concurrent S3 fetches")
	dbConcurrency    = flag.Int64("db_concurrency", 4, "Max concurrent bulk writes")
	minChunkSize     = flag.Int("min_chunk_size", 3000, "Minimum stations per bulk write")
)

func init() {
	// Always prepend the filename and line number.
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

func parseRegion(s string) (*etl.Region, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("region needs 4 comma-separated values, got %q", s)
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("bad region value %q: %w", p, err)
		}
		vals[i] = v
	}
	return &etl.Region{TopLat: vals[0], LeftLon: vals[1], BottomLat: vals[2], RightLon: vals[3]}, nil
}

func parseRequest() (etl.DataRequest, error) {
	start, err := time.Parse(time.RFC3339, *startFlag)
	if err != nil {
		return etl.DataRequest{}, fmt.Errorf("bad -start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, *endFlag)
	if err != nil {
		return etl.DataRequest{}, fmt.Errorf("bad -end: %w", err)
	}
	box, err := parseRegion(*region)
	if err != nil {
		return etl.DataRequest{}, err
	}
	req := etl.DataRequest{
		Start:       start.UTC(),
		End:         end.UTC(),
		StepMinutes: *stepFlag,
		Region:      box,
	}
	return req, req.Validate()
}

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not parse flags")

	req, err := parseRequest()
	rtx.Must(err, "Invalid ingestion request")

	srv := prometheusx.MustServeMetrics()
	defer srv.Close()

	src := storage.NewS3Source(creds.FileProvider{Path: *credsFile})
	src.Region = *awsRegion
	src.Prefix = *keyPrefix

	ins := mongodb.NewInserter(mongodb.InserterParams{
		URI:          *mongoURI,
		WriteConcern: *writeConcern,
	})

	cfg := worker.Config{
		FileWorkers:      *fileWorkers,
		JSONWorkers:      *jsonWorkers,
		StoreConcurrency: *storeConcurrency,
		DBConcurrency:    *dbConcurrency,
		MinChunkSize:     *minChunkSize,
	}

	start := time.Now()
	ingestErrs, err := worker.RunIngestion(context.Background(), req, src, ins, cfg)
	rtx.Must(err, "Ingestion failed")

	for _, e := range ingestErrs {
		log.Printf("ERROR %v", e)
	}
	log.Printf("Program finished (%ds), %d recoverable errors.",
		int(time.Since(start).Seconds()), len(ingestErrs))
}
