// The etl package provides the major interfaces and data contracts used
// across packages.
package etl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/weatherlab/netatmo-etl/schema"
)

// Errors that components may return, and that the pipeline inspects to
// decide whether a run should continue.
var (
	// ErrInvalidRequest is returned before any work begins.
	ErrInvalidRequest = errors.New("invalid data request")

	// ErrNotFound indicates a missing archive object.  The pipeline logs
	// it and moves on.
	ErrNotFound = errors.New("archive not found")
)

// DecodeError wraps a gzip or JSON failure on a fetched archive.
type DecodeError struct {
	Key string
	Err error
}

func (e DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Key, e.Err)
}

func (e DecodeError) Unwrap() error {
	return e.Err
}

// Region is an axis-aligned lat/lon bounding box with inclusive edges,
// defined by its top left and bottom right corners.
type Region struct {
	TopLat    float64
	LeftLon   float64
	BottomLat float64
	RightLon  float64
}

// Contains reports whether (lat, lon) lies inside the box.  Edges count as
// inside.
func (r Region) Contains(lat, lon float64) bool {
	return lat >= r.BottomLat && lat <= r.TopLat &&
		lon >= r.LeftLon && lon <= r.RightLon
}

// DataRequest describes a single query or ingestion run.
type DataRequest struct {
	// Start and End are inclusive UTC instants.
	Start time.Time
	End   time.Time
	// StepMinutes is the archive cadence in minutes.
	StepMinutes int
	// Region restricts parsing to a bounding box.  Nil means worldwide.
	Region *Region
}

// Validate checks the request invariants before any work begins.
func (r DataRequest) Validate() error {
	if r.StepMinutes <= 0 {
		return fmt.Errorf("%w: step must be positive, got %d", ErrInvalidRequest, r.StepMinutes)
	}
	if r.End.Before(r.Start) {
		return fmt.Errorf("%w: end %s before start %s", ErrInvalidRequest,
			r.End.Format(time.RFC3339), r.Start.Format(time.RFC3339))
	}
	if r.Region != nil {
		if r.Region.TopLat < r.Region.BottomLat || r.Region.LeftLon > r.Region.RightLon {
			return fmt.Errorf("%w: malformed region %+v", ErrInvalidRequest, *r.Region)
		}
	}
	return nil
}

// DataResponse holds the result of a query path run.
type DataResponse struct {
	// DataMap maps station ids to the stations folded from all archives.
	DataMap map[string]*schema.Station
}

// Credentials is a snapshot of the object store identity.
type Credentials struct {
	Bucket    string
	AccessKey string
	SecretKey string
}

// CredentialsProvider supplies object store credentials.  Fetchers acquire
// a fresh snapshot per fetch; no caching is assumed.
type CredentialsProvider interface {
	AWSKeys() (Credentials, error)
}

// Fetcher retrieves raw archive bodies by key.
type Fetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// UpsertReport summarizes a single bulk upsert.
type UpsertReport struct {
	Matched  int64
	Modified int64
	Upserted int64
	// Skipped counts stations dropped because they carried no timestamped
	// data at all.
	Skipped int64
}

// An Inserter commits a chunk of stations to the document store as one
// unordered bulk upsert.  Implementations must be safe for concurrent use.
type Inserter interface {
	UpsertStations(ctx context.Context, stations map[string]*schema.Station) (UpsertReport, error)
}
