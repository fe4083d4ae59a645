// Package mongodb includes all code related to the stations collection.
//
// NB: NOTES ON WRITE VOLUME
// Each chunk becomes a single unordered bulk write, so the per-operation
// round trip cost is paid once per chunk rather than once per station.
// Connections are opened per chunk and closed on completion; the driver's
// own pooling makes reconnecting cheap, and it keeps the DB stage free of
// long-lived shared state.
package mongodb

import (
	"context"
	"errors"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/weatherlab/netatmo-etl/etl"
	"github.com/weatherlab/netatmo-etl/metrics"
	"github.com/weatherlab/netatmo-etl/schema"
)

// errNoData marks a station that carries neither thermo nor hydro
// timestamps, and therefore no primary key.
var errNoData = errors.New("no data in record")

// InserterParams configure an Inserter.
type InserterParams struct {
	URI        string
	Database   string
	Collection string
	// WriteConcern is the acknowledgement level requested from the
	// server.  Turning it down may improve write throughput at the cost
	// of error reporting.
	WriteConcern int
	Timeout      time.Duration // max duration of one bulk write.
}

// Inserter commits station chunks to the stations collection.  It is
// stateless between calls and safe for concurrent use.
type Inserter struct {
	params InserterParams
}

// NewInserter returns an Inserter with defaults filled in.
func NewInserter(params InserterParams) *Inserter {
	if params.Database == "" {
		params.Database = "netatmo"
	}
	if params.Collection == "" {
		params.Collection = "stations"
	}
	if params.WriteConcern == 0 {
		params.WriteConcern = 1
	}
	if params.Timeout == 0 {
		params.Timeout = 60 * time.Second
	}
	return &Inserter{params: params}
}

// UpsertStations updates station documents or inserts them otherwise, as a
// single unordered bulk write.
func (in *Inserter) UpsertStations(ctx context.Context, stations map[string]*schema.Station) (etl.UpsertReport, error) {
	models, skipped := buildModels(stations)
	report := etl.UpsertReport{Skipped: skipped}
	if skipped > 0 {
		log.Printf("%d records were skipped due to missing data.", skipped)
		metrics.StationCount.WithLabelValues("skipped").Add(float64(skipped))
	}
	if len(models) == 0 {
		return report, nil
	}

	ctx, cancel := context.WithTimeout(ctx, in.params.Timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(in.params.URI).
		SetWriteConcern(&writeconcern.WriteConcern{W: in.params.WriteConcern}))
	if err != nil {
		return report, err
	}
	defer client.Disconnect(ctx)

	start := time.Now()
	coll := client.Database(in.params.Database).Collection(in.params.Collection)
	res, err := coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	metrics.InsertionHistogram.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.BulkWriteCount.WithLabelValues("error").Inc()
		return report, err
	}
	metrics.BulkWriteCount.WithLabelValues("ok").Inc()
	report.Matched = res.MatchedCount
	report.Modified = res.ModifiedCount
	report.Upserted = res.UpsertedCount
	return report, nil
}

// buildModels translates a chunk into upsert models, counting the stations
// that carry no usable primary key.
func buildModels(stations map[string]*schema.Station) ([]mongo.WriteModel, int64) {
	models := make([]mongo.WriteModel, 0, len(stations))
	skipped := int64(0)
	for _, station := range stations {
		model, err := buildUpsert(station)
		if err != nil {
			skipped++
			continue
		}
		models = append(models, model)
	}
	return models, skipped
}

func buildUpsert(station *schema.Station) (*mongo.UpdateOneModel, error) {
	id, err := primaryKey(station)
	if err != nil {
		return nil, err
	}

	setOnInsert := bson.M{
		"elevation": station.Elevation,
		"latitude":  station.Latitude,
		"longitude": station.Longitude,
	}
	push := bson.M{}

	if station.Thermo.Len() > 0 {
		push["thermo_module.valid_datetime"] = bson.M{"$each": station.Thermo.ValidDatetime}
		push["thermo_module.temperature"] = bson.M{"$each": station.Thermo.Temperature}
		push["thermo_module.humidity"] = bson.M{"$each": station.Thermo.Humidity}
		push["thermo_module.pressure"] = bson.M{"$each": station.Thermo.Pressure}
	} else {
		setOnInsert["thermo_module"] = nil
	}

	if station.Hydro.Len() > 0 {
		push["hydro_module.time_day_rain"] = bson.M{"$each": station.Hydro.TimeDayRain}
		push["hydro_module.time_hour_rain"] = bson.M{"$each": station.Hydro.TimeHourRain}
		push["hydro_module.daily_rain_sum"] = bson.M{"$each": station.Hydro.DailyRainSum}
		push["hydro_module.hourly_rain_sum"] = bson.M{"$each": station.Hydro.HourlyRainSum}
	} else {
		setOnInsert["hydro_module"] = nil
	}

	update := bson.M{"$setOnInsert": setOnInsert}
	if len(push) > 0 {
		update["$push"] = push
	}

	return mongo.NewUpdateOneModel().
		SetFilter(bson.M{"_id": id}).
		SetUpdate(update).
		SetUpsert(true), nil
}

// primaryKey derives the document key from the first thermo timestamp,
// falling back to the first hourly-rain timestamp.
//
// Note that the key uses the calendar day of whatever timestamp happens to
// come first in the chunk, so data straddling midnight UTC may split
// across two documents depending on chunk boundaries.  Query-time sorting
// makes this harmless.
func primaryKey(station *schema.Station) (schema.DocID, error) {
	var first time.Time
	switch {
	case station.Thermo.Len() > 0:
		first = station.Thermo.ValidDatetime[0]
	case station.Hydro.Len() > 0:
		first = station.Hydro.TimeHourRain[0]
	default:
		return schema.DocID{}, errNoData
	}
	return schema.DocID{
		StationID: station.StationID,
		Date:      first.UTC().Format("20060102"),
	}, nil
}
