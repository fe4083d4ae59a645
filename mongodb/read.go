package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/weatherlab/netatmo-etl/schema"
)

// FindStation fetches all per-day documents for one station, ordered by
// day.
func (in *Inserter) FindStation(ctx context.Context, stationID string) ([]schema.StationDoc, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(in.params.URI))
	if err != nil {
		return nil, err
	}
	defer client.Disconnect(ctx)

	coll := client.Database(in.params.Database).Collection(in.params.Collection)
	cur, err := coll.Find(ctx,
		bson.M{"_id.station_id": stationID},
		options.Find().SetSort(bson.M{"_id.date": 1}))
	if err != nil {
		return nil, err
	}
	var docs []schema.StationDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// MergeDocs folds the per-day documents of one station back into a single
// Station by concatenating the module columns in document order.
func MergeDocs(docs []schema.StationDoc) *schema.Station {
	if len(docs) == 0 {
		return nil
	}
	station := schema.NewStation(docs[0].ID.StationID, docs[0].Latitude, docs[0].Longitude)
	station.Elevation = docs[0].Elevation
	for i := range docs {
		if t := docs[i].Thermo; t != nil {
			station.Thermo.ValidDatetime = append(station.Thermo.ValidDatetime, t.ValidDatetime...)
			station.Thermo.Temperature = append(station.Thermo.Temperature, t.Temperature...)
			station.Thermo.Humidity = append(station.Thermo.Humidity, t.Humidity...)
			station.Thermo.Pressure = append(station.Thermo.Pressure, t.Pressure...)
		}
		if h := docs[i].Hydro; h != nil {
			station.Hydro.TimeDayRain = append(station.Hydro.TimeDayRain, h.TimeDayRain...)
			station.Hydro.TimeHourRain = append(station.Hydro.TimeHourRain, h.TimeHourRain...)
			station.Hydro.DailyRainSum = append(station.Hydro.DailyRainSum, h.DailyRainSum...)
			station.Hydro.HourlyRainSum = append(station.Hydro.HourlyRainSum, h.HourlyRainSum...)
		}
	}
	return station
}
