// Package parser decodes netatmo archive files into per-station
// observation series.
package parser

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"math"
	"time"

	"github.com/m-lab/go/logx"

	"github.com/weatherlab/netatmo-etl/etl"
	"github.com/weatherlab/netatmo-etl/schema"
)

// Stats holds the per-archive counters emitted at debug level.
type Stats struct {
	StationsInFile      int
	StationsOutOfRegion int
	NewStations         int
	StationCount        int
	ThermoContributions int
	HydroContributions  int
}

// LogDebug writes the counters for one archive to the debug log.
func (s Stats) LogDebug(key string) {
	logx.Debug.Printf("%s: stations in file:    %d", key, s.StationsInFile)
	logx.Debug.Printf("%s: out of region:       %d", key, s.StationsOutOfRegion)
	logx.Debug.Printf("%s: ignored:             %d", key,
		s.StationsInFile-s.StationsOutOfRegion-s.ThermoContributions)
	logx.Debug.Printf("%s: new stations:        %d", key, s.NewStations)
	logx.Debug.Printf("%s: thermo measurements: %d", key, s.ThermoContributions)
	logx.Debug.Printf("%s: hydro measurements:  %d", key, s.HydroContributions)
	logx.Debug.Printf("%s: total stations:      %d", key, s.StationCount)
}

// Record is one raw observation from an archive file.  The three exported
// fields are mandatory; records missing any of them are dropped during
// parsing.
type Record struct {
	// Location is [lon, lat].
	Location []float64   `json:"location"`
	ID       string      `json:"_id"`
	Data     *ModuleData `json:"data"`
}

// ModuleData carries the optional per-module scalar fields of a record.
// Pointers distinguish absent fields from zero values.
type ModuleData struct {
	TimeUTC     *int64   `json:"time_utc"`
	Temperature *float64 `json:"Temperature"`
	Humidity    *float64 `json:"Humidity"`
	Pressure    *float64 `json:"Pressure"`

	TimeDayRain  *int64   `json:"time_day_rain"`
	TimeHourRain *int64   `json:"time_hour_rain"`
	Rain         *float64 `json:"Rain"`
	SumRain1     *float64 `json:"sum_rain_1"`
}

// Decode gunzips and JSON-decodes one archive body.  A failure at this
// level means the whole archive is unusable.
func Decode(key string, data []byte) ([]Record, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, etl.DecodeError{Key: key, Err: err}
	}
	defer gz.Close()
	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, etl.DecodeError{Key: key, Err: err}
	}
	var records []Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, etl.DecodeError{Key: key, Err: err}
	}
	return records, nil
}

// ParseStations folds the records of a single archive into dataMap,
// filtered by region (nil means worldwide).  Existing stations in dataMap
// are extended, so the same map may be reused across archives by the query
// path.
func ParseStations(records []Record, region *etl.Region, dataMap map[string]*schema.Station) Stats {
	stats := Stats{StationsInFile: len(records)}

	for i := range records {
		r := &records[i]
		// Data sanitization.
		if len(r.Location) != 2 || r.ID == "" || r.Data == nil {
			continue
		}
		lon, lat := r.Location[0], r.Location[1]

		if region != nil && !region.Contains(lat, lon) {
			stats.StationsOutOfRegion++
			continue
		}

		station, ok := dataMap[r.ID]
		if !ok {
			station = schema.NewStation(r.ID, lat, lon)
			dataMap[r.ID] = station
			stats.NewStations++
		}

		if parseThermo(r.Data, station) {
			stats.ThermoContributions++
		}
		if parseHydro(r.Data, station) {
			stats.HydroContributions++
		}
	}

	stats.StationCount = len(dataMap)
	return stats
}

// DecodeAndParse combines Decode and ParseStations for a fresh station map.
func DecodeAndParse(key string, data []byte, region *etl.Region) (map[string]*schema.Station, Stats, error) {
	records, err := Decode(key, data)
	if err != nil {
		return nil, Stats{}, err
	}
	dataMap := make(map[string]*schema.Station)
	stats := ParseStations(records, region, dataMap)
	return dataMap, stats, nil
}

// parseThermo appends one thermo observation, unless the record carries no
// base module timestamp, or repeats the station's last valid_datetime.
func parseThermo(data *ModuleData, station *schema.Station) bool {
	if data.TimeUTC == nil {
		return false
	}
	valid := time.Unix(*data.TimeUTC, 0).UTC()
	if last, ok := station.Thermo.LastValid(); ok && last.Equal(valid) {
		// Duplicate measurement.
		return false
	}
	station.Thermo.Append(valid,
		valueOrNaN(data.Temperature),
		valueOrNaN(data.Humidity),
		valueOrNaN(data.Pressure))
	return true
}

// parseHydro appends one rain observation.  Both rain timestamps are
// required.
func parseHydro(data *ModuleData, station *schema.Station) bool {
	if data.TimeDayRain == nil || data.TimeHourRain == nil {
		return false
	}
	station.Hydro.Append(
		time.Unix(*data.TimeDayRain, 0).UTC(),
		time.Unix(*data.TimeHourRain, 0).UTC(),
		valueOrNaN(data.Rain),
		valueOrNaN(data.SumRain1))
	return true
}

func valueOrNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}
