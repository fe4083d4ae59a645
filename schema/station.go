// Package schema defines the station model and the document layout
// persisted to the stations collection.
package schema

import (
	"time"
)

// ThermoModule is a column-oriented bundle of thermo observations.  The
// four slices are always the same length; entries at the same index belong
// to the same observation.
type ThermoModule struct {
	ValidDatetime []time.Time `bson:"valid_datetime" json:"valid_datetime"`
	Temperature   []float64   `bson:"temperature" json:"temperature"`
	Humidity      []float64   `bson:"humidity" json:"humidity"`
	Pressure      []float64   `bson:"pressure" json:"pressure"`
}

// Append adds one observation, keeping the columns aligned.  Missing
// scalars should be passed as NaN.
func (m *ThermoModule) Append(valid time.Time, temperature, humidity, pressure float64) {
	m.ValidDatetime = append(m.ValidDatetime, valid)
	m.Temperature = append(m.Temperature, temperature)
	m.Humidity = append(m.Humidity, humidity)
	m.Pressure = append(m.Pressure, pressure)
}

// Len returns the number of observations in the bundle.
func (m *ThermoModule) Len() int {
	if m == nil {
		return 0
	}
	return len(m.ValidDatetime)
}

// LastValid returns the most recent valid_datetime, used for duplicate
// suppression within a single archive.
func (m *ThermoModule) LastValid() (time.Time, bool) {
	if m.Len() == 0 {
		return time.Time{}, false
	}
	return m.ValidDatetime[len(m.ValidDatetime)-1], true
}

// HydroModule is the rain counterpart of ThermoModule, with the same
// equal-length discipline.
type HydroModule struct {
	TimeDayRain   []time.Time `bson:"time_day_rain" json:"time_day_rain"`
	TimeHourRain  []time.Time `bson:"time_hour_rain" json:"time_hour_rain"`
	DailyRainSum  []float64   `bson:"daily_rain_sum" json:"daily_rain_sum"`
	HourlyRainSum []float64   `bson:"hourly_rain_sum" json:"hourly_rain_sum"`
}

// Append adds one observation, keeping the columns aligned.
func (m *HydroModule) Append(dayRain, hourRain time.Time, dailySum, hourlySum float64) {
	m.TimeDayRain = append(m.TimeDayRain, dayRain)
	m.TimeHourRain = append(m.TimeHourRain, hourRain)
	m.DailyRainSum = append(m.DailyRainSum, dailySum)
	m.HourlyRainSum = append(m.HourlyRainSum, hourlySum)
}

// Len returns the number of observations in the bundle.
func (m *HydroModule) Len() int {
	if m == nil {
		return 0
	}
	return len(m.TimeHourRain)
}

// Station is one weather station observed in an archive.  A Station value
// lives inside a single file worker's output chunk; the DB stage turns it
// into an upsert and discards it.
type Station struct {
	StationID string   `bson:"station_id" json:"station_id"`
	Latitude  float64  `bson:"latitude" json:"latitude"`
	Longitude float64  `bson:"longitude" json:"longitude"`
	Elevation *float64 `bson:"elevation" json:"elevation"`

	Thermo *ThermoModule `bson:"thermo_module" json:"thermo_module"`
	Hydro  *HydroModule  `bson:"hydro_module" json:"hydro_module"`
}

// NewStation returns a Station with empty modules attached.
func NewStation(id string, lat, lon float64) *Station {
	return &Station{
		StationID: id,
		Latitude:  lat,
		Longitude: lon,
		Thermo:    &ThermoModule{},
		Hydro:     &HydroModule{},
	}
}

// DocID is the primary key of a persisted station document.
type DocID struct {
	StationID string `bson:"station_id" json:"station_id"`
	// Date is the calendar day YYYYMMDD, in UTC.
	Date string `bson:"date" json:"date"`
}

// StationDoc is the persisted form of a Station, one document per station
// per calendar day.  Module pointers are nil when the day carried no data
// for that module.
type StationDoc struct {
	ID        DocID         `bson:"_id" json:"_id"`
	Elevation *float64      `bson:"elevation" json:"elevation"`
	Latitude  float64       `bson:"latitude" json:"latitude"`
	Longitude float64       `bson:"longitude" json:"longitude"`
	Thermo    *ThermoModule `bson:"thermo_module" json:"thermo_module"`
	Hydro     *HydroModule  `bson:"hydro_module" json:"hydro_module"`
}
