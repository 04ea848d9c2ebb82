package meterdb

import "database/sql"

type SensorReadingRow struct {
	ID        int64           `db:"id"`
	Timestamp int64           `db:"timestamp"`
	Meter     string          `db:"meter"`
	Sensor    string          `db:"sensor"`
	Request   string          `db:"request"`
	Unit      string          `db:"unit"`
	Value     sql.NullFloat64 `db:"value"`
	TextValue string          `db:"text_value"`
	CycleID   string          `db:"cycle_id"`
}

type SessionEventRow struct {
	Timestamp int64  `db:"timestamp"`
	Meter     string `db:"meter"`
	Active    bool   `db:"active"`
}

// AggregateSensorRow is one hourly or daily aggregate. Start is the hour
// or day start.
type AggregateSensorRow struct {
	Start       int64   `db:"start"`
	Meter       string  `db:"meter"`
	Sensor      string  `db:"sensor"`
	AvgValue    float64 `db:"avg_value"`
	MinValue    float64 `db:"min_value"`
	MaxValue    float64 `db:"max_value"`
	SampleCount uint32  `db:"sample_count"`
}

type AggregateSensorHourly = AggregateSensorRow
type AggregateSensorDaily = AggregateSensorRow
