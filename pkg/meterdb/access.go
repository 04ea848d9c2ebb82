package meterdb

import (
	"context"
	"database/sql"

	"github.com/NotCoffee418/iec_meter_reader/pkg/types"
)

func (s *Store) InsertSensorReading(ctx context.Context, r types.SensorReading) error {
	var value sql.NullFloat64
	if r.Value != nil {
		value = sql.NullFloat64{Float64: *r.Value, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO sensor_readings "+
			"(timestamp, meter, sensor, request, unit, value, text_value, cycle_id) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		r.Timestamp.Unix(),
		r.Meter,
		r.Sensor,
		r.Request,
		r.Unit,
		value,
		r.Text,
		r.CycleID,
	)
	return err
}

func (s *Store) InsertSessionEvent(ctx context.Context, st types.IndicatorState) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO session_events (timestamp, meter, active) VALUES (?, ?, ?)",
		st.Timestamp.Unix(),
		st.Meter,
		st.Active,
	)
	return err
}

// ReadingsBetween returns the readings of one sensor with from <= timestamp
// <= to, oldest first.
func (s *Store) ReadingsBetween(ctx context.Context, meter, sensor string, from, to int64) ([]SensorReadingRow, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, timestamp, meter, sensor, request, unit, value, text_value, cycle_id "+
			"FROM sensor_readings WHERE meter = ? AND sensor = ? AND timestamp >= ? AND timestamp <= ? "+
			"ORDER BY timestamp, id",
		meter, sensor, from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SensorReadingRow
	for rows.Next() {
		var r SensorReadingRow
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.Meter, &r.Sensor, &r.Request, &r.Unit, &r.Value, &r.TextValue, &r.CycleID); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) SessionEvents(ctx context.Context, meter string) ([]SessionEventRow, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT timestamp, meter, active FROM session_events WHERE meter = ? ORDER BY rowid",
		meter,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionEventRow
	for rows.Next() {
		var r SessionEventRow
		if err := rows.Scan(&r.Timestamp, &r.Meter, &r.Active); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) HourlyAggregates(ctx context.Context, meter, sensor string) ([]AggregateSensorHourly, error) {
	return s.aggregates(ctx,
		"SELECT hour_start, meter, sensor, avg_value, min_value, max_value, sample_count "+
			"FROM aggregate_sensor_hourly WHERE meter = ? AND sensor = ? ORDER BY hour_start",
		meter, sensor)
}

func (s *Store) DailyAggregates(ctx context.Context, meter, sensor string) ([]AggregateSensorDaily, error) {
	return s.aggregates(ctx,
		"SELECT day_start, meter, sensor, avg_value, min_value, max_value, sample_count "+
			"FROM aggregate_sensor_daily WHERE meter = ? AND sensor = ? ORDER BY day_start",
		meter, sensor)
}

func (s *Store) aggregates(ctx context.Context, query string, args ...any) ([]AggregateSensorRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AggregateSensorRow
	for rows.Next() {
		var r AggregateSensorRow
		if err := rows.Scan(&r.Start, &r.Meter, &r.Sensor, &r.AvgValue, &r.MinValue, &r.MaxValue, &r.SampleCount); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
