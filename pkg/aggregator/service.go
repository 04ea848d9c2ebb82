package aggregator

import (
	"context"
	"time"

	"github.com/NotCoffee418/iec_meter_reader/pkg/meterdb"
	"github.com/rs/zerolog/log"
)

// DefaultRetention keeps three months of raw readings.
const DefaultRetention = 90 * 24 * time.Hour

// roundToHourStart returns the Unix timestamp of the start of the hour for the given time
func roundToHourStart(t time.Time) int64 {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC).Unix()
}

// roundToDayStart returns the Unix timestamp of the start of the day for the given time
func roundToDayStart(t time.Time) int64 {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Unix()
}

// getHourEnd returns the Unix timestamp of the last second of the hour
func getHourEnd(hourStart int64) int64 {
	return hourStart + int64(time.Hour/time.Second) - 1
}

// getDayEnd returns the Unix timestamp of the last second of the day
func getDayEnd(dayStart int64) int64 {
	return time.Unix(dayStart, 0).UTC().AddDate(0, 0, 1).Unix() - 1
}

type Aggregator struct {
	store     *meterdb.Store
	retention time.Duration
	now       func() time.Time
}

func New(store *meterdb.Store, retention time.Duration) *Aggregator {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Aggregator{store: store, retention: retention, now: time.Now}
}

// aggregate computes avg/min/max per numeric sensor over the timeframe
// starting at from.
func (a *Aggregator) aggregate(ctx context.Context, tf Timeframe, from int64) (int64, error) {
	to := tf.end(from)
	res, err := a.store.DB().ExecContext(ctx, `
		INSERT OR REPLACE INTO `+tf.table()+`
		(`+tf.startColumn()+`, meter, sensor, avg_value, min_value, max_value, sample_count)
		SELECT ?, meter, sensor, AVG(value), MIN(value), MAX(value), COUNT(*)
		FROM sensor_readings
		WHERE value IS NOT NULL AND timestamp >= ? AND timestamp <= ?
		GROUP BY meter, sensor
	`, from, from, to)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// AggregateHour aggregates the hour starting at hourStart.
func (a *Aggregator) AggregateHour(ctx context.Context, hourStart int64) error {
	n, err := a.aggregate(ctx, Hourly, hourStart)
	if err == nil && n > 0 {
		log.Debug().Int64("sensors", n).Stringer("timeframe", Hourly).Time("start", time.Unix(hourStart, 0).UTC()).Msg("Aggregated readings")
	}
	return err
}

func (a *Aggregator) AggregateDay(ctx context.Context, dayStart int64) error {
	n, err := a.aggregate(ctx, Daily, dayStart)
	if err == nil && n > 0 {
		log.Debug().Int64("sensors", n).Stringer("timeframe", Daily).Time("start", time.Unix(dayStart, 0).UTC()).Msg("Aggregated readings")
	}
	return err
}

// cleanupOldData removes raw readings older than the retention, but only
// once the hourly aggregates have reached the cutoff.
func (a *Aggregator) cleanupOldData(ctx context.Context, now time.Time) error {
	db := a.store.DB()
	cutoff := now.Add(-a.retention).Unix()

	var lastAggregateHour *int64
	if err := db.QueryRowContext(ctx, "SELECT MAX(hour_start) FROM aggregate_sensor_hourly").Scan(&lastAggregateHour); err != nil {
		return err
	}
	if lastAggregateHour == nil || *lastAggregateHour < cutoff {
		return nil
	}

	res, err := db.ExecContext(ctx, "DELETE FROM sensor_readings WHERE timestamp < ?", cutoff)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM session_events WHERE timestamp < ?", cutoff); err != nil {
		return err
	}
	removed, _ := res.RowsAffected()
	log.Info().Int64("readings", removed).Time("cutoff", time.Unix(cutoff, 0).UTC()).Msg("Cleaned up old data")
	return nil
}

// AggregateAndCleanup aggregates the previous hour, the previous day right
// after midnight, and prunes raw data past the retention.
func (a *Aggregator) AggregateAndCleanup(ctx context.Context) error {
	now := a.now().UTC()

	// The current hour is still ongoing.
	hourStart := roundToHourStart(now.Add(-time.Hour))
	if err := a.AggregateHour(ctx, hourStart); err != nil {
		log.Error().Err(err).Msg("Error aggregating hourly readings")
		return err
	}

	if now.Hour() == 0 {
		dayStart := roundToDayStart(now.AddDate(0, 0, -1))
		if err := a.AggregateDay(ctx, dayStart); err != nil {
			log.Error().Err(err).Msg("Error aggregating daily readings")
			return err
		}
	}

	if err := a.cleanupOldData(ctx, now); err != nil {
		log.Error().Err(err).Msg("Error cleaning up old data")
		return err
	}
	return nil
}

// Run aggregates shortly after every full hour until ctx is done.
func (a *Aggregator) Run(ctx context.Context) error {
	for {
		now := a.now()
		next := time.Unix(roundToHourStart(now), 0).Add(time.Hour + time.Minute)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if err := a.AggregateAndCleanup(ctx); err != nil {
			log.Warn().Err(err).Msg("Aggregation failed, retrying next hour")
		}
	}
}
