package aggregator

type Timeframe uint8

const (
	Hourly Timeframe = iota
	Daily
)

func (t Timeframe) String() string {
	if t == Daily {
		return "daily"
	}
	return "hourly"
}

func (t Timeframe) table() string {
	if t == Daily {
		return "aggregate_sensor_daily"
	}
	return "aggregate_sensor_hourly"
}

func (t Timeframe) startColumn() string {
	if t == Daily {
		return "day_start"
	}
	return "hour_start"
}

func (t Timeframe) end(start int64) int64 {
	if t == Daily {
		return getDayEnd(start)
	}
	return getHourEnd(start)
}
