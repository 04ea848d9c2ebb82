package dispatcher

import (
	"context"
	"sync"

	"github.com/NotCoffee418/iec_meter_reader/pkg/types"
)

// Recorder is an in-memory sink keeping every reading and indicator
// change in arrival order.
type Recorder struct {
	mu         sync.Mutex
	readings   []types.SensorReading
	indicators []types.IndicatorState
}

func (r *Recorder) PublishNumeric(_ context.Context, reading types.SensorReading) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readings = append(r.readings, reading)
	return nil
}

func (r *Recorder) PublishText(_ context.Context, reading types.SensorReading) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readings = append(r.readings, reading)
	return nil
}

func (r *Recorder) SetIndicator(_ context.Context, s types.IndicatorState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indicators = append(r.indicators, s)
	return nil
}

func (r *Recorder) Readings() []types.SensorReading {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.SensorReading(nil), r.readings...)
}

func (r *Recorder) Indicators() []types.IndicatorState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.IndicatorState(nil), r.indicators...)
}

// Latest returns the most recent reading per sensor name.
func (r *Recorder) Latest() map[string]types.SensorReading {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]types.SensorReading, len(r.readings))
	for _, reading := range r.readings {
		out[reading.Sensor] = reading
	}
	return out
}
