package meterdb

import (
	"context"

	"github.com/NotCoffee418/iec_meter_reader/pkg/types"
)

// The store doubles as a dispatcher sink.

func (s *Store) PublishNumeric(ctx context.Context, r types.SensorReading) error {
	return s.InsertSensorReading(ctx, r)
}

func (s *Store) PublishText(ctx context.Context, r types.SensorReading) error {
	return s.InsertSensorReading(ctx, r)
}

func (s *Store) SetIndicator(ctx context.Context, st types.IndicatorState) error {
	return s.InsertSessionEvent(ctx, st)
}
