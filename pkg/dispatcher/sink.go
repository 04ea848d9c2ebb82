package dispatcher

import (
	"context"
	"errors"

	"github.com/NotCoffee418/iec_meter_reader/pkg/types"
)

// Sink is the publication capability the engine writes to. Implementations
// live outside the protocol core.
type Sink interface {
	PublishNumeric(ctx context.Context, r types.SensorReading) error
	PublishText(ctx context.Context, r types.SensorReading) error
	SetIndicator(ctx context.Context, s types.IndicatorState) error
}

// MultiSink fans out to every sink; one failing sink does not stop the
// others.
type MultiSink []Sink

func (m MultiSink) PublishNumeric(ctx context.Context, r types.SensorReading) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.PublishNumeric(ctx, r))
	}
	return errors.Join(errs...)
}

func (m MultiSink) PublishText(ctx context.Context, r types.SensorReading) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.PublishText(ctx, r))
	}
	return errors.Join(errs...)
}

func (m MultiSink) SetIndicator(ctx context.Context, st types.IndicatorState) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.SetIndicator(ctx, st))
	}
	return errors.Join(errs...)
}

// Discard drops everything.
type Discard struct{}

func (Discard) PublishNumeric(context.Context, types.SensorReading) error { return nil }
func (Discard) PublishText(context.Context, types.SensorReading) error    { return nil }
func (Discard) SetIndicator(context.Context, types.IndicatorState) error  { return nil }
