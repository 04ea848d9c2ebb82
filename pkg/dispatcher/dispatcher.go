// Package dispatcher maps decoded records back to the sensors that
// subscribed to their request.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/NotCoffee418/iec_meter_reader/pkg/iec"
	"github.com/NotCoffee418/iec_meter_reader/pkg/registry"
	"github.com/NotCoffee418/iec_meter_reader/pkg/types"
	"github.com/rs/zerolog/log"
)

var ErrNotNumeric = errors.New("dispatcher: value is not a number")

// SubscriberError is a failure scoped to a single endpoint.
type SubscriberError struct {
	Endpoint registry.Endpoint
	Err      error
}

func (e SubscriberError) Error() string {
	return fmt.Sprintf("sensor %q: %v", e.Endpoint.Name, e.Err)
}

func (e SubscriberError) Unwrap() error { return e.Err }

// Result summarizes one dispatch.
type Result struct {
	Published int
	Failed    []SubscriberError
}

type Dispatcher struct {
	registry *registry.Registry
	sink     Sink
	now      func() time.Time
}

func New(reg *registry.Registry, sink Sink) *Dispatcher {
	if sink == nil {
		sink = Discard{}
	}
	return &Dispatcher{registry: reg, sink: sink, now: time.Now}
}

// Dispatch extracts each subscriber's field from rec and publishes it.
// Missing fields and unparsable numbers only skip that subscriber.
func (d *Dispatcher) Dispatch(ctx context.Context, cycleID string, req registry.Request, rec iec.Record) Result {
	var res Result
	now := d.now()
	for _, sub := range d.registry.Subscribers(req) {
		if err := d.publish(ctx, cycleID, now, req, sub, rec); err != nil {
			res.Failed = append(res.Failed, SubscriberError{Endpoint: sub.Endpoint, Err: err})
			log.Warn().Err(err).
				Str("meter", sub.Endpoint.Meter).
				Str("sensor", sub.Endpoint.Name).
				Str("request", req.String()).
				Str("selector", sub.Selector.String()).
				Msg("No value for sensor this cycle")
			continue
		}
		res.Published++
	}
	return res
}

func (d *Dispatcher) publish(ctx context.Context, cycleID string, now time.Time, req registry.Request, sub registry.Subscriber, rec iec.Record) error {
	raw, err := rec.Field(sub.Selector.Index, sub.Selector.SubIndex)
	if err != nil {
		return err
	}

	reading := types.SensorReading{
		Timestamp: now,
		Meter:     sub.Endpoint.Meter,
		Sensor:    sub.Endpoint.Name,
		Request:   req.String(),
		Unit:      sub.Endpoint.Unit,
		CycleID:   cycleID,
		Text:      raw,
	}

	if sub.Endpoint.Kind == registry.Text {
		reading.Kind = types.KindText
		log.Debug().Str("sensor", reading.Sensor).Str("value", raw).Msg("Publishing text value")
		return d.sink.PublishText(ctx, reading)
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrNotNumeric, raw)
	}
	reading.Kind = types.KindNumeric
	reading.Value = &v
	log.Debug().Str("sensor", reading.Sensor).Float64("value", v).Msg("Publishing numeric value")
	return d.sink.PublishNumeric(ctx, reading)
}
