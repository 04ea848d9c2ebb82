package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/NotCoffee418/iec_meter_reader/pkg/config"
	"github.com/NotCoffee418/iec_meter_reader/pkg/dispatcher"
	"github.com/NotCoffee418/iec_meter_reader/pkg/observability"
	"github.com/NotCoffee418/iec_meter_reader/pkg/reboot"
	"github.com/NotCoffee418/iec_meter_reader/pkg/session"
	"github.com/NotCoffee418/iec_meter_reader/pkg/transport"
	"github.com/rs/zerolog/log"
)

// fleet is the set of engines plus the ports they share.
type fleet struct {
	engines []*session.Engine
	ports   map[string]transport.Transport
}

// openPort returns the transport for the meter's device, opening it once
// for all meters on that line.
func (f *fleet) openPort(m config.MeterConfig) (transport.Transport, error) {
	if t, ok := f.ports[m.Device]; ok {
		return t, nil
	}
	t, err := transport.Open(m.TransportOptions())
	if err != nil {
		return nil, fmt.Errorf("meter %q: %w", m.Name, err)
	}
	f.ports[m.Device] = t
	log.Info().Str("device", m.Device).Str("driver", m.TransportOptions().Driver).Msg("Serial port opened")
	return t, nil
}

func (f *fleet) Close() error {
	var errs []error
	for dev, t := range f.ports {
		if err := t.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", dev, err))
		}
	}
	return errors.Join(errs...)
}

func buildFleet(meters []config.MeterConfig, bootDelay time.Duration, sink dispatcher.Sink, rebooter reboot.Rebooter) (*fleet, error) {
	f := &fleet{ports: make(map[string]transport.Transport)}
	bus := session.NewBusLock()
	metrics := observability.NewMeterMetrics()

	for _, m := range meters {
		reg, err := m.Registry()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("meter %q: %w", m.Name, err)
		}
		codec, err := m.Codec()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("meter %q: %w", m.Name, err)
		}
		port, err := f.openPort(m)
		if err != nil {
			f.Close()
			return nil, err
		}
		e, err := session.New(m.SessionConfig(bootDelay), port, reg,
			session.WithSink(sink),
			session.WithRebooter(rebooter),
			session.WithBusLock(bus),
			session.WithMetrics(metrics),
			session.WithCodec(codec),
		)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("meter %q: %w", m.Name, err)
		}
		f.engines = append(f.engines, e)
	}
	return f, nil
}
