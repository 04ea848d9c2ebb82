package mqttsink

import (
	"context"
	"errors"
	"testing"

	"github.com/NotCoffee418/iec_meter_reader/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type message struct {
	topic    string
	qos      byte
	retained bool
	payload  string
}

func recorder() (*[]message, publishFunc) {
	var got []message
	return &got, func(topic string, qos byte, retained bool, payload []byte) error {
		got = append(got, message{topic, qos, retained, string(payload)})
		return nil
	}
}

func TestPublishTopicsAndPayloads(t *testing.T) {
	got, pub := recorder()
	s := newSink("home/meters", 1, true, pub)
	ctx := context.Background()

	v := 230.1
	require.NoError(t, s.PublishNumeric(ctx, types.SensorReading{Meter: "ce102", Sensor: "voltage", Value: &v}))
	require.NoError(t, s.PublishText(ctx, types.SensorReading{Meter: "ce102", Sensor: "date", Text: "3.19.10.26"}))
	require.NoError(t, s.SetIndicator(ctx, types.IndicatorState{Meter: "ce102", Active: true}))
	require.NoError(t, s.SetIndicator(ctx, types.IndicatorState{Meter: "ce102", Active: false}))

	assert.Equal(t, []message{
		{"home/meters/ce102/voltage", 1, true, "230.1"},
		{"home/meters/ce102/date", 1, true, "3.19.10.26"},
		{"home/meters/ce102/indicator", 1, true, "ON"},
		{"home/meters/ce102/indicator", 1, true, "OFF"},
	}, *got)
}

func TestPublishNumericWithoutValue(t *testing.T) {
	_, pub := recorder()
	s := newSink("p", 0, false, pub)
	assert.Error(t, s.PublishNumeric(context.Background(), types.SensorReading{Sensor: "x"}))
}

func TestPublishErrorIsReturned(t *testing.T) {
	boom := errors.New("broker down")
	s := newSink("p", 0, false, func(string, byte, bool, []byte) error { return boom })
	err := s.SetIndicator(context.Background(), types.IndicatorState{Meter: "m"})
	assert.ErrorIs(t, err, boom)
}

func TestCloseWithoutClient(t *testing.T) {
	got, pub := recorder()
	newSink("p", 0, false, pub).Close()
	assert.Empty(t, *got)
}
