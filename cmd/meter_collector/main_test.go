package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/NotCoffee418/iec_meter_reader/pkg/meterdb"
	"github.com/NotCoffee418/iec_meter_reader/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleMessageStoresReadingsAndIndicator(t *testing.T) {
	store, err := meterdb.Open(filepath.Join(t.TempDir(), "collector.db"))
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	ts := time.Unix(1_760_000_000, 0)
	v := 50.01
	handleMessage(ctx, store, types.NewReadingMessage(types.SensorReading{Timestamp: ts, Meter: "m", Sensor: "frequency", Value: &v}))
	handleMessage(ctx, store, types.NewIndicatorMessage(types.IndicatorState{Timestamp: ts, Meter: "m", Active: true}))
	handleMessage(ctx, store, &types.Message{Type: "unknown"})

	rows, err := store.ReadingsBetween(ctx, "m", "frequency", ts.Unix(), ts.Unix())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 50.01, rows[0].Value.Float64)

	events, err := store.SessionEvents(ctx, "m")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
