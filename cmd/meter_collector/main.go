// meter_collector stores the values broadcast by meter_reader in SQLite
// and aggregates them hourly. Depends on meter_reader being online.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/NotCoffee418/iec_meter_reader/pkg/aggregator"
	"github.com/NotCoffee418/iec_meter_reader/pkg/config"
	"github.com/NotCoffee418/iec_meter_reader/pkg/interpreter"
	"github.com/NotCoffee418/iec_meter_reader/pkg/meterdb"
	"github.com/NotCoffee418/iec_meter_reader/pkg/observability"
	"github.com/NotCoffee418/iec_meter_reader/pkg/pathing"
	"github.com/NotCoffee418/iec_meter_reader/pkg/types"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	observability.InitLogger("meter_collector")

	if err := pathing.EnsureDirs(); err != nil {
		log.Fatal().Err(err).Msg("Failed to create directories")
	}
	if err := config.LoadCollectorConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load meter collector config")
	}
	cfg := config.ActiveCollectorConfig

	// READER_HOST overrides the configured host:port
	if host := os.Getenv("READER_HOST"); host != "" {
		cfg.ReaderHost = host
	}

	store, err := meterdb.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DatabasePath).Msg("Failed to open database")
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	listener := interpreter.NewListener(cfg.ReaderHost, cfg.TLSEnabled, func(msg *types.Message) {
		handleMessage(ctx, store, msg)
	})
	agg := aggregator.New(store, cfg.Retention.Duration)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return listener.Run(gctx) })
	g.Go(func() error { return agg.Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("meter_collector stopped")
		return
	}
	log.Info().Msg("meter_collector stopped")
}

// handleMessage stores one broadcast message.
func handleMessage(ctx context.Context, store *meterdb.Store, msg *types.Message) {
	var err error
	switch {
	case msg.Type == types.MessageReading && msg.Reading != nil:
		err = store.InsertSensorReading(ctx, *msg.Reading)
	case msg.Type == types.MessageIndicator && msg.Indicator != nil:
		err = store.InsertSessionEvent(ctx, *msg.Indicator)
	default:
		log.Debug().Str("type", msg.Type).Msg("Ignoring message")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("type", msg.Type).Msg("Failed to store message")
	}
}
