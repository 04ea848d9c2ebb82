package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NotCoffee418/iec_meter_reader/pkg/broadcast"
	"github.com/NotCoffee418/iec_meter_reader/pkg/config"
	"github.com/NotCoffee418/iec_meter_reader/pkg/dispatcher"
	"github.com/NotCoffee418/iec_meter_reader/pkg/meterdb"
	"github.com/NotCoffee418/iec_meter_reader/pkg/mqttsink"
	"github.com/NotCoffee418/iec_meter_reader/pkg/reboot"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var dryRunReboot bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Polls all configured meters and serves the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, dryRunReboot)
		},
	}
	cmd.Flags().BoolVar(&dryRunReboot, "dry-run-reboot", false, "log instead of running reboot_command")
	return cmd
}

func run(ctx context.Context, cfg *config.ReaderConfig, dryRunReboot bool) error {
	hub := broadcast.NewHub()
	sinks := dispatcher.MultiSink{hub}

	if cfg.MQTT.Enabled {
		mq, err := mqttsink.Connect(cfg.MQTT)
		if err != nil {
			return err
		}
		defer mq.Close()
		sinks = append(sinks, mq)
	}
	if cfg.Database.Enabled {
		store, err := meterdb.Open(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer store.Close()
		sinks = append(sinks, store)
	}

	var rebooter reboot.Rebooter = reboot.FromCommand(cfg.RebootCommand)
	if dryRunReboot {
		rebooter = reboot.LogRebooter{}
	}

	f, err := buildFleet(cfg.Meters, cfg.BootDelay.Duration, sinks, rebooter)
	if err != nil {
		return err
	}
	defer f.Close()

	meters := make([]broadcast.Meter, 0, len(f.engines))
	for _, e := range f.engines {
		meters = append(meters, e)
	}
	listener := fmt.Sprintf("%s:%d", cfg.ListenAddress, cfg.ListenPort)
	srv := &http.Server{
		Addr:              listener,
		Handler:           broadcast.NewServer(hub, meters...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range f.engines {
		g.Go(func() error {
			err := e.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	g.Go(func() error {
		log.Info().Str("listen", listener).Int("meters", len(f.engines)).Msg("Starting IEC Meter Reader API")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Info().Msg("meter_reader stopped")
	return err
}
