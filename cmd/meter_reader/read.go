package main

import (
	"encoding/json"
	"fmt"

	"github.com/NotCoffee418/iec_meter_reader/pkg/config"
	"github.com/NotCoffee418/iec_meter_reader/pkg/dispatcher"
	"github.com/NotCoffee418/iec_meter_reader/pkg/reboot"
	"github.com/spf13/cobra"
)

func newReadCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "read <meter> [request]",
		Short: "Runs one poll cycle, or a single read when a request is given",
		Example: `  meter_reader read ce102
  meter_reader read ce102 VOLTA()`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			m, err := findMeter(cfg, args[0])
			if err != nil {
				return err
			}

			rec := &dispatcher.Recorder{}
			f, err := buildFleet([]config.MeterConfig{m}, 0, rec, reboot.LogRebooter{})
			if err != nil {
				return err
			}
			defer f.Close()
			e := f.engines[0]
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			if len(args) == 2 {
				reply, err := e.QueueSingleRead(args[1])
				if err != nil {
					return err
				}
				if err := e.ServeSingleReads(cmd.Context()); err != nil {
					return err
				}
				res := <-reply
				if res.Err != nil {
					return res.Err
				}
				return enc.Encode(map[string]any{
					"request":  res.Request,
					"accepted": res.Accepted,
					"data":     res.Record.Raw,
					"fields":   res.Record.Fields,
				})
			}

			out, err := e.Poll(cmd.Context())
			if err != nil {
				return err
			}
			if out.Err != nil {
				return fmt.Errorf("cycle failed in %s: %w", out.FailedIn, out.Err)
			}
			return enc.Encode(rec.Readings())
		},
	}
}

func findMeter(cfg *config.ReaderConfig, name string) (config.MeterConfig, error) {
	for _, m := range cfg.Meters {
		if m.Name == name {
			return m, nil
		}
	}
	return config.MeterConfig{}, fmt.Errorf("no meter named %q", name)
}
