package main

import (
	"github.com/NotCoffee418/iec_meter_reader/pkg/config"
	"github.com/NotCoffee418/iec_meter_reader/pkg/pathing"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "meter_reader",
		Short:         "Reads IEC 61107 electricity meters",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"path to reader.toml (default <config dir>/reader.toml)")

	cmd.AddCommand(
		newRunCmd(opts),
		newCheckConfigCmd(opts),
		newReadCmd(opts),
	)
	return cmd
}

// load reads the reader config, creating the default file on first start.
func (o *rootOptions) load() (*config.ReaderConfig, error) {
	if o.configPath == "" {
		if err := pathing.EnsureDirs(); err != nil {
			return nil, err
		}
		if err := config.LoadReaderConfig(); err != nil {
			return nil, err
		}
		return config.ActiveReaderConfig, nil
	}
	cfg, err := config.LoadReaderConfigFile(o.configPath)
	if err != nil {
		return nil, err
	}
	config.ActiveReaderConfig = cfg
	return cfg, nil
}
