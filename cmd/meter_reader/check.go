package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCheckConfigCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validates reader.toml and lists the requests per meter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, m := range cfg.Meters {
				reg, err := m.Registry()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "meter %s on %s (%d/%d baud, every %s)\n",
					m.Name, m.Device, m.HandshakeBaud, m.SessionBaud, m.UpdateInterval)
				for _, req := range reg.Requests() {
					for _, sub := range reg.Subscribers(req) {
						fmt.Fprintf(out, "  %-14s %-10s -> %s (%s)\n",
							req, sub.Selector, sub.Endpoint.Name, sub.Endpoint.Kind)
					}
				}
			}
			fmt.Fprintln(out, "config OK")
			return nil
		},
	}
}
