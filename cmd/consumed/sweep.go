package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSweepCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one compensation sweep pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts.ConfigPath)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.ledger.SweepOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "processed=%d succeeded=%d failed=%d exhausted=%d\n",
				report.Processed, report.Succeeded, report.Failed, report.Exhausted)
			return nil
		},
	}
}
