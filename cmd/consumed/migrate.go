package main

import (
	"github.com/spf13/cobra"

	"github.com/xxz807/finscale/consume/internal/consume/adapter/repo"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the consume tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts.ConfigPath)
			if err != nil {
				return err
			}
			defer a.close()

			if err := repo.Migrate(a.db); err != nil {
				return err
			}
			a.logger.Info("migration finished")
			return nil
		},
	}
}
