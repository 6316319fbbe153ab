package main

import (
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/sorrel/config"
)

func newMigrateCommand(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*envFile)
			if err != nil {
				return err
			}
			logger, sync, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer sync()

			a := newApp(cfg, logger)
			defer a.close(cmd.Context())
			return a.connect(cmd.Context(), connectOptions{migrate: true, databaseOnly: true})
		},
	}
}
