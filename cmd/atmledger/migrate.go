package main

import (
	"github.com/spf13/cobra"

	"github.com/arhyth/atmledger"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the accounts table and install the overdraft floor",
		RunE: func(cmd *cobra.Command, args []string) error {
			lh, err := atmledger.NewLocalHelper(cmd.Context(), a.cfg, &a.logger)
			if err != nil {
				a.logger.Err(err).Msg("error starting local helper")
				return err
			}
			teardown, err := lh.InitDB(cmd.Context())
			if err != nil {
				lh.Repo.Close()
				a.logger.Err(err).Msg("error initializing database")
				return err
			}
			defer teardown()
			a.logger.Info().Str("driver", a.cfg.Storage.Driver).Msg("database migrated")
			return nil
		},
	}
}
