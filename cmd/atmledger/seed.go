package main

import (
	"github.com/spf13/cobra"

	"github.com/arhyth/atmledger"
)

func newSeedCmd(a *app) *cobra.Command {
	var pairs []string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Apply opening balances, e.g. --account 112=50.0",
		RunE: func(cmd *cobra.Command, args []string) error {
			seeds, err := atmledger.ParseSeeds(pairs)
			if err != nil {
				return err
			}
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
			if err = lh.SeedBalances(cmd.Context(), seeds); err != nil {
				a.logger.Err(err).Msg("error seeding balances")
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&pairs, "account", nil, "ACCOUNT=AMOUNT, repeatable")
	return cmd
}
