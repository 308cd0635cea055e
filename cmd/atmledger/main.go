package main

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/arhyth/atmledger"
)

type app struct {
	cfgPath string
	cfg     *atmledger.Config
	logger  zerolog.Logger
}

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	a := &app{
		logger: zerolog.New(os.Stderr).With().Timestamp().Logger(),
	}

	root := &cobra.Command{
		Use:           "atmledger",
		Short:         "Account balance service with an enforced overdraft floor",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// the default path may be absent; an explicit one may not
			cfg, err := atmledger.LoadConfig(a.cfgPath, !cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			lvl, err := zerolog.ParseLevel(cfg.Log.Level)
			if err != nil {
				return err
			}
			zerolog.SetGlobalLevel(lvl)
			a.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "config.yml", "path to configuration file")
	root.AddCommand(
		newServeCmd(a),
		newMigrateCmd(a),
		newSeedCmd(a),
	)

	if err := root.ExecuteContext(context.Background()); err != nil {
		a.logger.Fatal().Err(err).Msg("atmledger failed")
	}
}
