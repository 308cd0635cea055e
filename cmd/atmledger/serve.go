package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/arhyth/atmledger"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Migrate the store and serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	repo, err := atmledger.OpenRepository(ctx, cfg, &a.logger)
	if err != nil {
		a.logger.Err(err).Str("driver", cfg.Storage.Driver).Msg("error starting database")
		return err
	}
	defer repo.Close()
	if err = repo.Migrate(ctx); err != nil {
		a.logger.Err(err).Msg("error migrating database")
		return err
	}

	core, err := atmledger.NewService(repo, cfg.MaxDebt(), &a.logger)
	if err != nil {
		a.logger.Err(err).Msg("error starting service")
		return err
	}
	metrics := atmledger.NewMetrics()
	svc := atmledger.Chain(core,
		atmledger.NewMetricsMiddleware(metrics),
		atmledger.NewCircuitBreakMiddleware(atmledger.NewServiceBreaker(cfg, metrics, &a.logger)),
		atmledger.NewLimitMiddleware(atmledger.NewServiceLimits(cfg)),
	)
	hndlr := atmledger.NewHTTPHandler(svc, &a.logger, atmledger.WithMetrics(metrics))

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           hndlr,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		a.logger.Info().
			Str("addr", cfg.Server.Addr).
			Str("driver", cfg.Storage.Driver).
			Str("max_debt", cfg.MaxDebt().String()).
			Msg("listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err = <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	a.logger.Info().Msg("shutting down")
	return srv.Shutdown(sctx)
}
