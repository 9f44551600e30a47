package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"siegebot/internal/api"
	"siegebot/internal/config"
	"siegebot/internal/logging"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler with the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := logging.New(cfg.LogLevel)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			eng, err := buildEngine(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer eng.Close()

			eng.scheduler.Start(ctx)

			server := api.NewServer(cfg.Addr, cfg.AuthToken, eng.store, eng.scheduler, logger)
			serverErr := make(chan error, 1)
			go func() {
				if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

			select {
			case sig := <-sigs:
				logger.Info("received signal", "signal", sig.String())
			case err := <-serverErr:
				logger.Error("server error", "err", err)
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("server shutdown", "err", err)
			}
			logger.Info("shutdown complete")
			return nil
		},
	}
}
