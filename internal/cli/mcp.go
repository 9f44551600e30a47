package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"siegebot/internal/config"
	"siegebot/internal/logging"
	"siegebot/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Run the scheduler with an MCP server on stdio",
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

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigs
				logger.Info("received signal, shutting down")
				cancel()
			}()

			return mcp.NewMCPServer(eng.store, eng.scheduler, logger).Run()
		},
	}
}
