package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"queuectl/internal/api"
	"queuectl/internal/core"
	"queuectl/internal/logging"
	"queuectl/internal/pool"
)

func serveCmd() *cobra.Command {
	var dataPath string
	var workerCount int
	var logLevel string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the queue server: scheduler, worker pool, and control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(logLevel)
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			defer logger.Sync()

			c, err := core.New(core.Options{
				SnapshotPath: dataPath,
				WorkerCount:  workerCount,
				Spawner:      &pool.ProcessSpawner{Logger: logger},
				Logger:       logger,
			})
			if err != nil {
				return fmt.Errorf("initialize core: %w", err)
			}

			server := api.New(c, apiAddr, logger)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			go func() {
				if err := c.Run(ctx); err != nil {
					logger.Errorw("core run stopped with error", "error", err)
				}
			}()

			serverErrCh := make(chan error, 1)
			go func() { serverErrCh <- server.Start() }()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case sig := <-sigCh:
				logger.Infow("received signal, shutting down", "signal", sig.String())
			case err := <-serverErrCh:
				logger.Errorw("control API stopped unexpectedly", "error", err)
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutdownCancel()

			_ = server.Shutdown(shutdownCtx)
			if err := c.Shutdown(shutdownCtx); err != nil {
				logger.Errorw("shutdown did not complete cleanly", "error", err)
			}
			cancel()

			logger.Info("shutdown complete")
			return nil
		},
	}

	cmd.Flags().StringVar(&dataPath, "data", "data/queue.db", "path to the on-disk snapshot file")
	cmd.Flags().IntVar(&workerCount, "workers", 3, "number of worker processes")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	return cmd
}
