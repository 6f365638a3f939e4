package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// NewServeCommand runs the scheduler and the ops HTTP surface until interrupted.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run sync, analysis and maintenance on their intervals",
		Long: `Start the long-running service.

Three jobs run on their own intervals: sync (congress.pollInterval),
analyze (orchestrator.interval) and maintenance (orchestrator.reclaimInterval).
GET /healthz and GET /status are served on http.addr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, cfg, logger, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer closeApp(application, logger)

			ctx, cancel := context.WithCancel(commandContext(cmd))
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigChan)

			go func() {
				select {
				case sig := <-sigChan:
					logger.Info("received signal, shutting down", "signal", sig)
					cancel()
				case <-ctx.Done():
				}
			}()

			logger.Info("service starting", "addr", cfg.HTTP.Addr, "driver", cfg.Database.Driver)
			if err := application.Serve(ctx); err != nil {
				return WrapExitError(ExitFailure, "service stopped", err)
			}
			logger.Info("service stopped")
			return nil
		},
	}
}
