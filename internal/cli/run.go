package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"autotrade-engine/internal/monitoring"
)

// newRunCmd starts the engine daemon: resumes position monitors for
// the user and serves metrics until interrupted.
func newRunCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the engine daemon",
		Long: `Resumes monitors for all open positions and keeps them running.
Signals arrive through the configured signal source; this command keeps
the process alive and serves the metrics endpoint when enabled.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			userID, _ := cmd.Flags().GetString("user")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := app.Engine.ResumeUser(ctx, userID); err != nil {
				return err
			}
			output.Info("Engine running for user %s (mode: %s)", userID, app.Config.Engine.Mode)

			var metrics *monitoring.Server
			if app.Config.Metrics.Enabled {
				metrics = monitoring.NewServer(app.Config.Metrics.Addr, app.Logger)
				metrics.Start()
			}

			<-ctx.Done()
			output.Dim("Shutting down")

			app.Engine.Shutdown()
			if metrics != nil {
				if err := metrics.Stop(context.Background()); err != nil {
					app.Logger.Warn().Err(err).Msg("Metrics server shutdown failed")
				}
			}
			return app.Store.Close()
		},
	}
}
