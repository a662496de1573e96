package cli

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newPauseCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "pause [reason...]",
		Short: "Pause trading for a user",
		Long: `Trips the circuit breaker. Open positions keep their monitors and
may still be closed; new entries are rejected until resume.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			userID, _ := cmd.Flags().GetString("user")
			reason := "manual pause"
			if len(args) > 0 {
				reason = strings.Join(args, " ")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := app.Engine.Pause(ctx, userID, reason, "operator"); err != nil {
				return err
			}
			output.Warning("Trading paused for %s: %s", userID, reason)
			return nil
		},
	}
}

func newResumeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume trading for a paused user",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			userID, _ := cmd.Flags().GetString("user")

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := app.Engine.Resume(ctx, userID, "operator"); err != nil {
				return err
			}
			output.Success("Trading resumed for %s", userID)
			return nil
		},
	}
}

func newKillCmd(app *App) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "kill",
		Short: "Engage the kill switch",
		Long: `Halts the user permanently, cancels all position monitors and
pending retries, and force-closes every open position at market.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			userID, _ := cmd.Flags().GetString("user")

			if !yes {
				output.Error("Refusing to engage kill switch without --yes")
				return nil
			}

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			if err := app.Engine.KillSwitch(ctx, userID, "operator"); err != nil {
				return err
			}
			output.Warning("Kill switch engaged for %s; all positions closed", userID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the kill switch")
	return cmd
}
