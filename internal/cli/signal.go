package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"autotrade-engine/internal/models"
)

// newSignalCmd evaluates (and on approval executes) a signal passed on
// the command line. Primarily a paper-mode and debugging tool.
func newSignalCmd(app *App) *cobra.Command {
	var (
		side       string
		entry      float64
		stop       float64
		target     float64
		confidence float64
		urgency    float64
		price      float64
	)

	cmd := &cobra.Command{
		Use:   "signal <symbol>",
		Short: "Evaluate a trading signal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			userID, _ := cmd.Flags().GetString("user")
			symbol := args[0]

			if price > 0 {
				if paper, ok := app.Venue.(interface{ SetPrice(string, float64) }); ok {
					paper.SetPrice(symbol, price)
				}
			}

			sig := &models.Signal{
				Symbol:      symbol,
				Side:        models.Side(side),
				EntryPrice:  entry,
				StopPrice:   stop,
				TargetPrice: target,
				Confidence:  confidence,
				Urgency:     urgency,
				GeneratedAt: time.Now(),
			}

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			outcome, err := app.Engine.EvaluateSignal(ctx, userID, sig)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(outcome)
			}

			ev := outcome.Evaluation
			if !ev.Approved {
				output.Warning("Rejected: %s", ev.Reason)
				return nil
			}

			output.Success("Approved: %s %s $%.2f (%.4f units)",
				ev.Order.Side, ev.Order.Symbol, ev.Order.SizeUSD, ev.Order.SizeUnits)
			if ev.Sizing != nil && ev.Sizing.Capped() {
				output.Dim("Size was capped by position limits")
			}
			if exec := outcome.Execution; exec != nil {
				if exec.Fill != nil {
					output.Info("Filled %.4f units at %.2f (%s, %d attempts)",
						exec.Fill.FilledUnits, exec.Fill.ExecutedPrice, exec.Status, exec.Attempts)
				} else {
					output.Error("Execution failed: %s after %d attempts", exec.Status, exec.Attempts)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&side, "side", "LONG", "signal side (LONG or SHORT)")
	cmd.Flags().Float64Var(&entry, "entry", 0, "entry price")
	cmd.Flags().Float64Var(&stop, "stop", 0, "stop loss price")
	cmd.Flags().Float64Var(&target, "target", 0, "take profit price")
	cmd.Flags().Float64Var(&confidence, "confidence", 0.7, "signal confidence (0-1)")
	cmd.Flags().Float64Var(&urgency, "urgency", 0.5, "signal urgency (0-1)")
	cmd.Flags().Float64Var(&price, "price", 0, "seed paper market price")
	cmd.MarkFlagRequired("entry")
	cmd.MarkFlagRequired("stop")

	return cmd
}
