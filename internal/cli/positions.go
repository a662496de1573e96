package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"autotrade-engine/internal/store"
)

// newPositionsCmd lists the user's open positions.
func newPositionsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "positions",
		Short: "List open positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			userID, _ := cmd.Flags().GetString("user")

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			positions, err := app.Store.GetOpenPositions(ctx, userID)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(positions)
			}
			if len(positions) == 0 {
				output.Dim("No open positions")
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(output.Writer())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"ID", "Symbol", "Side", "Entry", "Stop", "Units", "Health", "Age"})
			for _, pos := range positions {
				t.AppendRow(table.Row{
					pos.ID[:8],
					pos.Symbol,
					pos.Side,
					fmt.Sprintf("%.2f", pos.EntryPrice),
					fmt.Sprintf("%.2f", pos.CurrentStop),
					fmt.Sprintf("%.4f", pos.RemainingUnits),
					fmt.Sprintf("%.0f", pos.HealthScore),
					time.Since(pos.OpenedAt).Round(time.Minute),
				})
			}
			t.Render()
			return nil
		},
	}
}

// newLogCmd shows recent execution log records.
func newLogCmd(app *App) *cobra.Command {
	var limit int
	var symbol string

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show recent execution log records",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			userID, _ := cmd.Flags().GetString("user")

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			records, err := app.Store.GetExecutionLog(ctx, store.ExecutionLogFilter{
				UserID: userID,
				Symbol: symbol,
				Limit:  limit,
			})
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(records)
			}
			if len(records) == 0 {
				output.Dim("No execution records")
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(output.Writer())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Time", "Symbol", "Side", "Type", "Status", "Attempt", "Price", "Slippage"})
			for _, rec := range records {
				t.AppendRow(table.Row{
					rec.CreatedAt.Format("01-02 15:04:05"),
					rec.Symbol,
					rec.Side,
					rec.OrderType,
					rec.Status,
					rec.RetryCount,
					fmt.Sprintf("%.2f", rec.ExecutedPrice),
					fmt.Sprintf("%.3f%%", rec.SlippagePct),
				})
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum records to show")
	cmd.Flags().StringVar(&symbol, "symbol", "", "filter by symbol")
	return cmd
}
