package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"autotrade-engine/internal/models"
)

// newRiskCmd prints the user's portfolio risk report.
func newRiskCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "risk",
		Short: "Show the portfolio risk report",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			userID, _ := cmd.Flags().GetString("user")

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			report, err := app.Engine.PortfolioRisk(ctx, userID)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(report)
			}

			t := table.NewWriter()
			t.SetOutputMirror(output.Writer())
			t.SetStyle(table.StyleLight)
			t.SetTitle("Portfolio Risk: %s", userID)
			t.AppendRows([]table.Row{
				{"Equity", fmt.Sprintf("$%.2f", report.Snapshot.Equity)},
				{"Open positions", report.Snapshot.OpenPositions},
				{"Portfolio heat", fmt.Sprintf("%.2f%%", report.Snapshot.PortfolioHeat)},
				{"Total notional", fmt.Sprintf("$%.2f", report.Snapshot.TotalNotionalUSD)},
				{"Leverage", fmt.Sprintf("%.2fx", report.Snapshot.Leverage)},
				{"Margin utilization", fmt.Sprintf("%.2f%%", report.Snapshot.MarginUtilization)},
			})
			t.AppendSeparator()
			t.AppendRows([]table.Row{
				{"Daily P&L", fmt.Sprintf("$%.2f", report.Losses.DailyPnL)},
				{"Weekly P&L", fmt.Sprintf("$%.2f", report.Losses.WeeklyPnL)},
				{"Monthly P&L", fmt.Sprintf("$%.2f", report.Losses.MonthlyPnL)},
				{"Consecutive losses", report.Losses.ConsecutiveLosses},
			})
			t.AppendSeparator()
			t.AppendRow(table.Row{"Circuit breaker", breakerCell(report.Breaker)})
			t.Render()

			if len(report.Snapshot.ExposureBySymbol) > 0 {
				et := table.NewWriter()
				et.SetOutputMirror(output.Writer())
				et.SetStyle(table.StyleLight)
				et.AppendHeader(table.Row{"Symbol", "Exposure"})
				for symbol, usd := range report.Snapshot.ExposureBySymbol {
					et.AppendRow(table.Row{symbol, fmt.Sprintf("$%.2f", usd)})
				}
				et.Render()
			}
			return nil
		},
	}
}

func breakerCell(st *models.CircuitBreakerState) string {
	switch st.Status {
	case models.CircuitActive:
		return "ACTIVE"
	case models.CircuitPaused:
		return fmt.Sprintf("PAUSED (%s)", st.PauseReason)
	default:
		return "KILLED"
	}
}
