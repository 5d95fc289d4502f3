package backtest

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"
)

// WriteTradesCSV dumps closed trades to path for external analysis.
func WriteTradesCSV(trades []ClosedTrade, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create trade file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	_ = w.Write([]string{
		"position_id", "symbol", "direction", "entry_time", "exit_time",
		"entry_price", "exit_price", "quantity", "pnl", "pnl_percent",
		"fees", "duration_minutes", "targets_hit", "exit_reason",
	})
	for _, t := range trades {
		_ = w.Write([]string{
			t.PositionID, t.Symbol, string(t.Direction),
			t.EntryTime.Format(time.RFC3339), t.ExitTime.Format(time.RFC3339),
			formatF(t.EntryPrice), formatF(t.ExitPrice), formatF(t.Quantity),
			formatF(t.PnL), formatF(t.PnLPercent), formatF(t.Fees),
			strconv.Itoa(t.DurationMinutes), strconv.Itoa(t.TargetsHit), t.ExitReason,
		})
	}
	return w.Error()
}

func formatF(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
