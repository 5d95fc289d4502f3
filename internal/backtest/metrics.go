package backtest

// calculateMetrics fills the aggregate performance fields from the closed
// trade list, ordered by exit time.
func (e *Engine) calculateMetrics(result *Result, trades []ClosedTrade) {
	if len(trades) == 0 {
		return
	}

	result.TotalTrades = len(trades)

	var totalWinPnL, totalLossPnL float64
	var totalDuration int

	for _, trade := range trades {
		result.TotalPnL += trade.PnL
		result.TotalFees += trade.Fees
		totalDuration += trade.DurationMinutes

		if trade.PnL > 0 {
			result.WinningTrades++
			totalWinPnL += trade.PnL
			if trade.PnL > result.LargestWin {
				result.LargestWin = trade.PnL
			}
		} else {
			result.LosingTrades++
			totalLossPnL += trade.PnL
			if trade.PnL < result.LargestLoss {
				result.LargestLoss = trade.PnL
			}
		}
	}

	result.NetPnL = result.TotalPnL - result.TotalFees
	result.WinRate = float64(result.WinningTrades) / float64(result.TotalTrades) * 100
	result.AvgTradeDurationMinutes = totalDuration / result.TotalTrades

	if result.WinningTrades > 0 {
		result.AverageWin = totalWinPnL / float64(result.WinningTrades)
	}
	if result.LosingTrades > 0 {
		result.AverageLoss = totalLossPnL / float64(result.LosingTrades)
	}
	if totalLossPnL != 0 {
		result.ProfitFactor = totalWinPnL / (-totalLossPnL)
	}

	result.MaxDrawdown, result.MaxDrawdownPercent = maxDrawdown(trades, e.config.InitialBalance)
}

// maxDrawdown walks the balance curve trade by trade and reports the deepest
// peak-to-trough fall, absolute and as a percentage of the peak.
func maxDrawdown(trades []ClosedTrade, initialBalance float64) (float64, float64) {
	if len(trades) == 0 {
		return 0, 0
	}

	balance := initialBalance
	peak := initialBalance
	worst := 0.0

	for _, trade := range trades {
		balance += trade.PnL - trade.Fees
		if balance > peak {
			peak = balance
		}
		if dd := peak - balance; dd > worst {
			worst = dd
		}
	}

	pct := 0.0
	if peak > 0 {
		pct = worst / peak * 100
	}
	return worst, pct
}
