package backtest

import (
	"time"

	"extension-backtester/internal/data"
	"extension-backtester/internal/swing"
	"extension-backtester/internal/timeframe"
	"extension-backtester/internal/trade"
)

// Config holds backtest configuration
type Config struct {
	Symbols          []string
	SignalTimeframe  timeframe.Timeframe
	PrimaryTimeframe timeframe.Timeframe

	EMAPeriod int
	// Lookback is the evaluation window length in bars.
	Lookback int
	Swing    swing.Params

	// Thresholds holds the qualifying extension magnitude per timeframe.
	Thresholds map[timeframe.Timeframe]float64

	StopLossPercent   float64
	TakeProfitPercent float64
	// TargetStepPercent is the distance between successive targets as a
	// percentage of the entry price.
	TargetStepPercent float64
	MaxTargets        int

	// PendingExpiryBars expires an unfilled entry after this many bars.
	PendingExpiryBars int

	InitialBalance  float64
	PositionSizePct float64
	CommissionPct   float64
}

func (c *Config) applyDefaults() {
	if c.EMAPeriod == 0 {
		c.EMAPeriod = 21
	}
	if c.Lookback == 0 {
		c.Lookback = 100
	}
	if c.Swing.MinSeparation == 0 {
		c.Swing.MinSeparation = 5
	}
	if c.Swing.Backstep == 0 {
		c.Swing.Backstep = 2
	}
	if c.Swing.DeviationPct == 0 {
		c.Swing.DeviationPct = 0.03
	}
	if c.StopLossPercent == 0 {
		c.StopLossPercent = 2.0
	}
	if c.TakeProfitPercent == 0 {
		c.TakeProfitPercent = 3.0
	}
	if c.TargetStepPercent == 0 {
		c.TargetStepPercent = 1.5
	}
	if c.MaxTargets == 0 {
		c.MaxTargets = 4
	}
	if c.PendingExpiryBars == 0 {
		c.PendingExpiryBars = 10
	}
	if c.InitialBalance == 0 {
		c.InitialBalance = 10000
	}
	if c.PositionSizePct == 0 {
		c.PositionSizePct = 0.95
	}
}

// BarSource supplies the ordered bar series for one (symbol, timeframe)
// pair. Bars must be timezone-normalized and gap-handled by the caller.
type BarSource interface {
	Bars(symbol string, tf timeframe.Timeframe) ([]data.Bar, error)
}

// ClosedTrade is one finished trade emitted to reporting.
type ClosedTrade struct {
	PositionID      string             `json:"position_id"`
	Symbol          string             `json:"symbol"`
	Direction       trade.Direction    `json:"direction"`
	EntryTime       time.Time          `json:"entry_time"`
	EntryPrice      float64            `json:"entry_price"`
	EntryReason     string             `json:"entry_reason"`
	ExitTime        time.Time          `json:"exit_time"`
	ExitPrice       float64            `json:"exit_price"`
	ExitReason      string             `json:"exit_reason"`
	Quantity        float64            `json:"quantity"`
	PnL             float64            `json:"pnl"`
	PnLPercent      float64            `json:"pnl_percent"`
	Fees            float64            `json:"fees"`
	DurationMinutes int                `json:"duration_minutes"`
	TargetsHit      int                `json:"targets_hit"`
	History         []trade.Transition `json:"state_history"`
}

// Result aggregates performance metrics over one run.
type Result struct {
	RunID            string              `json:"run_id"`
	Symbols          []string            `json:"symbols"`
	SignalTimeframe  timeframe.Timeframe `json:"signal_timeframe"`
	PrimaryTimeframe timeframe.Timeframe `json:"primary_timeframe"`
	StartedAt        time.Time           `json:"started_at"`
	FinishedAt       time.Time           `json:"finished_at"`

	TotalTrades             int     `json:"total_trades"`
	WinningTrades           int     `json:"winning_trades"`
	LosingTrades            int     `json:"losing_trades"`
	WinRate                 float64 `json:"win_rate"`
	TotalPnL                float64 `json:"total_pnl"`
	TotalFees               float64 `json:"total_fees"`
	NetPnL                  float64 `json:"net_pnl"`
	AverageWin              float64 `json:"average_win"`
	AverageLoss             float64 `json:"average_loss"`
	LargestWin              float64 `json:"largest_win"`
	LargestLoss             float64 `json:"largest_loss"`
	ProfitFactor            float64 `json:"profit_factor"`
	MaxDrawdown             float64 `json:"max_drawdown"`
	MaxDrawdownPercent      float64 `json:"max_drawdown_percent"`
	AvgTradeDurationMinutes int     `json:"avg_trade_duration_minutes"`
}
