package strategy

import (
	"time"

	"extension-backtester/internal/data"
	"extension-backtester/internal/swing"
	"extension-backtester/internal/timeframe"
	"extension-backtester/internal/trade"
)

// Frame bundles everything the evaluator needs about one timeframe: the bar
// window, the aligned EMA series and the detected swing points.
type Frame struct {
	Timeframe timeframe.Timeframe
	Bars      []data.Bar
	EMA       []float64
	Swings    []swing.Point
}

// Signal is an immutable trade proposal. It is consumed exactly once by the
// orchestrator.
type Signal struct {
	Symbol         string              `json:"symbol"`
	Direction      trade.Direction     `json:"direction"`
	EntryPrice     float64             `json:"entry_price"`
	StopLoss       float64             `json:"stop_loss"`
	TakeProfit     float64             `json:"take_profit"`
	Timeframe      timeframe.Timeframe `json:"timeframe"`
	ExtensionValue float64             `json:"extension_value"`
	RiskReward     float64             `json:"risk_reward"`
	Reason         string              `json:"reason"`
	Timestamp      time.Time           `json:"timestamp"`
}

// Strategy evaluates one step of market context into at most one signal.
type Strategy interface {
	// Name returns the strategy name
	Name() string

	// Evaluate checks the signal frame against its primary-trend frame and
	// returns nil when no entry sets up.
	Evaluate(signal, primary Frame) (*Signal, error)

	// GetSymbol returns the symbol this strategy trades
	GetSymbol() string
}
