package strategy

import (
	"fmt"
	"math"

	"extension-backtester/internal/swing"
	"extension-backtester/internal/timeframe"
	"extension-backtester/internal/trade"
)

// ExtensionConfig configures the EMA-extension reversion strategy.
type ExtensionConfig struct {
	Symbol string

	// Thresholds holds the minimum extension magnitude per timeframe that
	// qualifies as stretched.
	Thresholds map[timeframe.Timeframe]float64

	// StopLossPercent and TakeProfitPercent are offsets from the entry
	// price, e.g. 2.0 = 2%.
	StopLossPercent   float64
	TakeProfitPercent float64

	// SwingLookback bounds the pivot-gate scan; 0 scans all points.
	SwingLookback int
}

// ExtensionStrategy proposes mean-reversion entries when the lower timeframe
// is stretched away from its EMA, the stretch is contracting back toward the
// EMA, and the primary timeframe's trend agrees with the trade direction.
type ExtensionStrategy struct {
	config *ExtensionConfig
}

func NewExtensionStrategy(config *ExtensionConfig) *ExtensionStrategy {
	if config.StopLossPercent == 0 {
		config.StopLossPercent = 2.0
	}
	if config.TakeProfitPercent == 0 {
		config.TakeProfitPercent = 4.0
	}
	return &ExtensionStrategy{config: config}
}

func (s *ExtensionStrategy) Name() string {
	return fmt.Sprintf("Extension-%s", s.config.Symbol)
}

func (s *ExtensionStrategy) GetSymbol() string {
	return s.config.Symbol
}

// Evaluate inspects the last bar of the signal frame. It returns nil (no
// signal) whenever any input is still warming up or a condition fails.
func (s *ExtensionStrategy) Evaluate(signal, primary Frame) (*Signal, error) {
	n := len(signal.Bars)
	if n < 2 || len(signal.EMA) != n {
		return nil, nil
	}
	if len(primary.Bars) == 0 || len(primary.EMA) != len(primary.Bars) {
		return nil, nil
	}

	ext := Extension(signal.Bars[n-1].Close, signal.EMA[n-1])
	prevExt := Extension(signal.Bars[n-2].Close, signal.EMA[n-2])
	if math.IsNaN(ext) || math.IsNaN(prevExt) {
		return nil, nil
	}

	threshold := s.config.Thresholds[signal.Timeframe]
	if threshold <= 0 {
		return nil, nil
	}

	// Stretched beyond the threshold and contracting back toward the EMA.
	stretched := math.Abs(ext) > threshold
	contracting := math.Abs(ext) < math.Abs(prevExt) && ext*prevExt > 0
	if !stretched || !contracting {
		return nil, nil
	}

	pn := len(primary.Bars)
	primaryExt := Extension(primary.Bars[pn-1].Close, primary.EMA[pn-1])
	if math.IsNaN(primaryExt) {
		return nil, nil
	}

	// LONG: primary trend bullish, price stretched below its EMA and
	// pulling back up. SHORT is the mirror case.
	var direction trade.Direction
	switch {
	case primaryExt > 0 && ext < 0:
		direction = trade.Long
	case primaryExt < 0 && ext > 0:
		direction = trade.Short
	default:
		return nil, nil
	}

	price := signal.Bars[n-1].Close
	if !s.pivotGate(direction, price, signal.Swings) {
		return nil, nil
	}

	entry := price
	var stop, target float64
	if direction == trade.Long {
		stop = entry * (1 - s.config.StopLossPercent/100)
		target = entry * (1 + s.config.TakeProfitPercent/100)
	} else {
		stop = entry * (1 + s.config.StopLossPercent/100)
		target = entry * (1 - s.config.TakeProfitPercent/100)
	}

	risk := math.Abs(entry - stop)
	rr := 0.0
	if risk > 0 {
		rr = math.Abs(target-entry) / risk
	}

	return &Signal{
		Symbol:         s.config.Symbol,
		Direction:      direction,
		EntryPrice:     entry,
		StopLoss:       stop,
		TakeProfit:     target,
		Timeframe:      signal.Timeframe,
		ExtensionValue: ext,
		RiskReward:     rr,
		Reason: fmt.Sprintf("%s reversion: %s extension %.4f contracting (threshold %.4f), %s trend agrees",
			direction, signal.Timeframe, ext, threshold, primary.Timeframe),
		Timestamp: signal.Bars[n-1].OpenTime,
	}, nil
}

// pivotGate rejects entries where price has already broken the most recent
// opposing swing point: below the last LOW for longs, above the last HIGH
// for shorts.
func (s *ExtensionStrategy) pivotGate(direction trade.Direction, price float64, points []swing.Point) bool {
	if direction == trade.Long {
		if low := swing.MostRecent(swing.Low, points, s.config.SwingLookback); low != nil && price < low.Price {
			return false
		}
		return true
	}
	if high := swing.MostRecent(swing.High, points, s.config.SwingLookback); high != nil && price > high.Price {
		return false
	}
	return true
}
