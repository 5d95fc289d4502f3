// Package backtest drives the per-symbol simulation loop: bars feed the
// swing detector and extension evaluator, whose signals advance positions
// through the trade state machine.
package backtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"extension-backtester/internal/data"
	"extension-backtester/internal/events"
	"extension-backtester/internal/strategy"
	"extension-backtester/internal/swing"
	"extension-backtester/internal/trade"
)

// PositionSnapshotter persists in-flight position state so an interrupted
// run can be inspected or resumed externally.
type PositionSnapshotter interface {
	SavePosition(ctx context.Context, runID string, p *trade.Position) error
	DeletePosition(ctx context.Context, runID, symbol string)
}

// Engine executes a backtest for the extension strategy.
type Engine struct {
	config    Config
	logger    zerolog.Logger
	bus       *events.Bus
	manager   *trade.Manager
	runID     string
	snapshots PositionSnapshotter
}

// NewEngine creates a new backtest engine. The event bus may be nil when no
// reporting subscriber is attached.
func NewEngine(config Config, logger zerolog.Logger, bus *events.Bus) *Engine {
	config.applyDefaults()
	return &Engine{
		config:  config,
		logger:  logger.With().Str("component", "BacktestEngine").Logger(),
		bus:     bus,
		manager: trade.NewManager(logger),
		runID:   uuid.New().String(),
	}
}

// WithSnapshots attaches a snapshot store; call before Run.
func (e *Engine) WithSnapshots(s PositionSnapshotter) *Engine {
	e.snapshots = s
	return e
}

// RunID identifies this engine's run in emitted records and snapshots.
func (e *Engine) RunID() string {
	return e.runID
}

// Run simulates all configured symbols in parallel and merges their trades
// into one result. Each symbol owns its positions exclusively, so the only
// shared state is the merge below.
func (e *Engine) Run(ctx context.Context, source BarSource) (*Result, []ClosedTrade, error) {
	started := time.Now().UTC()

	type symbolRun struct {
		symbol string
		trades []ClosedTrade
		err    error
	}

	results := make(chan symbolRun, len(e.config.Symbols))
	var wg sync.WaitGroup

	for _, symbol := range e.config.Symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			if err := ctx.Err(); err != nil {
				results <- symbolRun{symbol: symbol, err: err}
				return
			}
			trades, err := e.runSymbol(ctx, symbol, source)
			results <- symbolRun{symbol: symbol, trades: trades, err: err}
		}(symbol)
	}

	wg.Wait()
	close(results)

	var trades []ClosedTrade
	for r := range results {
		if r.err != nil {
			return nil, nil, fmt.Errorf("symbol %s: %w", r.symbol, r.err)
		}
		trades = append(trades, r.trades...)
	}

	sort.Slice(trades, func(a, b int) bool { return trades[a].ExitTime.Before(trades[b].ExitTime) })

	result := &Result{
		RunID:            e.runID,
		Symbols:          e.config.Symbols,
		SignalTimeframe:  e.config.SignalTimeframe,
		PrimaryTimeframe: e.config.PrimaryTimeframe,
		StartedAt:        started,
		FinishedAt:       time.Now().UTC(),
	}
	e.calculateMetrics(result, trades)

	if e.bus != nil {
		e.bus.Publish(events.EventBacktestCompleted, map[string]interface{}{
			"run_id":       result.RunID,
			"total_trades": result.TotalTrades,
			"net_pnl":      result.NetPnL,
		})
	}

	return result, trades, nil
}

// runSymbol walks one symbol's signal-timeframe series bar by bar.
func (e *Engine) runSymbol(ctx context.Context, symbol string, source BarSource) ([]ClosedTrade, error) {
	sigBars, err := source.Bars(symbol, e.config.SignalTimeframe)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s bars: %w", e.config.SignalTimeframe, err)
	}
	priBars, err := source.Bars(symbol, e.config.PrimaryTimeframe)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s bars: %w", e.config.PrimaryTimeframe, err)
	}
	if len(sigBars) <= e.config.EMAPeriod || len(priBars) == 0 {
		e.logger.Warn().Str("symbol", symbol).Int("bars", len(sigBars)).Msg("Insufficient history, skipping symbol")
		return nil, nil
	}

	sigEMA := strategy.EMA{Period: e.config.EMAPeriod}.Calculate(sigBars)
	priEMA := strategy.EMA{Period: e.config.EMAPeriod}.Calculate(priBars)

	strat := strategy.NewExtensionStrategy(&strategy.ExtensionConfig{
		Symbol:            symbol,
		Thresholds:        e.config.Thresholds,
		StopLossPercent:   e.config.StopLossPercent,
		TakeProfitPercent: e.config.TakeProfitPercent,
	})

	var (
		closed     []ClosedTrade
		pos        *trade.Position
		pendingAge int
		priIdx     = 0
	)

	for i := e.config.EMAPeriod; i < len(sigBars); i++ {
		bar := sigBars[i]

		// Advance to the last primary bar at or before this signal bar.
		for priIdx+1 < len(priBars) && !priBars[priIdx+1].OpenTime.After(bar.OpenTime) {
			priIdx++
		}

		if pos != nil {
			pendingAge = e.managePosition(pos, bar, pendingAge)
			if trade.IsTerminal(pos) {
				if e.snapshots != nil {
					e.snapshots.DeletePosition(ctx, e.runID, symbol)
				}
				if t, ok := e.closedTrade(pos); ok {
					closed = append(closed, t)
				}
				pos = nil
				pendingAge = 0
			} else if e.snapshots != nil {
				if err := e.snapshots.SavePosition(ctx, e.runID, pos); err != nil {
					e.logger.Warn().Err(err).Str("symbol", symbol).Msg("Position snapshot failed")
				}
			}
			continue
		}

		lo := i + 1 - e.config.Lookback
		if lo < 0 {
			lo = 0
		}
		window := sigBars[lo : i+1]
		points := swing.Detect(window, e.config.Swing)
		// Re-anchor window-relative pivot indexes on the full series.
		for j := range points {
			points[j].Index += lo
		}

		signal, err := strat.Evaluate(
			strategy.Frame{Timeframe: e.config.SignalTimeframe, Bars: window, EMA: sigEMA[lo : i+1], Swings: points},
			strategy.Frame{Timeframe: e.config.PrimaryTimeframe, Bars: priBars[:priIdx+1], EMA: priEMA[:priIdx+1]},
		)
		if err != nil {
			e.logger.Error().Err(err).Str("symbol", symbol).Int("bar", i).Msg("Strategy evaluation failed")
			continue
		}
		if signal == nil {
			continue
		}

		pos = trade.NewPosition(symbol, signal.Direction, signal.EntryPrice, signal.StopLoss, e.config.SignalTimeframe)
		pos.EntryReason = signal.Reason
		pendingAge = 0

		if e.bus != nil {
			e.bus.Publish(events.EventSignalGenerated, map[string]interface{}{
				"symbol":    symbol,
				"direction": string(signal.Direction),
				"entry":     signal.EntryPrice,
				"extension": signal.ExtensionValue,
			})
		}
	}

	// Whatever is still open at the end of data gets closed out.
	if pos != nil {
		last := sigBars[len(sigBars)-1]
		e.finalize(pos, last)
		if t, ok := e.closedTrade(pos); ok {
			closed = append(closed, t)
		}
	}

	return closed, nil
}

// managePosition applies one bar to an open position and returns the updated
// pending age. Stops are checked before targets: when both trigger inside a
// single bar the conservative outcome wins.
func (e *Engine) managePosition(pos *trade.Position, bar data.Bar, pendingAge int) int {
	switch pos.CurrentState() {
	case trade.StatePending:
		if bar.Low <= pos.EntryPrice && pos.EntryPrice <= bar.High {
			e.transition(pos, trade.StateActive, "fill", pos.EntryPrice, bar.OpenTime)
			if e.bus != nil {
				e.bus.Publish(events.EventTradeOpened, map[string]interface{}{
					"position_id": pos.ID,
					"symbol":      pos.Symbol,
					"direction":   string(pos.Direction),
					"entry":       pos.EntryPrice,
				})
			}
			return 0
		}
		pendingAge++
		if pendingAge >= e.config.PendingExpiryBars {
			e.transition(pos, trade.StateExpired, "Entry window expired", pos.EntryPrice, bar.OpenTime)
		}
		return pendingAge

	case trade.StateActive, trade.StateTarget1, trade.StateTarget2, trade.StateTarget3, trade.StateTarget4:
		if stopHit(pos, bar) {
			e.transition(pos, trade.StateStopped, "Stop triggered", pos.StopLevel, bar.OpenTime)
			return 0
		}
		next := len(pos.TargetsHit) + 1
		price := e.targetPrice(pos, next)
		if targetHit(pos, bar, price) {
			if next > e.config.MaxTargets || stateForTarget(next) == "" {
				e.transition(pos, trade.StateCompleted, fmt.Sprintf("Target %d reached", next), price, bar.OpenTime)
			} else {
				e.transition(pos, stateForTarget(next), fmt.Sprintf("Target %d hit", next), price, bar.OpenTime)
			}
		}
		return 0
	}
	return pendingAge
}

// finalize closes an open position against the last bar of the series.
func (e *Engine) finalize(pos *trade.Position, last data.Bar) {
	switch pos.CurrentState() {
	case trade.StatePending:
		e.transition(pos, trade.StateCanceled, "End of backtest", pos.EntryPrice, last.OpenTime)
	case trade.StateActive, trade.StateTarget1, trade.StateTarget2, trade.StateTarget3, trade.StateTarget4:
		e.transition(pos, trade.StateCompleted, "End of backtest", last.Close, last.OpenTime)
	}
}

func (e *Engine) transition(pos *trade.Position, to trade.State, reason string, price float64, at time.Time) {
	details := map[string]interface{}{
		"price":     price,
		"time":      at,
		"timeframe": string(pos.TargetTimeframe),
	}
	if err := e.manager.Transition(pos, to, reason, details); err != nil {
		// The engine only requests table-legal moves; a rejection here is a
		// sequencing bug worth surfacing loudly.
		e.logger.Error().Err(err).Str("position_id", pos.ID).Msg("Transition rejected")
	}
}

// targetPrice places target n at the configured take-profit offset plus one
// step per rung already climbed.
func (e *Engine) targetPrice(pos *trade.Position, n int) float64 {
	offset := (e.config.TakeProfitPercent + e.config.TargetStepPercent*float64(n-1)) / 100
	if pos.Direction == trade.Short {
		return pos.EntryPrice * (1 - offset)
	}
	return pos.EntryPrice * (1 + offset)
}

func stopHit(pos *trade.Position, bar data.Bar) bool {
	if pos.Direction == trade.Short {
		return bar.High >= pos.StopLevel
	}
	return bar.Low <= pos.StopLevel
}

func targetHit(pos *trade.Position, bar data.Bar, price float64) bool {
	if pos.Direction == trade.Short {
		return bar.Low <= price
	}
	return bar.High >= price
}

func stateForTarget(n int) trade.State {
	switch n {
	case 1:
		return trade.StateTarget1
	case 2:
		return trade.StateTarget2
	case 3:
		return trade.StateTarget3
	case 4:
		return trade.StateTarget4
	}
	return ""
}

// closedTrade converts a terminal position into a reporting record. Expired
// and canceled entries never traded, so they produce nothing.
func (e *Engine) closedTrade(pos *trade.Position) (ClosedTrade, bool) {
	if pos.ExitPrice == nil || pos.EntryTime == nil || pos.ExitTime == nil {
		return ClosedTrade{}, false
	}

	quantity := 0.0
	if pos.EntryPrice > 0 {
		quantity = e.config.InitialBalance * e.config.PositionSizePct / pos.EntryPrice
	}

	fees := (pos.EntryPrice + *pos.ExitPrice) * quantity * e.config.CommissionPct / 100
	t := ClosedTrade{
		PositionID:      pos.ID,
		Symbol:          pos.Symbol,
		Direction:       pos.Direction,
		EntryTime:       *pos.EntryTime,
		EntryPrice:      pos.EntryPrice,
		EntryReason:     pos.EntryReason,
		ExitTime:        *pos.ExitTime,
		ExitPrice:       *pos.ExitPrice,
		ExitReason:      pos.ExitReason,
		Quantity:        quantity,
		PnL:             pos.Profit * quantity,
		PnLPercent:      pos.ProfitPct,
		Fees:            fees,
		DurationMinutes: int(pos.ExitTime.Sub(*pos.EntryTime).Minutes()),
		TargetsHit:      len(pos.TargetsHit),
		History:         pos.History,
	}

	if e.bus != nil {
		e.bus.Publish(events.EventTradeClosed, map[string]interface{}{
			"position_id": t.PositionID,
			"symbol":      t.Symbol,
			"pnl":         t.PnL,
			"exit_reason": t.ExitReason,
		})
	}

	return t, true
}
