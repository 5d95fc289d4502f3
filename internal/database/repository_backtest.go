package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"extension-backtester/internal/backtest"
)

// BacktestRepository persists run results, closed trades and the per-trade
// lifecycle audit trail.
type BacktestRepository struct {
	db     *DB
	logger zerolog.Logger
}

// NewBacktestRepository creates a repository over an open pool.
func NewBacktestRepository(db *DB, logger zerolog.Logger) *BacktestRepository {
	return &BacktestRepository{
		db:     db,
		logger: logger.With().Str("component", "BacktestRepository").Logger(),
	}
}

// Migrate creates the result tables when they do not exist yet.
func (r *BacktestRepository) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS backtest_results (
			run_id TEXT PRIMARY KEY,
			symbols TEXT[] NOT NULL,
			signal_timeframe TEXT NOT NULL,
			primary_timeframe TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL,
			total_trades INT NOT NULL,
			winning_trades INT NOT NULL,
			losing_trades INT NOT NULL,
			win_rate DOUBLE PRECISION NOT NULL,
			total_pnl DOUBLE PRECISION NOT NULL,
			total_fees DOUBLE PRECISION NOT NULL,
			net_pnl DOUBLE PRECISION NOT NULL,
			profit_factor DOUBLE PRECISION NOT NULL,
			max_drawdown DOUBLE PRECISION NOT NULL,
			max_drawdown_percent DOUBLE PRECISION NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS backtest_trades (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES backtest_results(run_id),
			position_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			direction TEXT NOT NULL,
			entry_time TIMESTAMPTZ NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			entry_reason TEXT,
			exit_time TIMESTAMPTZ NOT NULL,
			exit_price DOUBLE PRECISION NOT NULL,
			exit_reason TEXT,
			quantity DOUBLE PRECISION NOT NULL,
			pnl DOUBLE PRECISION NOT NULL,
			pnl_percent DOUBLE PRECISION NOT NULL,
			fees DOUBLE PRECISION NOT NULL,
			duration_minutes INT NOT NULL,
			targets_hit INT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trade_transitions (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL,
			position_id TEXT NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			reason TEXT,
			details JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_transitions_position
			ON trade_transitions(position_id)`,
	}

	for _, stmt := range statements {
		if _, err := r.db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// SaveRun stores the result row plus every trade and its transition history
// in one transaction.
func (r *BacktestRepository) SaveRun(ctx context.Context, result *backtest.Result, trades []backtest.ClosedTrade) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO backtest_results (
			run_id, symbols, signal_timeframe, primary_timeframe,
			started_at, finished_at, total_trades, winning_trades,
			losing_trades, win_rate, total_pnl, total_fees, net_pnl,
			profit_factor, max_drawdown, max_drawdown_percent
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		result.RunID, result.Symbols, string(result.SignalTimeframe), string(result.PrimaryTimeframe),
		result.StartedAt, result.FinishedAt, result.TotalTrades, result.WinningTrades,
		result.LosingTrades, result.WinRate, result.TotalPnL, result.TotalFees, result.NetPnL,
		result.ProfitFactor, result.MaxDrawdown, result.MaxDrawdownPercent,
	)
	if err != nil {
		return fmt.Errorf("failed to insert result: %w", err)
	}

	for _, t := range trades {
		_, err = tx.Exec(ctx, `
			INSERT INTO backtest_trades (
				run_id, position_id, symbol, direction, entry_time,
				entry_price, entry_reason, exit_time, exit_price,
				exit_reason, quantity, pnl, pnl_percent, fees,
				duration_minutes, targets_hit
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
			result.RunID, t.PositionID, t.Symbol, string(t.Direction), t.EntryTime,
			t.EntryPrice, t.EntryReason, t.ExitTime, t.ExitPrice,
			t.ExitReason, t.Quantity, t.PnL, t.PnLPercent, t.Fees,
			t.DurationMinutes, t.TargetsHit,
		)
		if err != nil {
			return fmt.Errorf("failed to insert trade %s: %w", t.PositionID, err)
		}

		for _, rec := range t.History {
			details, _ := json.Marshal(rec.Details)
			_, err = tx.Exec(ctx, `
				INSERT INTO trade_transitions (
					run_id, position_id, from_state, to_state,
					occurred_at, reason, details
				) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
				result.RunID, t.PositionID, string(rec.From), string(rec.To),
				rec.Time, rec.Reason, details,
			)
			if err != nil {
				return fmt.Errorf("failed to insert transition for %s: %w", t.PositionID, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}

	r.logger.Info().
		Str("run_id", result.RunID).
		Int("trades", len(trades)).
		Msg("Backtest run persisted")
	return nil
}
