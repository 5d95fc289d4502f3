package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"extension-backtester/config"
	"extension-backtester/internal/backtest"
	"extension-backtester/internal/data"
	"extension-backtester/internal/database"
	"extension-backtester/internal/events"
	"extension-backtester/internal/logging"
	"extension-backtester/internal/swing"
	"extension-backtester/internal/timeframe"
)

// fileSource adapts the CSV loader to the engine's bar source contract.
type fileSource struct {
	files *data.FileSource
}

func (s fileSource) Bars(symbol string, tf timeframe.Timeframe) ([]data.Bar, error) {
	return s.files.Bars(symbol, string(tf))
}

func main() {
	configPath := flag.String("config", "", "path to JSON config file")
	dataDir := flag.String("data", "data", "directory holding SYMBOL_TF.csv bar files")
	symbols := flag.String("symbols", "", "comma-separated symbol override")
	out := flag.String("out", "", "optional CSV path for closed trades")
	flag.Parse()

	godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *symbols != "" {
		cfg.BacktestConfig.Symbols = strings.Split(*symbols, ",")
	}
	if len(cfg.BacktestConfig.Symbols) == 0 {
		fmt.Fprintln(os.Stderr, "no symbols configured; use -symbols or the config file")
		os.Exit(1)
	}

	logger := logging.New(logging.Config{
		Level:   cfg.LoggingConfig.Level,
		Output:  cfg.LoggingConfig.Output,
		Console: cfg.LoggingConfig.Console,
	})

	resolver := timeframe.NewResolver(logger)
	dialect := timeframe.Dialect(cfg.BacktestConfig.TimeframeDialect)
	signalTF := resolver.Canonicalize(cfg.BacktestConfig.SignalTimeframe, dialect)
	primaryTF := resolver.Canonicalize(cfg.BacktestConfig.PrimaryTimeframe, dialect)
	if timeframe.Compare(signalTF, primaryTF) != timeframe.Lower {
		logger.Fatal().
			Str("signal", string(signalTF)).
			Str("primary", string(primaryTF)).
			Msg("Signal timeframe must be lower than the primary timeframe")
	}

	thresholds := make(map[timeframe.Timeframe]float64, len(cfg.StrategyConfig.ExtensionThresholds))
	for raw, v := range cfg.StrategyConfig.ExtensionThresholds {
		thresholds[resolver.Canonicalize(raw, dialect)] = v
	}

	bus := events.NewBus()
	bus.Subscribe(events.EventTradeClosed, func(ev events.Event) {
		logger.Info().
			Interface("symbol", ev.Data["symbol"]).
			Interface("pnl", ev.Data["pnl"]).
			Interface("reason", ev.Data["exit_reason"]).
			Msg("Trade closed")
	})

	engine := backtest.NewEngine(backtest.Config{
		Symbols:          cfg.BacktestConfig.Symbols,
		SignalTimeframe:  signalTF,
		PrimaryTimeframe: primaryTF,
		EMAPeriod:        cfg.StrategyConfig.EMAPeriod,
		Lookback:         cfg.StrategyConfig.Lookback,
		Swing: swing.Params{
			MinSeparation: cfg.SwingConfig.MinSeparation,
			DeviationPct:  cfg.SwingConfig.DeviationPct,
			Backstep:      cfg.SwingConfig.Backstep,
		},
		Thresholds:        thresholds,
		StopLossPercent:   cfg.StrategyConfig.StopLossPercent,
		TakeProfitPercent: cfg.StrategyConfig.TakeProfitPercent,
		TargetStepPercent: cfg.StrategyConfig.TargetStepPercent,
		MaxTargets:        cfg.BacktestConfig.MaxTargets,
		PendingExpiryBars: cfg.BacktestConfig.PendingExpiryBars,
		InitialBalance:    cfg.BacktestConfig.InitialBalance,
		PositionSizePct:   cfg.BacktestConfig.PositionSizePct,
		CommissionPct:     cfg.BacktestConfig.CommissionPct,
	}, logger, bus)

	ctx := context.Background()

	var store *database.RunStateStore
	if cfg.RedisConfig.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Addr,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Msg("Redis unreachable, snapshots fall back to memory")
			client = nil
		}
		store = database.NewRunStateStore(client, logger)
		engine.WithSnapshots(store)
	}

	result, trades, err := engine.Run(ctx, fileSource{files: &data.FileSource{Dir: *dataDir}})
	if err != nil {
		logger.Fatal().Err(err).Msg("Backtest failed")
	}

	printReport(result)

	if *out != "" {
		if err := backtest.WriteTradesCSV(trades, *out); err != nil {
			logger.Error().Err(err).Str("path", *out).Msg("Failed to write trade CSV")
		} else {
			logger.Info().Str("path", *out).Int("trades", len(trades)).Msg("Trades written")
		}
	}

	if cfg.DatabaseConfig.Enabled {
		persistRun(ctx, cfg, logger, result, trades)
	}
	if store != nil {
		if err := store.MarkCompleted(ctx, result.RunID, result.NetPnL); err != nil {
			logger.Warn().Err(err).Msg("Failed to mark run completed in Redis")
		}
	}
}

func persistRun(ctx context.Context, cfg *config.Config, logger zerolog.Logger, result *backtest.Result, trades []backtest.ClosedTrade) {
	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		logger.Error().Err(err).Msg("Database unavailable, skipping persistence")
		return
	}
	defer db.Close()

	repo := database.NewBacktestRepository(db, logger)
	if err := repo.Migrate(ctx); err != nil {
		logger.Error().Err(err).Msg("Migration failed, skipping persistence")
		return
	}
	if err := repo.SaveRun(ctx, result, trades); err != nil {
		logger.Error().Err(err).Msg("Failed to persist run")
	}
}

func printReport(result *backtest.Result) {
	fmt.Printf("\nBacktest %s\n", result.RunID)
	fmt.Printf("Symbols:        %s\n", strings.Join(result.Symbols, ", "))
	fmt.Printf("Timeframes:     %s signal / %s primary\n", result.SignalTimeframe, result.PrimaryTimeframe)
	fmt.Printf("Trades:         %d (%d wins / %d losses, %.1f%% win rate)\n",
		result.TotalTrades, result.WinningTrades, result.LosingTrades, result.WinRate)
	fmt.Printf("PnL:            %.2f gross, %.2f fees, %.2f net\n",
		result.TotalPnL, result.TotalFees, result.NetPnL)
	fmt.Printf("Profit factor:  %.2f\n", result.ProfitFactor)
	fmt.Printf("Max drawdown:   %.2f (%.2f%%)\n", result.MaxDrawdown, result.MaxDrawdownPercent)
	fmt.Printf("Avg duration:   %d minutes\n", result.AvgTradeDurationMinutes)
}
