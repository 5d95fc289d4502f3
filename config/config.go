package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	BacktestConfig BacktestConfig `json:"backtest"`
	StrategyConfig StrategyConfig `json:"strategy"`
	SwingConfig    SwingConfig    `json:"swing"`
	LoggingConfig  LoggingConfig  `json:"logging"`
	DatabaseConfig DatabaseConfig `json:"database"`
	RedisConfig    RedisConfig    `json:"redis"`
}

// BacktestConfig holds run-level simulation settings.
type BacktestConfig struct {
	Symbols           []string `json:"symbols"`
	SignalTimeframe   string   `json:"signal_timeframe"`   // e.g. "1h"
	PrimaryTimeframe  string   `json:"primary_timeframe"`  // e.g. "4h"
	TimeframeDialect  string   `json:"timeframe_dialect"`  // "", "metatrader", "bybit"
	InitialBalance    float64  `json:"initial_balance"`
	PositionSizePct   float64  `json:"position_size_pct"`
	CommissionPct     float64  `json:"commission_pct"`
	PendingExpiryBars int      `json:"pending_expiry_bars"`
	MaxTargets        int      `json:"max_targets"`
}

// StrategyConfig holds extension-strategy settings.
type StrategyConfig struct {
	EMAPeriod int `json:"ema_period"`
	Lookback  int `json:"lookback"`
	// ExtensionThresholds maps timeframe label -> qualifying magnitude.
	ExtensionThresholds map[string]float64 `json:"extension_thresholds"`
	StopLossPercent     float64            `json:"stop_loss_percent"`
	TakeProfitPercent   float64            `json:"take_profit_percent"`
	TargetStepPercent   float64            `json:"target_step_percent"`
}

// SwingConfig holds swing-point detector parameters.
type SwingConfig struct {
	MinSeparation int     `json:"min_separation"`
	DeviationPct  float64 `json:"deviation_pct"`
	Backstep      int     `json:"backstep"`
}

type LoggingConfig struct {
	Level   string `json:"level"`   // debug, info, warn, error
	Output  string `json:"output"`  // stdout, stderr, or file path
	Console bool   `json:"console"` // human-readable console format
}

type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// Load reads configuration from an optional JSON file, applies environment
// overrides, then defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LoggingConfig.Level = v
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		c.DatabaseConfig.Host = v
		c.DatabaseConfig.Enabled = true
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.DatabaseConfig.Port = port
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		c.DatabaseConfig.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.DatabaseConfig.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		c.DatabaseConfig.Database = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisConfig.Addr = v
		c.RedisConfig.Enabled = true
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.RedisConfig.Password = v
	}
}

func (c *Config) applyDefaults() {
	if c.BacktestConfig.SignalTimeframe == "" {
		c.BacktestConfig.SignalTimeframe = "1h"
	}
	if c.BacktestConfig.PrimaryTimeframe == "" {
		c.BacktestConfig.PrimaryTimeframe = "4h"
	}
	if c.BacktestConfig.InitialBalance == 0 {
		c.BacktestConfig.InitialBalance = 10000
	}
	if c.StrategyConfig.EMAPeriod == 0 {
		c.StrategyConfig.EMAPeriod = 21
	}
	if len(c.StrategyConfig.ExtensionThresholds) == 0 {
		c.StrategyConfig.ExtensionThresholds = map[string]float64{
			"1m": 0.004, "5m": 0.006, "15m": 0.008, "30m": 0.010,
			"1h": 0.015, "4h": 0.025, "1d": 0.040,
		}
	}
	if c.SwingConfig.MinSeparation == 0 {
		c.SwingConfig.MinSeparation = 5
	}
	if c.SwingConfig.DeviationPct == 0 {
		c.SwingConfig.DeviationPct = 0.03
	}
	if c.SwingConfig.Backstep == 0 {
		c.SwingConfig.Backstep = 2
	}
	if c.LoggingConfig.Level == "" {
		c.LoggingConfig.Level = "info"
	}
	if c.DatabaseConfig.Port == 0 {
		c.DatabaseConfig.Port = 5432
	}
	if c.DatabaseConfig.SSLMode == "" {
		c.DatabaseConfig.SSLMode = "disable"
	}
	if c.RedisConfig.Addr == "" {
		c.RedisConfig.Addr = "localhost:6379"
	}
}
