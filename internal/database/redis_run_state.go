// Redis-backed snapshots of open position state, keyed per run and symbol.
// When Redis is unavailable the store falls back to an in-memory cache so a
// run keeps going without external infrastructure.
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"extension-backtester/internal/trade"
)

const (
	// positionKeyPrefix is the prefix for position snapshot keys.
	// Format: backtest:position:{runID}:{symbol}
	positionKeyPrefix = "backtest:position"

	// positionStateTTL bounds how long snapshots outlive their run.
	positionStateTTL = 24 * time.Hour
)

// RunStateStore persists in-flight position snapshots.
type RunStateStore struct {
	client *redis.Client
	logger zerolog.Logger

	mu       sync.RWMutex
	fallback map[string][]byte
	degraded bool
}

// NewRunStateStore connects to Redis; a nil client selects the in-memory
// fallback from the start.
func NewRunStateStore(client *redis.Client, logger zerolog.Logger) *RunStateStore {
	s := &RunStateStore{
		client:   client,
		logger:   logger.With().Str("component", "RunStateStore").Logger(),
		fallback: make(map[string][]byte),
		degraded: client == nil,
	}
	if s.degraded {
		s.logger.Warn().Msg("Redis unavailable, using in-memory position snapshots")
	}
	return s
}

func positionKey(runID, symbol string) string {
	return fmt.Sprintf("%s:%s:%s", positionKeyPrefix, runID, symbol)
}

func (s *RunStateStore) isDegraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

// SavePosition snapshots one position.
func (s *RunStateStore) SavePosition(ctx context.Context, runID string, p *trade.Position) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal position %s: %w", p.ID, err)
	}
	key := positionKey(runID, p.Symbol)

	if !s.isDegraded() {
		if err := s.client.Set(ctx, key, raw, positionStateTTL).Err(); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("Redis write failed, degrading to in-memory store")
			s.mu.Lock()
			s.degraded = true
			s.mu.Unlock()
		} else {
			return nil
		}
	}

	s.mu.Lock()
	s.fallback[key] = raw
	s.mu.Unlock()
	return nil
}

// LoadPosition restores a snapshot, returning nil when none exists.
func (s *RunStateStore) LoadPosition(ctx context.Context, runID, symbol string) (*trade.Position, error) {
	key := positionKey(runID, symbol)

	var raw []byte
	if !s.isDegraded() {
		val, err := s.client.Get(ctx, key).Bytes()
		switch {
		case err == redis.Nil:
			return nil, nil
		case err != nil:
			s.logger.Warn().Err(err).Str("key", key).Msg("Redis read failed, checking in-memory store")
		default:
			raw = val
		}
	}

	if raw == nil {
		s.mu.RLock()
		raw = s.fallback[key]
		s.mu.RUnlock()
		if raw == nil {
			return nil, nil
		}
	}

	var p trade.Position
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal position snapshot: %w", err)
	}
	return &p, nil
}

// MarkCompleted writes a terminal marker for the run so pollers can tell a
// finished run from a crashed one.
func (s *RunStateStore) MarkCompleted(ctx context.Context, runID string, netPnL float64) error {
	key := fmt.Sprintf("backtest:run:%s:completed", runID)
	raw, err := json.Marshal(map[string]interface{}{
		"net_pnl":     netPnL,
		"finished_at": time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	if !s.isDegraded() {
		if err := s.client.Set(ctx, key, raw, positionStateTTL).Err(); err != nil {
			return fmt.Errorf("failed to mark run %s completed: %w", runID, err)
		}
		return nil
	}

	s.mu.Lock()
	s.fallback[key] = raw
	s.mu.Unlock()
	return nil
}

// DeletePosition drops a snapshot after the position goes terminal.
func (s *RunStateStore) DeletePosition(ctx context.Context, runID, symbol string) {
	key := positionKey(runID, symbol)
	if !s.isDegraded() {
		if err := s.client.Del(ctx, key).Err(); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("Redis delete failed")
		}
	}
	s.mu.Lock()
	delete(s.fallback, key)
	s.mu.Unlock()
}
