package trade

import (
	"time"

	"github.com/google/uuid"

	"extension-backtester/internal/timeframe"
)

// Direction is the side of a position.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// State is a position lifecycle state.
type State string

const (
	StatePending   State = "PENDING"
	StateActive    State = "ACTIVE"
	StateTarget1   State = "TARGET1"
	StateTarget2   State = "TARGET2"
	StateTarget3   State = "TARGET3"
	StateTarget4   State = "TARGET4"
	StateStopped   State = "STOPPED"
	StateCompleted State = "COMPLETED"
	StateCanceled  State = "CANCELED"
	StateExpired   State = "EXPIRED"
)

// TargetHit records one achieved profit target.
type TargetHit struct {
	Number    int                 `json:"number"`
	Price     float64             `json:"price"`
	Time      time.Time           `json:"time"`
	Timeframe timeframe.Timeframe `json:"timeframe"`
}

// Transition is one accepted state change. Records are append-only and never
// mutated after creation.
type Transition struct {
	From    State                  `json:"from"`
	To      State                  `json:"to"`
	Time    time.Time              `json:"time"`
	Reason  string                 `json:"reason"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Position is one trade's mutable aggregate. It is exclusively owned by the
// backtest run that created it; callers must serialize access.
type Position struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"direction"`

	EntryTime   *time.Time `json:"entry_time,omitempty"`
	EntryPrice  float64    `json:"entry_price"`
	EntryReason string     `json:"entry_reason,omitempty"`

	StopLevel       float64             `json:"stop_level"`
	CurrentTarget   int                 `json:"current_target"`
	TargetTimeframe timeframe.Timeframe `json:"target_timeframe"`
	TargetsHit      []TargetHit         `json:"targets_hit,omitempty"`

	State          State        `json:"state"`
	StateChangedAt time.Time    `json:"state_changed_at"`
	History        []Transition `json:"state_history"`

	// Terminal-only fields.
	ExitTime   *time.Time `json:"exit_time,omitempty"`
	ExitPrice  *float64   `json:"exit_price,omitempty"`
	ExitReason string     `json:"exit_reason,omitempty"`
	Profit     float64    `json:"profit"`
	ProfitPct  float64    `json:"profit_pct"`
}

// NewPosition creates a PENDING position for a proposed entry.
func NewPosition(symbol string, direction Direction, entryPrice, stopLevel float64, tf timeframe.Timeframe) *Position {
	return &Position{
		ID:              uuid.New().String(),
		Symbol:          symbol,
		Direction:       direction,
		EntryPrice:      entryPrice,
		StopLevel:       stopLevel,
		CurrentTarget:   1,
		TargetTimeframe: tf,
		State:           StatePending,
	}
}

// CurrentState reads the position state. An unset state is treated as
// PENDING; freshly constructed aggregates have not transitioned yet.
func (p *Position) CurrentState() State {
	if p.State == "" {
		return StatePending
	}
	return p.State
}
