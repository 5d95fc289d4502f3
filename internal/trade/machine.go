// Package trade implements the progressive multi-target trade lifecycle.
//
// A position advances PENDING -> ACTIVE -> TARGET1..TARGET4 and terminates in
// STOPPED, COMPLETED, CANCELED or EXPIRED. Every accepted transition appends
// an immutable audit record and runs the side-effect hook registered for that
// (from, to) pair.
package trade

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"extension-backtester/internal/timeframe"
)

// ErrInvalidTransition is returned when the requested state is not reachable
// from the position's current state. The position is left unmodified.
var ErrInvalidTransition = errors.New("invalid state transition")

// transitions is the full lifecycle table. Terminal states have no entry.
var transitions = map[State][]State{
	StatePending: {StateActive, StateCanceled, StateExpired},
	StateActive:  {StateTarget1, StateStopped, StateCompleted},
	StateTarget1: {StateTarget2, StateStopped, StateCompleted},
	StateTarget2: {StateTarget3, StateStopped, StateCompleted},
	StateTarget3: {StateTarget4, StateStopped, StateCompleted},
	StateTarget4: {StateStopped, StateCompleted},
}

// ValidNextStates returns the states reachable from the position's current
// state. Terminal states yield an empty set.
func ValidNextStates(p *Position) []State {
	allowed := transitions[p.CurrentState()]
	out := make([]State, len(allowed))
	copy(out, allowed)
	return out
}

// IsTerminal reports whether the position can transition no further.
func IsTerminal(p *Position) bool {
	return len(transitions[p.CurrentState()]) == 0
}

// SideEffect runs after a transition has been accepted and recorded. Effects
// mutate the position; they cannot veto the transition.
type SideEffect func(p *Position, rec Transition)

type statePair struct {
	from, to State
}

// Manager validates and applies position transitions. Construct one per
// backtest run; there is no process-wide instance.
type Manager struct {
	logger  zerolog.Logger
	effects map[statePair]SideEffect
}

// NewManager creates a manager with the default side effects registered.
func NewManager(logger zerolog.Logger) *Manager {
	m := &Manager{
		logger:  logger.With().Str("component", "TradeManager").Logger(),
		effects: make(map[statePair]SideEffect),
	}
	m.registerDefaults()
	return m
}

// Register installs (or replaces) the side effect for one (from, to) pair.
// New hooks can be added without touching the dispatcher.
func (m *Manager) Register(from, to State, fn SideEffect) {
	m.effects[statePair{from, to}] = fn
}

// Transition applies one validated state change. On rejection the position,
// including its history, is left byte-for-byte unchanged.
func (m *Manager) Transition(p *Position, to State, reason string, details map[string]interface{}) error {
	from := p.CurrentState()

	if !allowedTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	rec := Transition{
		From:    from,
		To:      to,
		Time:    detailTime(details),
		Reason:  reason,
		Details: details,
	}

	p.History = append(p.History, rec)
	p.State = to
	p.StateChangedAt = rec.Time

	if fn, ok := m.effects[statePair{from, to}]; ok {
		fn(p, rec)
	}

	m.logger.Debug().
		Str("position_id", p.ID).
		Str("symbol", p.Symbol).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("reason", reason).
		Msg("Position transitioned")

	return nil
}

func allowedTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// registerDefaults wires the standard lifecycle actions: entry stamping on
// fill, breakeven then target-price stop ratchets as targets hit, and exit
// stamping with signed profit on every terminal close.
func (m *Manager) registerDefaults() {
	m.Register(StatePending, StateActive, stampEntry)

	m.Register(StateActive, StateTarget1, func(p *Position, rec Transition) {
		// First target moves the stop to breakeven.
		recordTargetHit(p, rec, 1, p.EntryPrice)
	})
	m.Register(StateTarget1, StateTarget2, func(p *Position, rec Transition) {
		recordTargetHit(p, rec, 2, lastTargetPrice(p))
	})
	m.Register(StateTarget2, StateTarget3, func(p *Position, rec Transition) {
		recordTargetHit(p, rec, 3, lastTargetPrice(p))
	})
	m.Register(StateTarget3, StateTarget4, func(p *Position, rec Transition) {
		recordTargetHit(p, rec, 4, lastTargetPrice(p))
	})

	for _, from := range []State{StateActive, StateTarget1, StateTarget2, StateTarget3, StateTarget4} {
		m.Register(from, StateStopped, func(p *Position, rec Transition) {
			stampExit(p, rec, "Stop triggered")
		})
		m.Register(from, StateCompleted, func(p *Position, rec Transition) {
			stampExit(p, rec, "All targets reached")
		})
	}

	m.Register(StatePending, StateCanceled, func(p *Position, rec Transition) {
		p.ExitReason = nonEmpty(rec.Reason, "Canceled before fill")
	})
	m.Register(StatePending, StateExpired, func(p *Position, rec Transition) {
		p.ExitReason = nonEmpty(rec.Reason, "Entry window expired")
	})
}

func stampEntry(p *Position, rec Transition) {
	t := rec.Time
	p.EntryTime = &t
	if price, ok := detailFloat(rec.Details, "price"); ok {
		p.EntryPrice = price
	}
	if p.EntryReason == "" {
		p.EntryReason = rec.Reason
	}
}

// recordTargetHit appends the target-hit record, ratchets the stop to the
// given level and advances the target ladder one rung.
func recordTargetHit(p *Position, rec Transition, number int, newStop float64) {
	price, ok := detailFloat(rec.Details, "price")
	if !ok {
		price = p.EntryPrice
	}

	tf := p.TargetTimeframe
	if raw, ok := rec.Details["timeframe"].(string); ok && raw != "" {
		tf = timeframe.Timeframe(raw)
	}

	p.TargetsHit = append(p.TargetsHit, TargetHit{
		Number:    number,
		Price:     price,
		Time:      rec.Time,
		Timeframe: tf,
	})

	// The stop never moves against the trade.
	if favorable(p.Direction, newStop, p.StopLevel) {
		p.StopLevel = newStop
	}

	p.CurrentTarget = number + 1
	if next := timeframe.NextHigher(tf); next != "" {
		p.TargetTimeframe = next
	}
}

func stampExit(p *Position, rec Transition, fallbackReason string) {
	t := rec.Time
	p.ExitTime = &t
	p.ExitReason = nonEmpty(rec.Reason, fallbackReason)

	exitPrice := p.EntryPrice
	if price, ok := detailFloat(rec.Details, "price"); ok {
		exitPrice = price
	}
	p.ExitPrice = &exitPrice

	if p.Direction == Short {
		p.Profit = p.EntryPrice - exitPrice
	} else {
		p.Profit = exitPrice - p.EntryPrice
	}
	if p.EntryPrice != 0 {
		p.ProfitPct = p.Profit / p.EntryPrice * 100
	}
}

// lastTargetPrice returns the most recent target-hit price, falling back to
// the entry when no target has been recorded.
func lastTargetPrice(p *Position) float64 {
	if n := len(p.TargetsHit); n > 0 {
		return p.TargetsHit[n-1].Price
	}
	return p.EntryPrice
}

// favorable reports whether candidate is at least as good as current for the
// given direction.
func favorable(d Direction, candidate, current float64) bool {
	if d == Short {
		return candidate <= current
	}
	return candidate >= current
}

func detailFloat(details map[string]interface{}, key string) (float64, bool) {
	if details == nil {
		return 0, false
	}
	switch v := details[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func detailTime(details map[string]interface{}) time.Time {
	if details != nil {
		if t, ok := details["time"].(time.Time); ok {
			return t
		}
	}
	return time.Now().UTC()
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
