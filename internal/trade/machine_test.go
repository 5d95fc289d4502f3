package trade

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func details(price float64, at time.Time) map[string]interface{} {
	return map[string]interface{}{"price": price, "time": at, "timeframe": "1h"}
}

func TestValidNextStates_Table(t *testing.T) {
	tests := []struct {
		state State
		want  []State
	}{
		{StatePending, []State{StateActive, StateCanceled, StateExpired}},
		{StateActive, []State{StateTarget1, StateStopped, StateCompleted}},
		{StateTarget1, []State{StateTarget2, StateStopped, StateCompleted}},
		{StateTarget2, []State{StateTarget3, StateStopped, StateCompleted}},
		{StateTarget3, []State{StateTarget4, StateStopped, StateCompleted}},
		{StateTarget4, []State{StateStopped, StateCompleted}},
		{StateStopped, nil},
		{StateCompleted, nil},
		{StateCanceled, nil},
		{StateExpired, nil},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			p := &Position{State: tt.state}
			got := ValidNextStates(p)
			if len(got) != len(tt.want) {
				t.Fatalf("ValidNextStates(%s) = %v, want %v", tt.state, got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("ValidNextStates(%s)[%d] = %s, want %s", tt.state, i, got[i], tt.want[i])
				}
			}
			if IsTerminal(p) != (len(tt.want) == 0) {
				t.Errorf("IsTerminal(%s) = %v, want %v", tt.state, IsTerminal(p), len(tt.want) == 0)
			}
		})
	}
}

func TestCurrentState_DefaultsToPending(t *testing.T) {
	p := &Position{}
	if p.CurrentState() != StatePending {
		t.Errorf("unset state should read as PENDING, got %s", p.CurrentState())
	}

	m := NewManager(zerolog.Nop())
	if err := m.Transition(p, StateActive, "fill", details(100, time.Now())); err != nil {
		t.Errorf("transition from implicit PENDING should succeed: %v", err)
	}
}

func TestTransition_InvalidIsAtomic(t *testing.T) {
	m := NewManager(zerolog.Nop())
	now := time.Now().UTC()

	p := NewPosition("BTCUSDT", Long, 100, 98, "1h")
	if err := m.Transition(p, StateActive, "fill", details(100, now)); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(p, StateTarget1, "hit", details(103, now)); err != nil {
		t.Fatal(err)
	}

	stateBefore := p.State
	stopBefore := p.StopLevel
	historyBefore := len(p.History)
	targetsBefore := len(p.TargetsHit)

	err := m.Transition(p, StateActive, "revert", details(101, now))
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	if p.State != stateBefore {
		t.Errorf("state mutated by rejected transition: %s -> %s", stateBefore, p.State)
	}
	if p.StopLevel != stopBefore {
		t.Errorf("stop level mutated by rejected transition: %f -> %f", stopBefore, p.StopLevel)
	}
	if len(p.History) != historyBefore {
		t.Errorf("history grew on rejected transition: %d -> %d", historyBefore, len(p.History))
	}
	if len(p.TargetsHit) != targetsBefore {
		t.Errorf("targets hit mutated by rejected transition")
	}
}

func TestTransition_LifecycleScenario(t *testing.T) {
	m := NewManager(zerolog.Nop())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	p := NewPosition("BTCUSDT", Long, 100, 98, "1h")

	if err := m.Transition(p, StateActive, "fill", details(100, now)); err != nil {
		t.Fatal(err)
	}
	if p.EntryTime == nil || !p.EntryTime.Equal(now) {
		t.Error("entry time not stamped on fill")
	}
	if p.EntryPrice != 100 {
		t.Errorf("entry price = %f, want 100", p.EntryPrice)
	}

	if err := m.Transition(p, StateTarget1, "hit", details(103, now.Add(time.Hour))); err != nil {
		t.Fatal(err)
	}
	if p.StopLevel != p.EntryPrice {
		t.Errorf("first target should move stop to breakeven: stop %f, entry %f", p.StopLevel, p.EntryPrice)
	}
	if len(p.TargetsHit) != 1 || p.TargetsHit[0].Number != 1 || p.TargetsHit[0].Price != 103 {
		t.Errorf("target-hit record wrong: %+v", p.TargetsHit)
	}
	if p.CurrentTarget != 2 {
		t.Errorf("current target = %d, want 2", p.CurrentTarget)
	}
	if p.TargetTimeframe != "4h" {
		t.Errorf("target timeframe should climb to 4h, got %s", p.TargetTimeframe)
	}

	if len(p.History) != 2 {
		t.Fatalf("history length = %d, want 2", len(p.History))
	}
	if p.History[1].From != StateActive || p.History[1].To != StateTarget1 {
		t.Errorf("history record wrong: %+v", p.History[1])
	}
}

func TestTransition_StopAfterTarget2(t *testing.T) {
	m := NewManager(zerolog.Nop())
	now := time.Now().UTC()

	p := NewPosition("ETHUSDT", Long, 100, 98, "1h")
	steps := []struct {
		to    State
		price float64
	}{
		{StateActive, 100},
		{StateTarget1, 105},
		{StateTarget2, 110},
	}
	for _, s := range steps {
		if err := m.Transition(p, s.to, "step", details(s.price, now)); err != nil {
			t.Fatal(err)
		}
	}

	if p.StopLevel != 105 {
		t.Fatalf("stop should ratchet to target-1 price 105, got %f", p.StopLevel)
	}

	if err := m.Transition(p, StateStopped, "stop", details(105, now)); err != nil {
		t.Fatal(err)
	}
	if p.ExitPrice == nil || *p.ExitPrice != 105 {
		t.Errorf("exit price = %v, want 105", p.ExitPrice)
	}
	if p.Profit != 5 {
		t.Errorf("profit = %f, want 5", p.Profit)
	}
	if p.ProfitPct != 5.0 {
		t.Errorf("profit pct = %f, want 5.0", p.ProfitPct)
	}
	if !IsTerminal(p) {
		t.Error("STOPPED position should be terminal")
	}
}

func TestStopRatchet_Monotonic(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name      string
		direction Direction
		entry     float64
		stop      float64
		prices    []float64 // target fill prices 1..4
	}{
		{"long", Long, 100, 98, []float64{103, 106, 109, 112}},
		{"short", Short, 100, 102, []float64{97, 94, 91, 88}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(zerolog.Nop())
			p := NewPosition(tt.name, tt.direction, tt.entry, tt.stop, "1h")
			if err := m.Transition(p, StateActive, "fill", details(tt.entry, now)); err != nil {
				t.Fatal(err)
			}

			ladder := []State{StateTarget1, StateTarget2, StateTarget3, StateTarget4}
			prevStop := p.StopLevel
			for i, to := range ladder {
				if err := m.Transition(p, to, "hit", details(tt.prices[i], now)); err != nil {
					t.Fatal(err)
				}
				if tt.direction == Long && p.StopLevel < prevStop {
					t.Errorf("long stop ratcheted backward at target %d: %f -> %f", i+1, prevStop, p.StopLevel)
				}
				if tt.direction == Short && p.StopLevel > prevStop {
					t.Errorf("short stop ratcheted backward at target %d: %f -> %f", i+1, prevStop, p.StopLevel)
				}
				prevStop = p.StopLevel
			}

			if len(p.TargetsHit) != 4 {
				t.Errorf("targets hit = %d, want 4", len(p.TargetsHit))
			}
		})
	}
}

func TestTransition_PendingExpiry(t *testing.T) {
	m := NewManager(zerolog.Nop())
	p := NewPosition("BTCUSDT", Long, 100, 98, "1h")

	if err := m.Transition(p, StateExpired, "Entry window expired", details(100, time.Now())); err != nil {
		t.Fatal(err)
	}
	if !IsTerminal(p) {
		t.Error("EXPIRED position should be terminal")
	}
	if p.ExitReason == "" {
		t.Error("expiry should record an exit reason")
	}
	if p.ExitPrice != nil {
		t.Error("expiry should not fabricate an exit price")
	}
}

func TestRegister_CustomHook(t *testing.T) {
	m := NewManager(zerolog.Nop())
	called := false
	m.Register(StatePending, StateCanceled, func(p *Position, rec Transition) {
		called = true
		p.ExitReason = "custom"
	})

	p := NewPosition("BTCUSDT", Long, 100, 98, "1h")
	if err := m.Transition(p, StateCanceled, "cancel", nil); err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Error("registered hook did not run")
	}
	if p.ExitReason != "custom" {
		t.Errorf("hook mutation lost: exit reason %q", p.ExitReason)
	}
}
