package strategy

import (
	"math"
	"testing"
	"time"

	"extension-backtester/internal/data"
	"extension-backtester/internal/swing"
	"extension-backtester/internal/timeframe"
	"extension-backtester/internal/trade"
)

func barsFromCloses(closes []float64) []data.Bar {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]data.Bar, len(closes))
	for i, c := range closes {
		bars[i] = data.Bar{
			OpenTime: start.Add(time.Duration(i) * time.Minute),
			Open:     c,
			High:     c,
			Low:      c,
			Close:    c,
		}
	}
	return bars
}

func TestEMA_Calculate(t *testing.T) {
	bars := barsFromCloses([]float64{1, 2, 3, 4, 5})
	got := EMA{Period: 3}.Calculate(bars)

	want := []float64{math.NaN(), math.NaN(), 2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if math.IsNaN(want[i]) {
			if !math.IsNaN(got[i]) {
				t.Errorf("ema[%d] = %f, want NaN", i, got[i])
			}
			continue
		}
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Errorf("ema[%d] = %f, want %f", i, got[i], want[i])
		}
	}
}

func TestEMA_ShortInput(t *testing.T) {
	bars := barsFromCloses([]float64{1, 2})
	got := EMA{Period: 5}.Calculate(bars)
	for i, v := range got {
		if !math.IsNaN(v) {
			t.Errorf("ema[%d] = %f, want NaN for input shorter than period", i, v)
		}
	}
}

func TestSMA_Calculate(t *testing.T) {
	bars := barsFromCloses([]float64{2, 4, 6, 8})
	got := SMA{Period: 2}.Calculate(bars)

	if !math.IsNaN(got[0]) {
		t.Errorf("sma[0] = %f, want NaN", got[0])
	}
	want := []float64{0, 3, 5, 7}
	for i := 1; i < len(want); i++ {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Errorf("sma[%d] = %f, want %f", i, got[i], want[i])
		}
	}
}

func TestExtension_Guards(t *testing.T) {
	if v := Extension(100, math.NaN()); !math.IsNaN(v) {
		t.Errorf("Extension with NaN EMA = %f, want NaN", v)
	}
	if v := Extension(100, 0); v != 0 {
		t.Errorf("Extension with zero EMA = %f, want 0", v)
	}
	if v := Extension(110, 100); math.Abs(v-0.1) > 1e-12 {
		t.Errorf("Extension(110, 100) = %f, want 0.1", v)
	}
	if v := Extension(90, 100); math.Abs(v+0.1) > 1e-12 {
		t.Errorf("Extension(90, 100) = %f, want -0.1", v)
	}
}

// frames builds a two-bar signal frame with the given closes and EMAs plus a
// bullish or bearish primary frame.
func frames(prevClose, prevEMA, close, ema, primaryClose, primaryEMA float64) (Frame, Frame) {
	signal := Frame{
		Timeframe: timeframe.H1,
		Bars:      barsFromCloses([]float64{prevClose, close}),
		EMA:       []float64{prevEMA, ema},
	}
	primary := Frame{
		Timeframe: timeframe.H4,
		Bars:      barsFromCloses([]float64{primaryClose}),
		EMA:       []float64{primaryEMA},
	}
	return signal, primary
}

func newTestStrategy() *ExtensionStrategy {
	return NewExtensionStrategy(&ExtensionConfig{
		Symbol:            "BTCUSDT",
		Thresholds:        map[timeframe.Timeframe]float64{timeframe.H1: 0.01},
		StopLossPercent:   2.0,
		TakeProfitPercent: 4.0,
	})
}

func TestEvaluate_LongSetup(t *testing.T) {
	s := newTestStrategy()

	// Stretched 1.5% below EMA and contracting from 3%, primary bullish.
	signal, primary := frames(97, 100, 98.5, 100, 110, 100)
	got, err := s.Evaluate(signal, primary)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected a long signal")
	}
	if got.Direction != trade.Long {
		t.Errorf("direction = %s, want LONG", got.Direction)
	}
	if got.EntryPrice != 98.5 {
		t.Errorf("entry = %f, want 98.5", got.EntryPrice)
	}
	if math.Abs(got.StopLoss-98.5*0.98) > 1e-9 {
		t.Errorf("stop = %f, want %f", got.StopLoss, 98.5*0.98)
	}
	if math.Abs(got.TakeProfit-98.5*1.04) > 1e-9 {
		t.Errorf("target = %f, want %f", got.TakeProfit, 98.5*1.04)
	}
	if math.Abs(got.RiskReward-2.0) > 1e-9 {
		t.Errorf("risk reward = %f, want 2.0", got.RiskReward)
	}
	if got.ExtensionValue >= 0 {
		t.Errorf("extension value = %f, want negative", got.ExtensionValue)
	}
}

func TestEvaluate_ShortSetup(t *testing.T) {
	s := newTestStrategy()

	// Stretched above EMA and contracting, primary bearish.
	signal, primary := frames(103, 100, 101.5, 100, 90, 100)
	got, err := s.Evaluate(signal, primary)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected a short signal")
	}
	if got.Direction != trade.Short {
		t.Errorf("direction = %s, want SHORT", got.Direction)
	}
	if got.StopLoss <= got.EntryPrice {
		t.Errorf("short stop %f should sit above entry %f", got.StopLoss, got.EntryPrice)
	}
	if got.TakeProfit >= got.EntryPrice {
		t.Errorf("short target %f should sit below entry %f", got.TakeProfit, got.EntryPrice)
	}
}

func TestEvaluate_NoSignal(t *testing.T) {
	s := newTestStrategy()

	tests := []struct {
		name                       string
		prevClose, prevEMA         float64
		close, ema                 float64
		primaryClose, primaryEMA   float64
	}{
		{"not stretched", 99.5, 100, 99.8, 100, 110, 100},
		{"expanding away", 98.5, 100, 97, 100, 110, 100},
		{"sign flip between bars", 101.5, 100, 98.5, 100, 110, 100},
		{"primary disagrees", 97, 100, 98.5, 100, 90, 100},
		{"primary flat", 97, 100, 98.5, 100, 100, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signal, primary := frames(tt.prevClose, tt.prevEMA, tt.close, tt.ema, tt.primaryClose, tt.primaryEMA)
			got, err := s.Evaluate(signal, primary)
			if err != nil {
				t.Fatal(err)
			}
			if got != nil {
				t.Errorf("expected no signal, got %+v", got)
			}
		})
	}
}

func TestEvaluate_WarmupYieldsNoSignal(t *testing.T) {
	s := newTestStrategy()

	signal, primary := frames(97, math.NaN(), 98.5, 100, 110, 100)
	got, err := s.Evaluate(signal, primary)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("NaN previous EMA should suppress the signal")
	}
}

func TestEvaluate_MissingThreshold(t *testing.T) {
	s := NewExtensionStrategy(&ExtensionConfig{
		Symbol:     "BTCUSDT",
		Thresholds: map[timeframe.Timeframe]float64{timeframe.M15: 0.01},
	})

	signal, primary := frames(97, 100, 98.5, 100, 110, 100)
	got, err := s.Evaluate(signal, primary)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("unconfigured timeframe should never signal")
	}
}

func TestEvaluate_PivotGate(t *testing.T) {
	s := newTestStrategy()

	signal, primary := frames(97, 100, 98.5, 100, 110, 100)

	// Price already below the most recent swing low invalidates the long.
	signal.Swings = []swing.Point{
		{Index: 0, Kind: swing.Low, Price: 99, Time: signal.Bars[0].OpenTime},
	}
	got, err := s.Evaluate(signal, primary)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("long through a broken swing low should be rejected")
	}

	// A swing low beneath price does not block the entry.
	signal.Swings[0].Price = 95
	got, err = s.Evaluate(signal, primary)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Error("swing low below price should not gate the long")
	}
}

func TestEvaluate_PivotGateShort(t *testing.T) {
	s := newTestStrategy()

	signal, primary := frames(103, 100, 101.5, 100, 90, 100)
	signal.Swings = []swing.Point{
		{Index: 0, Kind: swing.High, Price: 101, Time: signal.Bars[0].OpenTime},
	}
	got, err := s.Evaluate(signal, primary)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("short above a broken swing high should be rejected")
	}
}

func TestNewExtensionStrategy_Defaults(t *testing.T) {
	s := NewExtensionStrategy(&ExtensionConfig{Symbol: "BTCUSDT"})
	if s.config.StopLossPercent != 2.0 {
		t.Errorf("default stop = %f, want 2.0", s.config.StopLossPercent)
	}
	if s.config.TakeProfitPercent != 4.0 {
		t.Errorf("default target = %f, want 4.0", s.config.TakeProfitPercent)
	}
	if s.Name() != "Extension-BTCUSDT" {
		t.Errorf("name = %q", s.Name())
	}
	if s.GetSymbol() != "BTCUSDT" {
		t.Errorf("symbol = %q", s.GetSymbol())
	}
}
