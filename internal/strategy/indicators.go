package strategy

import (
	"math"

	"extension-backtester/internal/data"
)

// Indicator computes a series aligned with its input bars. Leading entries
// are NaN during the warm-up window.
type Indicator interface {
	Calculate(bars []data.Bar) []float64
}

// EMA is an exponential moving average indicator.
type EMA struct {
	Period int
}

// Calculate returns the EMA series. The first Period-1 entries are NaN; the
// seed value at index Period-1 is the SMA of the warm-up window.
func (e EMA) Calculate(bars []data.Bar) []float64 {
	out := make([]float64, len(bars))
	if e.Period <= 0 || len(bars) < e.Period {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}

	sum := 0.0
	for i := 0; i < e.Period; i++ {
		out[i] = math.NaN()
		sum += bars[i].Close
	}
	out[e.Period-1] = sum / float64(e.Period)

	multiplier := 2.0 / float64(e.Period+1)
	for i := e.Period; i < len(bars); i++ {
		out[i] = bars[i].Close*multiplier + out[i-1]*(1-multiplier)
	}
	return out
}

// SMA is a simple moving average indicator.
type SMA struct {
	Period int
}

func (s SMA) Calculate(bars []data.Bar) []float64 {
	out := make([]float64, len(bars))
	if s.Period <= 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}

	sum := 0.0
	for i := range bars {
		sum += bars[i].Close
		if i >= s.Period {
			sum -= bars[i-s.Period].Close
		}
		if i >= s.Period-1 {
			out[i] = sum / float64(s.Period)
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// Extension is the normalized distance of price from its EMA. It is NaN
// while the EMA is warming up and 0 when the EMA itself is zero, so callers
// treat degenerate inputs as "no signal" instead of hitting a division error.
func Extension(close, ema float64) float64 {
	if math.IsNaN(ema) {
		return math.NaN()
	}
	if ema == 0 {
		return 0
	}
	return (close - ema) / ema
}
