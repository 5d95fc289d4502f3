// Package timeframe normalizes heterogeneous candle-interval notations into a
// single canonical scale and exposes the ordering relationships the rest of
// the system is built on.
package timeframe

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Timeframe is a canonical candle interval label ("1m", "15m", "1h", ...).
type Timeframe string

const (
	M1  Timeframe = "1m"
	M5  Timeframe = "5m"
	M15 Timeframe = "15m"
	M30 Timeframe = "30m"
	H1  Timeframe = "1h"
	H4  Timeframe = "4h"
	D1  Timeframe = "1d"
	W1  Timeframe = "1w"
	MN1 Timeframe = "1M"
)

// hierarchy is the canonical scale ordered by strictly increasing duration.
var hierarchy = []Timeframe{M1, M5, M15, M30, H1, H4, D1, W1, MN1}

// durations maps each canonical timeframe to its length in minutes.
var durations = map[Timeframe]int{
	M1:  1,
	M5:  5,
	M15: 15,
	M30: 30,
	H1:  60,
	H4:  240,
	D1:  1440,
	W1:  10080,
	MN1: 43200,
}

// Relation is the result of comparing two timeframes by duration.
type Relation int

const (
	Lower Relation = iota - 1
	Equal
	Higher
)

func (r Relation) String() string {
	switch r {
	case Lower:
		return "LOWER"
	case Higher:
		return "HIGHER"
	default:
		return "EQUAL"
	}
}

// ErrInvalidAggregation is returned when the aggregation target is shorter
// than the source timeframe.
var ErrInvalidAggregation = errors.New("aggregation target below source timeframe")

// IsCanonical reports whether tf is part of the canonical hierarchy.
func IsCanonical(tf Timeframe) bool {
	_, ok := durations[tf]
	return ok
}

// DurationMinutes returns the timeframe length in minutes, or 0 for labels
// outside the canonical hierarchy.
func DurationMinutes(tf Timeframe) int {
	return durations[tf]
}

// Compare orders two timeframes by duration. Unknown labels carry duration 0
// and therefore sort below every canonical timeframe.
func Compare(a, b Timeframe) Relation {
	da, db := durations[a], durations[b]
	switch {
	case da < db:
		return Lower
	case da > db:
		return Higher
	default:
		return Equal
	}
}

// NextHigher returns the next rung up the canonical scale, or "" at the top
// (and for unknown labels).
func NextHigher(tf Timeframe) Timeframe {
	for i, h := range hierarchy {
		if h == tf {
			if i+1 < len(hierarchy) {
				return hierarchy[i+1]
			}
			return ""
		}
	}
	return ""
}

// SequenceAbove returns every canonical timeframe strictly higher than tf,
// lowest first. This is the target-progression ladder: target 1 maps to the
// first rung, target 2 to the second, and so on.
func SequenceAbove(tf Timeframe) []Timeframe {
	d := durations[tf]
	out := make([]Timeframe, 0, len(hierarchy))
	for _, h := range hierarchy {
		if durations[h] > d {
			out = append(out, h)
		}
	}
	return out
}

// AggregationFactor returns the ratio of the target duration to the source
// duration, e.g. ("15m", "1h") -> 4.0. Aggregating downward is an error.
func AggregationFactor(source, target Timeframe) (float64, error) {
	ds, dt := durations[source], durations[target]
	if ds == 0 || dt == 0 {
		return 0, fmt.Errorf("%w: %q -> %q", ErrInvalidAggregation, source, target)
	}
	if dt < ds {
		return 0, fmt.Errorf("%w: %q (%dm) -> %q (%dm)", ErrInvalidAggregation, source, ds, target, dt)
	}
	return float64(dt) / float64(ds), nil
}

// Dialect names a source notation for interval labels.
type Dialect string

const (
	DialectNative     Dialect = ""
	DialectMetaTrader Dialect = "metatrader"
	DialectBybit      Dialect = "bybit"
)

var metatraderLabels = map[string]Timeframe{
	"M1": M1, "M5": M5, "M15": M15, "M30": M30,
	"H1": H1, "H4": H4, "D1": D1, "W1": W1, "MN1": MN1, "MN": MN1,
}

var bybitLabels = map[string]Timeframe{
	"1": M1, "5": M5, "15": M15, "30": M30,
	"60": H1, "240": H4, "D": D1, "W": W1, "M": MN1,
}

// Resolver canonicalizes raw interval labels. Unknown labels are logged and
// passed through unchanged so upstream pipelines keep running; they carry
// zero duration and order below everything canonical.
type Resolver struct {
	logger zerolog.Logger
}

// NewResolver creates a resolver with a component-tagged logger.
func NewResolver(logger zerolog.Logger) *Resolver {
	return &Resolver{
		logger: logger.With().Str("component", "TimeframeResolver").Logger(),
	}
}

// Canonicalize parses a free-form or broker-specific label into canonical
// form. The tolerant pass-through on unrecognized input is deliberate.
func (r *Resolver) Canonicalize(raw string, dialect Dialect) Timeframe {
	switch dialect {
	case DialectMetaTrader:
		if tf, ok := metatraderLabels[raw]; ok {
			return tf
		}
	case DialectBybit:
		if tf, ok := bybitLabels[raw]; ok {
			return tf
		}
	}
	if IsCanonical(Timeframe(raw)) {
		return Timeframe(raw)
	}
	// Cross-dialect fallback: broker feeds do not always declare their
	// notation, so try the known tables before passing through.
	if tf, ok := metatraderLabels[raw]; ok {
		return tf
	}
	if tf, ok := bybitLabels[raw]; ok {
		return tf
	}

	r.logger.Warn().
		Str("raw", raw).
		Str("dialect", string(dialect)).
		Msg("Unrecognized timeframe, passing through unchanged")
	return Timeframe(raw)
}
