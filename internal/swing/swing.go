// Package swing implements a single-pass ZigZag swing-point detector.
//
// The detector walks a bar series once, tracking the running extreme of the
// current trend leg. A provisional reversal is committed only after price has
// moved Backstep bars past the extreme, which suppresses noise-driven flips.
package swing

import (
	"time"

	"extension-backtester/internal/data"
)

// Kind tags a swing point as a local high or low.
type Kind string

const (
	High Kind = "HIGH"
	Low  Kind = "LOW"
)

// Classification relates a swing point to the prior point of the same kind.
type Classification string

const (
	HigherHigh   Classification = "HIGHER_HIGH"
	LowerHigh    Classification = "LOWER_HIGH"
	HigherLow    Classification = "HIGHER_LOW"
	LowerLow     Classification = "LOWER_LOW"
	Unclassified Classification = ""
)

// Point is one emitted swing point. Points are immutable once emitted.
type Point struct {
	Index          int            `json:"index"`
	Price          float64        `json:"price"`
	Kind           Kind           `json:"kind"`
	Time           time.Time      `json:"time"`
	Classification Classification `json:"classification,omitempty"`
}

// Params configures the detector.
type Params struct {
	// MinSeparation is the seed-window length; fewer bars yield no points.
	MinSeparation int `json:"min_separation"`
	// DeviationPct is the retracement fraction (0.05 = 5%) that flags a
	// provisional reversal away from the running extreme.
	DeviationPct float64 `json:"deviation_pct"`
	// Backstep is the confirmation delay in bars before a provisional
	// reversal is committed.
	Backstep int `json:"backstep"`
}

// Detect scans bars and emits alternating high/low swing points. Series
// shorter than the seed window return nil rather than an error. Extremes use
// strict comparisons, so an exact tie never moves an extreme: first seen wins.
func Detect(bars []data.Bar, p Params) []Point {
	if p.MinSeparation <= 0 || len(bars) < p.MinSeparation {
		return nil
	}

	// Seed: the most recent extreme inside the window decides the starting
	// trend. A later high means the low was already passed, so the scan
	// starts in a down leg hunting that low's successor, and vice versa.
	hiIdx, loIdx := 0, 0
	for i := 1; i < p.MinSeparation; i++ {
		if bars[i].High > bars[hiIdx].High {
			hiIdx = i
		}
		if bars[i].Low < bars[loIdx].Low {
			loIdx = i
		}
	}
	down := hiIdx >= loIdx

	var points []Point

	// Running extreme of the current leg and the counter-extreme since the
	// last committed pivot.
	extIdx := loIdx
	counterIdx := hiIdx
	if !down {
		extIdx = hiIdx
		counterIdx = loIdx
	}

	emit := func(idx int, kind Kind) {
		price := bars[idx].Low
		if kind == High {
			price = bars[idx].High
		}
		points = append(points, Point{
			Index: idx,
			Price: price,
			Kind:  kind,
			Time:  bars[idx].OpenTime,
		})
	}

	for i := p.MinSeparation; i < len(bars); i++ {
		if down {
			if bars[i].Low < bars[extIdx].Low {
				extIdx = i
				counterIdx = i
			}
			// (a) a new high above the running high since the last pivot,
			// (b) a rally beyond the deviation band off the running low.
			overrun := bars[i].High > bars[counterIdx].High
			if overrun {
				counterIdx = i
			}
			reversal := overrun || bars[i].High > bars[extIdx].Low*(1+p.DeviationPct)
			if reversal && i-extIdx >= p.Backstep {
				emit(extIdx, Low)
				down = false
				extIdx = i
				counterIdx = i
			}
		} else {
			if bars[i].High > bars[extIdx].High {
				extIdx = i
				counterIdx = i
			}
			undercut := bars[i].Low < bars[counterIdx].Low
			if undercut {
				counterIdx = i
			}
			reversal := undercut || bars[i].Low < bars[extIdx].High*(1-p.DeviationPct)
			if reversal && i-extIdx >= p.Backstep {
				emit(extIdx, High)
				down = true
				extIdx = i
				counterIdx = i
			}
		}
	}

	// The last open extreme closes the sequence even without backstep
	// confirmation.
	if down {
		emit(extIdx, Low)
	} else {
		emit(extIdx, High)
	}

	return Classify(points)
}

// Classify labels each point relative to the prior point of the same kind.
// The first point of each kind stays unclassified. Re-running over a fixed
// sequence yields identical labels.
func Classify(points []Point) []Point {
	lastHigh, lastLow := -1, -1
	for i := range points {
		switch points[i].Kind {
		case High:
			if lastHigh >= 0 {
				if points[i].Price > points[lastHigh].Price {
					points[i].Classification = HigherHigh
				} else {
					points[i].Classification = LowerHigh
				}
			}
			lastHigh = i
		case Low:
			if lastLow >= 0 {
				if points[i].Price > points[lastLow].Price {
					points[i].Classification = HigherLow
				} else {
					points[i].Classification = LowerLow
				}
			}
			lastLow = i
		}
	}
	return points
}

// MostRecent scans an index-sorted point list from the end for the newest
// point of the given kind. A maxLookback > 0 bounds the scan to that many
// points from the tail. Returns nil when nothing matches.
func MostRecent(kind Kind, points []Point, maxLookback int) *Point {
	limit := len(points)
	if maxLookback > 0 && maxLookback < limit {
		limit = maxLookback
	}
	for i := 0; i < limit; i++ {
		p := points[len(points)-1-i]
		if p.Kind == kind {
			return &p
		}
	}
	return nil
}
