package data

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// LoadCSV reads an OHLCV series from path. Expected columns:
// timestamp,open,high,low,close,volume. Timestamp is either unix
// milliseconds or RFC3339. A header row is skipped when present.
func LoadCSV(path string) ([]Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bar file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 6

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	bars := make([]Bar, 0, len(records))
	for i, rec := range records {
		ts, err := parseTimestamp(rec[0])
		if err != nil {
			if i == 0 {
				// Header row
				continue
			}
			return nil, fmt.Errorf("row %d: bad timestamp %q: %w", i, rec[0], err)
		}

		var vals [5]float64
		for j := 1; j < 6; j++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[j]), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d col %d: %w", i, j, err)
			}
			vals[j-1] = v
		}

		bars = append(bars, Bar{
			OpenTime: ts,
			Open:     vals[0],
			High:     vals[1],
			Low:      vals[2],
			Close:    vals[3],
			Volume:   vals[4],
		})
	}

	sort.Slice(bars, func(a, b int) bool { return bars[a].OpenTime.Before(bars[b].OpenTime) })
	return bars, nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		if ms > 1e12 {
			return time.Unix(0, ms*int64(time.Millisecond)).UTC(), nil
		}
		return time.Unix(ms, 0).UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}

// FileSource resolves bar series from CSV files laid out as
// {dir}/{SYMBOL}_{TF}.csv.
type FileSource struct {
	Dir string
}

// Bars loads the series for one (symbol, timeframe) pair.
func (s *FileSource) Bars(symbol, tf string) ([]Bar, error) {
	return LoadCSV(filepath.Join(s.Dir, fmt.Sprintf("%s_%s.csv", symbol, tf)))
}
