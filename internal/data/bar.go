package data

import "time"

// Bar is a single OHLCV sample. Bars are immutable once loaded and must be
// ordered by OpenTime ascending within a series.
type Bar struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}
