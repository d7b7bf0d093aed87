package market

import "time"

// Candle is one OHLCV bar for a market+interval. Missing marks a synthetic
// filler bar inserted to close a timestamp gap.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Missing   bool      `json:"missing,omitempty"`
}

// MissingRate returns the share of synthetic bars in a candle set.
func MissingRate(candles []Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	missing := 0
	for _, c := range candles {
		if c.Missing {
			missing++
		}
	}
	return float64(missing) / float64(len(candles))
}
