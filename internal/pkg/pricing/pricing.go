// Package pricing implements the KRW market tick-size schedule and the
// round-down rule orders must obey.
package pricing

import (
	"github.com/shopspring/decimal"

	"wonbot/internal/market"
)

// KRWTickSize returns the exchange's price increment for a KRW quote level.
func KRWTickSize(price float64) float64 {
	switch {
	case price >= 2_000_000:
		return 1000
	case price >= 1_000_000:
		return 500
	case price >= 500_000:
		return 100
	case price >= 100_000:
		return 50
	case price >= 10_000:
		return 10
	case price >= 1_000:
		return 1
	case price >= 100:
		return 0.1
	case price >= 10:
		return 0.01
	case price >= 1:
		return 0.001
	case price >= 0.1:
		return 0.0001
	case price >= 0.01:
		return 0.00001
	case price >= 0.001:
		return 0.000001
	default:
		return 0.0000001
	}
}

// RoundDownToTick floors value onto the tick grid. Decimal arithmetic keeps
// sub-KRW ticks exact where float division would drift.
func RoundDownToTick(value, tick float64) float64 {
	if tick <= 0 {
		return value
	}
	v := decimal.NewFromFloat(value)
	t := decimal.NewFromFloat(tick)
	steps := v.Div(t).Floor()
	out, _ := steps.Mul(t).Float64()
	return out
}

// MinKRWTickFromCandles picks the tick for the lowest close in the series,
// the conservative choice when quoting across a price range.
func MinKRWTickFromCandles(candles []market.Candle) float64 {
	if len(candles) == 0 {
		return KRWTickSize(1)
	}
	minPrice := candles[0].Close
	for _, c := range candles[1:] {
		if c.Close < minPrice {
			minPrice = c.Close
		}
	}
	return KRWTickSize(minPrice)
}
