package strategy

import (
	"math"

	"github.com/markcheno/go-talib"

	"wonbot/internal/market"
)

// Candle series arrive newest-first from the exchange and the buffer; talib
// wants oldest-first, so everything funnels through these extractors.

func closesOldest(candles []market.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[len(candles)-1-i] = c.Close
	}
	return out
}

func highsLowsClosesOldest(candles []market.Candle) (highs, lows, closes []float64) {
	n := len(candles)
	highs = make([]float64, n)
	lows = make([]float64, n)
	closes = make([]float64, n)
	for i, c := range candles {
		j := n - 1 - i
		highs[j] = c.High
		lows[j] = c.Low
		closes[j] = c.Close
	}
	return highs, lows, closes
}

func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) && series[i] != 0 {
			return series[i]
		}
	}
	return 0
}

// triplet is the last three values of a series, oldest of the three first.
func triplet(series []float64) (old, mid, newest float64, ok bool) {
	n := len(series)
	if n < 3 {
		return 0, 0, 0, false
	}
	old, mid, newest = series[n-3], series[n-2], series[n-1]
	if math.IsNaN(old) || math.IsNaN(mid) || math.IsNaN(newest) {
		return 0, 0, 0, false
	}
	return old, mid, newest, true
}

// isBuyMACDPattern matches a local trough: the line stopped falling.
func isBuyMACDPattern(old, mid, newest float64) bool {
	return old >= mid && mid <= newest
}

// isSellMACDDiffPattern reads fading momentum off the histogram.
func isSellMACDDiffPattern(old, newest float64) bool {
	return old > newest
}

func last(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	v := series[len(series)-1]
	if math.IsNaN(v) {
		return 0
	}
	return v
}

func latestRSI(candles []market.Candle, period int) float64 {
	closes := closesOldest(candles)
	if len(closes) <= period {
		return 0
	}
	return last(talib.Rsi(closes, period))
}

// LatestATR exposes the current ATR reading; the engine feeds it into the
// exit policy's volatility context.
func LatestATR(candles []market.Candle, period int) float64 {
	return latestATR(candles, period)
}

func latestATR(candles []market.Candle, period int) float64 {
	if len(candles) <= period {
		return 0
	}
	highs, lows, closes := highsLowsClosesOldest(candles)
	return last(talib.Atr(highs, lows, closes, period))
}

// swingLow is the lowest low of the most recent lookback bars.
func swingLow(candles []market.Candle, lookback int) float64 {
	if len(candles) == 0 {
		return 0
	}
	if lookback > len(candles) {
		lookback = len(candles)
	}
	low := candles[0].Low
	for _, c := range candles[:lookback] {
		if c.Low < low {
			low = c.Low
		}
	}
	return low
}
