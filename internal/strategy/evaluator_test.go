package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wonbot/internal/market"
)

// seriesFromCloses builds a newest-first candle slice from oldest-first
// closes, with a fixed high/low band around each close.
func seriesFromCloses(closes []float64) []market.Candle {
	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	out := make([]market.Candle, len(closes))
	for i, close := range closes {
		out[len(closes)-1-i] = market.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Open:      close,
			High:      close + 2,
			Low:       close - 2,
			Close:     close,
			Volume:    1,
		}
	}
	return out
}

func repeat(value float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = value
	}
	return out
}

func TestEvaluateEntryInsufficientCandles(t *testing.T) {
	e := NewEvaluator(Params{})
	v := e.EvaluateEntry(Frames{M1: seriesFromCloses(repeat(100, 10))})
	assert.False(t, v.Enter)
	assert.Equal(t, "insufficient_candles", v.Reason)
}

func TestEvaluateEntryRejectsHighRSI(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + float64(i) // steady uptrend, RSI pegged high
	}
	e := NewEvaluator(Params{})
	v := e.EvaluateEntry(Frames{M1: seriesFromCloses(closes)})
	assert.False(t, v.Enter)
	assert.Equal(t, "rsi_above_threshold", v.Reason)
	assert.Greater(t, v.RSI, 35.0)
}

func TestEvaluateEntryOnOversoldMACDTrough(t *testing.T) {
	// Long flat stretch, a one-step drop, then flat at the lower level. RSI
	// sees only losses, and the MACD line bottoms out nine bars after the
	// drop, putting the trough exactly at the middle of the final triplet.
	closes := append(repeat(100, 50), repeat(99, 10)...)
	e := NewEvaluator(Params{})

	v := e.EvaluateEntry(Frames{M1: seriesFromCloses(closes)})
	require.True(t, v.Enter, "reason=%s", v.Reason)
	assert.Equal(t, "ok", v.Reason)
	assert.LessOrEqual(t, v.RSI, 35.0)

	// Stop at the swing low (close − 2 band), risk context populated.
	assert.Equal(t, 97.0, v.StopPrice)
	assert.Equal(t, 2.0, v.RiskPerUnit)
	assert.Greater(t, v.EntryATR, 0.0)
}

func TestEvaluateEntryInvalidStopRejected(t *testing.T) {
	closes := append(repeat(100, 50), repeat(99, 10)...)
	candles := seriesFromCloses(closes)
	for i := range candles {
		candles[i].Low = candles[i].Close // no room below: stop == entry
		candles[i].High = candles[i].Close
	}
	e := NewEvaluator(Params{})

	v := e.EvaluateEntry(Frames{M1: candles})
	assert.False(t, v.Enter)
	assert.Equal(t, "invalid_stop", v.Reason)
}

func TestEvaluateExitNeedsProfitThreshold(t *testing.T) {
	e := NewEvaluator(Params{SellProfitThreshold: 1.01})
	candles := seriesFromCloses(repeat(100.5, 60))
	assert.False(t, e.EvaluateExit(candles, 100), "0.5%% profit is below the 1%% threshold")
}

func TestEvaluateExitOnFadingMomentum(t *testing.T) {
	// In profit past the threshold, histogram rolling over on the last bars.
	closes := append(repeat(102, 57), 101.9, 101.8, 101.6)
	e := NewEvaluator(Params{SellProfitThreshold: 1.01})
	assert.True(t, e.EvaluateExit(seriesFromCloses(closes), 100))
}

func TestEvaluateExitFlatHistogramHolds(t *testing.T) {
	e := NewEvaluator(Params{SellProfitThreshold: 1.01})
	assert.False(t, e.EvaluateExit(seriesFromCloses(repeat(102, 60)), 100))
}

func TestClassifyRegime(t *testing.T) {
	rising := make([]float64, 60)
	falling := make([]float64, 60)
	for i := range rising {
		rising[i] = 100 + float64(i)
		falling[i] = 200 - float64(i)
	}
	e := NewEvaluator(Params{})

	assert.Equal(t, RegimeBull, e.ClassifyRegime(seriesFromCloses(rising)))
	assert.Equal(t, RegimeDefensive, e.ClassifyRegime(seriesFromCloses(falling)))
	assert.Equal(t, RegimeNeutral, e.ClassifyRegime(seriesFromCloses(rising[:30])), "too little history defaults to neutral")
}

func TestTripletAndPatterns(t *testing.T) {
	old, mid, newest, ok := triplet([]float64{5, 4, 3, 2, 3})
	require.True(t, ok)
	assert.Equal(t, 3.0, old)
	assert.Equal(t, 2.0, mid)
	assert.Equal(t, 3.0, newest)
	assert.True(t, isBuyMACDPattern(old, mid, newest))
	assert.False(t, isBuyMACDPattern(2, 3, 4), "rising line is not a trough")

	assert.True(t, isSellMACDDiffPattern(1.5, 0.5))
	assert.False(t, isSellMACDDiffPattern(0.5, 1.5))

	_, _, _, ok = triplet([]float64{1, 2})
	assert.False(t, ok)
}

func TestSwingLow(t *testing.T) {
	candles := seriesFromCloses([]float64{100, 90, 95, 96, 97, 98, 99})
	// Newest-first lookback 6 skips the oldest bar (close 100).
	assert.Equal(t, 88.0, swingLow(candles, 6))
	assert.Equal(t, 88.0, swingLow(candles, 100), "lookback clamped to length")
	assert.Zero(t, swingLow(nil, 5))
}
