// Package strategy evaluates entry/exit signals over multi-timeframe candle
// sets. The engine only sees verdicts and entry-time risk context; indicator
// internals never leak out.
package strategy

import (
	"github.com/markcheno/go-talib"

	"wonbot/internal/market"
)

// Market regime tags derived from the 15m trend, consumed by the exit
// policy's signal gate.
const (
	RegimeBull      = "bull"
	RegimeNeutral   = "neutral"
	RegimeDefensive = "defensive"
)

// Params is the strategy parameter set. Capability flags tell the policy
// layer what this strategy supplies; they are fixed at configuration time.
type Params struct {
	BuyRSIThreshold float64
	RSIPeriod       int
	MACDFast        int
	MACDSlow        int
	MACDSignal      int
	MinCandleExtra  int

	SellProfitThreshold float64

	ATRPeriod    int
	StopLookback int
	BBPeriod     int
	BBStdMult    float64
	StopMode     string // "swing_low" (default), "lower_band", "conservative"

	SupportsRMultiples bool
}

// EntryVerdict is the outcome of one entry evaluation. StopPrice/RiskPerUnit
// and EntryATR are only meaningful when Enter is set; the engine persists
// them into the position exit state.
type EntryVerdict struct {
	Enter       bool
	Reason      string
	RSI         float64
	StopPrice   float64
	RiskPerUnit float64
	EntryATR    float64
	Regime      string
}

// Frames bundles the candle sets one evaluation reads, newest first each.
type Frames struct {
	Market string
	M1     []market.Candle
	M15    []market.Candle
}

type Evaluator struct {
	params Params
}

func NewEvaluator(params Params) *Evaluator {
	if params.BuyRSIThreshold <= 0 {
		params.BuyRSIThreshold = 35
	}
	if params.RSIPeriod <= 0 {
		params.RSIPeriod = 14
	}
	if params.MACDFast <= 0 {
		params.MACDFast = 12
	}
	if params.MACDSlow <= 0 {
		params.MACDSlow = 26
	}
	if params.MACDSignal <= 0 {
		params.MACDSignal = 9
	}
	if params.MinCandleExtra <= 0 {
		params.MinCandleExtra = 3
	}
	if params.SellProfitThreshold <= 0 {
		params.SellProfitThreshold = 1.01
	}
	if params.ATRPeriod <= 0 {
		params.ATRPeriod = 14
	}
	if params.StopLookback <= 0 {
		params.StopLookback = 6
	}
	if params.BBPeriod <= 0 {
		params.BBPeriod = 20
	}
	if params.BBStdMult <= 0 {
		params.BBStdMult = 2
	}
	if params.StopMode == "" {
		params.StopMode = "swing_low"
	}
	return &Evaluator{params: params}
}

func (e *Evaluator) Params() Params { return e.params }

func (e *Evaluator) warmup() int {
	return e.params.MACDSlow + e.params.MACDSignal + e.params.MinCandleExtra
}

// EvaluateEntry runs the long-entry ladder on the 1m frame: RSI oversold,
// MACD trough with the line still below zero. On a pass it derives the stop
// price, per-unit risk and entry ATR, and tags the 15m regime.
func (e *Evaluator) EvaluateEntry(frames Frames) EntryVerdict {
	candles := frames.M1
	if len(candles) < e.warmup() {
		return EntryVerdict{Reason: "insufficient_candles"}
	}

	rsi := latestRSI(candles, e.params.RSIPeriod)
	verdict := EntryVerdict{RSI: rsi, Regime: e.ClassifyRegime(frames.M15)}
	if rsi > e.params.BuyRSIThreshold {
		verdict.Reason = "rsi_above_threshold"
		return verdict
	}

	closes := closesOldest(candles)
	macdLine, _, _ := talib.Macd(closes, e.params.MACDFast, e.params.MACDSlow, e.params.MACDSignal)
	old, mid, newest, ok := triplet(macdLine)
	if !ok {
		verdict.Reason = "insufficient_candles"
		return verdict
	}
	if !isBuyMACDPattern(old, mid, newest) {
		verdict.Reason = "macd_no_trough"
		return verdict
	}
	if newest > 0 {
		verdict.Reason = "macd_above_zero"
		return verdict
	}

	entryPrice := candles[0].Close
	stop := e.stopPrice(candles, closes)
	if stop <= 0 || stop >= entryPrice {
		verdict.Reason = "invalid_stop"
		return verdict
	}

	verdict.Enter = true
	verdict.Reason = "ok"
	verdict.StopPrice = stop
	verdict.RiskPerUnit = entryPrice - stop
	verdict.EntryATR = latestATR(candles, e.params.ATRPeriod)
	return verdict
}

// EvaluateExit is the strategy-side exit signal: in profit past the
// threshold with histogram momentum fading. The exit policy decides whether
// to honor it.
func (e *Evaluator) EvaluateExit(candles []market.Candle, avgBuyPrice float64) bool {
	if len(candles) < e.warmup() || avgBuyPrice <= 0 {
		return false
	}
	currentPrice := candles[0].Close
	if avgBuyPrice*e.params.SellProfitThreshold > currentPrice {
		return false
	}
	closes := closesOldest(candles)
	_, _, hist := talib.Macd(closes, e.params.MACDFast, e.params.MACDSlow, e.params.MACDSignal)
	old, _, newest, ok := triplet(hist)
	if !ok {
		return false
	}
	return isSellMACDDiffPattern(old, newest)
}

// ClassifyRegime reads the 15m trend off the EMA 20/50 pair: both trending
// and sloping up is bull, one of the two is neutral, neither is defensive.
func (e *Evaluator) ClassifyRegime(candles15m []market.Candle) string {
	if len(candles15m) < 54 {
		return RegimeNeutral
	}
	closes := closesOldest(candles15m)
	fast := talib.Ema(closes, 20)
	slow := talib.Ema(closes, 50)

	n := len(fast)
	trendUp := fast[n-1] > slow[n-1]
	slopeUp := fast[n-1] > fast[n-4]
	switch {
	case trendUp && slopeUp:
		return RegimeBull
	case trendUp || slopeUp:
		return RegimeNeutral
	default:
		return RegimeDefensive
	}
}

func (e *Evaluator) stopPrice(candles []market.Candle, closesOld []float64) float64 {
	swing := swingLow(candles, e.params.StopLookback)
	switch e.params.StopMode {
	case "lower_band", "conservative":
		_, _, lower := talib.BBands(closesOld, e.params.BBPeriod, e.params.BBStdMult, e.params.BBStdMult, talib.SMA)
		band := last(lower)
		if e.params.StopMode == "lower_band" && band > 0 {
			return band
		}
		if band > 0 && band < swing {
			return band
		}
		return swing
	default:
		return swing
	}
}
