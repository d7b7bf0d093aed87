package position

// Stage is the coarse phase of a position's life. It is derived from the
// monotonic HighestR/BarsHeld pair rather than stored, so it can only move
// forward.
type Stage string

const (
	StageInitialDefense Stage = "initial_defense"
	StageMidManagement  Stage = "mid_management"
	StageLateTrailing   Stage = "late_trailing"
)

// ExitState is the running per-market state of a held position. It is owned
// by the engine, fed to Evaluate once per tick, and reset (not destroyed) on
// full exit so stale flags cannot leak into the next position in the slot.
type ExitState struct {
	EntryPrice       float64 `json:"entry_price"`
	PeakPrice        float64 `json:"peak_price"`
	InitialStopPrice float64 `json:"initial_stop_price"`
	// RiskPerUnit is entry price minus initial stop, frozen at entry.
	RiskPerUnit float64 `json:"risk_per_unit"`
	// EntryATR freezes the first ATR observation after entry for ATR stops.
	EntryATR float64 `json:"entry_atr"`
	BarsHeld int     `json:"bars_held"`
	// HighestR is the best R-multiple reached; DrawdownR the give-back from
	// that peak. Both are maintained by Evaluate.
	HighestR  float64 `json:"highest_r"`
	DrawdownR float64 `json:"drawdown_r"`

	PartialTPDone       bool `json:"partial_tp_done"`
	StrategyPartialDone bool `json:"strategy_partial_done"`
	BreakevenArmed      bool `json:"breakeven_armed"`

	EntryRegime string `json:"entry_regime,omitempty"`
}

// Enter seeds the state for a confirmed entry fill.
func (s *ExitState) Enter(entryPrice, initialStop float64, regime string) {
	s.Reset()
	s.EntryPrice = entryPrice
	s.PeakPrice = entryPrice
	s.InitialStopPrice = initialStop
	if initialStop > 0 && initialStop < entryPrice {
		s.RiskPerUnit = entryPrice - initialStop
	}
	s.EntryRegime = regime
}

// Reset clears everything for reuse by the next position in this market.
func (s *ExitState) Reset() {
	*s = ExitState{}
}

// Stage derives the current exit stage. Transitions are one-directional by
// construction because HighestR and BarsHeld never decrease.
func (s *ExitState) Stage() Stage {
	if s.HighestR >= 2.0 || s.BarsHeld >= 24 {
		return StageLateTrailing
	}
	if s.HighestR >= 1.0 || s.BarsHeld >= 8 {
		return StageMidManagement
	}
	return StageInitialDefense
}

// CurrentR expresses price as an R-multiple of the entry risk. Returns 0
// when no risk context was captured at entry.
func (s *ExitState) CurrentR(price float64) float64 {
	if s.RiskPerUnit <= 0 || s.EntryPrice <= 0 {
		return 0
	}
	return (price - s.EntryPrice) / s.RiskPerUnit
}

// observe updates peak tracking, the frozen entry ATR and the R statistics
// for one evaluation tick.
func (s *ExitState) observe(price, currentATR float64) {
	if price > s.PeakPrice {
		s.PeakPrice = price
	}
	if s.EntryATR <= 0 && currentATR > 0 {
		s.EntryATR = currentATR
	}
	if s.RiskPerUnit > 0 {
		r := s.CurrentR(price)
		if r > s.HighestR {
			s.HighestR = r
		}
		peakR := s.CurrentR(s.PeakPrice)
		s.DrawdownR = peakR - r
	}
}
