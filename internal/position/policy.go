package position

// Exit reasons surfaced in decisions, notifications and the trade log.
const (
	ReasonHold              = "hold"
	ReasonTimeStop          = "time_stop"
	ReasonPartialStopLoss   = "partial_stop_loss"
	ReasonStopLoss          = "stop_loss"
	ReasonStrategyPartialTP = "strategy_partial_take_profit"
	ReasonPartialTP         = "partial_take_profit"
	ReasonTrailingStop      = "trailing_stop"
	ReasonStrategySignal    = "strategy_signal"
)

// ExitModePct sizes stops as a fraction of entry; ExitModeATR derives them
// from the ATR frozen at entry.
const (
	ExitModePct = "pct"
	ExitModeATR = "atr"
)

// Config is the exit policy parameter set, fixed at configuration time.
// SupportsRMultiples is an explicit strategy capability flag: only a
// strategy that supplies entry risk context gets the R-based partial
// take-profit branch and the dynamic signal-exit gate.
type Config struct {
	StopLossThreshold          float64
	TrailingStopPct            float64
	PartialTakeProfitThreshold float64
	PartialTakeProfitRatio     float64
	PartialStopLossRatio       float64

	ExitMode        string
	ATRStopMult     float64
	ATRTrailingMult float64

	MaxHoldBars int

	SupportsRMultiples     bool
	StrategyPartialEnabled bool
	StrategyPartialR       float64
	StrategyPartialSize    float64
	BreakevenAfterPartial  bool

	SignalExitMinRGate bool
}

// Input is one evaluation tick's market context.
type Input struct {
	AvgBuyPrice  float64
	CurrentPrice float64
	SignalExit   bool
	CurrentATR   float64
}

// Decision says whether and how much to exit. QtyRatio is the fraction of
// the held volume, 1.0 meaning a full exit.
type Decision struct {
	ShouldExit bool
	QtyRatio   float64
	Reason     string
}

func hold() Decision { return Decision{Reason: ReasonHold} }

func fullExit(reason string) Decision {
	return Decision{ShouldExit: true, QtyRatio: 1.0, Reason: reason}
}

func partialExit(ratio float64, reason string) Decision {
	return Decision{ShouldExit: true, QtyRatio: ratio, Reason: reason}
}

// Policy is a stateless decision function over caller-held ExitState. The
// engine owns the state; Evaluate mutates only its tracking fields and
// one-shot flags, keeping the state machine auditable in isolation.
type Policy struct {
	cfg Config
}

func NewPolicy(cfg Config) *Policy {
	if cfg.PartialTakeProfitRatio < 0 {
		cfg.PartialTakeProfitRatio = 0
	}
	if cfg.PartialTakeProfitRatio > 1 {
		cfg.PartialTakeProfitRatio = 1
	}
	if cfg.PartialStopLossRatio < 0 {
		cfg.PartialStopLossRatio = 0
	}
	if cfg.PartialStopLossRatio > 1 {
		cfg.PartialStopLossRatio = 1
	}
	if cfg.ExitMode == "" {
		cfg.ExitMode = ExitModePct
	}
	return &Policy{cfg: cfg}
}

// Evaluate runs the staged exit ladder. Checks are ordered; the first match
// wins. Degenerate prices always hold.
func (p *Policy) Evaluate(state *ExitState, in Input) Decision {
	if in.AvgBuyPrice <= 0 || in.CurrentPrice <= 0 {
		return hold()
	}
	if state.EntryPrice <= 0 {
		state.EntryPrice = in.AvgBuyPrice
	}
	state.observe(in.CurrentPrice, in.CurrentATR)
	stage := state.Stage()

	// 1. Time stop.
	if p.cfg.MaxHoldBars > 0 && state.BarsHeld >= p.cfg.MaxHoldBars {
		return fullExit(ReasonTimeStop)
	}

	// 2. Hard stop.
	if hardStop := p.hardStopPrice(state, stage); hardStop > 0 && decimalLTE(in.CurrentPrice, hardStop) {
		if !state.PartialTPDone && p.cfg.PartialStopLossRatio > 0 && p.cfg.PartialStopLossRatio < 1 {
			state.PartialTPDone = true
			return partialExit(p.cfg.PartialStopLossRatio, ReasonPartialStopLoss)
		}
		return fullExit(ReasonStopLoss)
	}

	// 3/4. Partial take-profit, strategy R-multiple branch and generic
	// percent branch mutually exclusive by capability flag.
	if d, ok := p.partialTakeProfit(state, stage, in); ok {
		return d
	}

	// 5. Trailing stop.
	if trail := p.trailingFloor(state, stage, in.CurrentATR); trail > 0 && decimalLTE(in.CurrentPrice, trail) {
		return fullExit(ReasonTrailingStop)
	}

	// 6. External signal exit, possibly deferred by the min-R gate.
	if in.SignalExit {
		if !p.signalExitAllowed(state, in) {
			return hold()
		}
		return fullExit(ReasonStrategySignal)
	}

	return hold()
}

// hardStopPrice computes the active stop: percent-of-entry or ATR-derived,
// tightened during initial_defense to no looser than entry − 0.85·risk, and
// floored at entry once breakeven is armed or R has reached 1.
func (p *Policy) hardStopPrice(state *ExitState, stage Stage) float64 {
	entry := state.EntryPrice
	var stop float64
	if p.cfg.ExitMode == ExitModeATR && state.EntryATR > 0 && p.cfg.ATRStopMult > 0 {
		stop = entry - p.cfg.ATRStopMult*state.EntryATR
	} else if p.cfg.StopLossThreshold > 0 {
		stop = entry * p.cfg.StopLossThreshold
	}

	if stage == StageInitialDefense && state.RiskPerUnit > 0 {
		if tightened := entry - 0.85*state.RiskPerUnit; tightened > stop {
			stop = tightened
		}
	}
	if (state.BreakevenArmed || state.HighestR >= 1.0) && entry > stop {
		stop = entry
	}
	return stop
}

func (p *Policy) partialTakeProfit(state *ExitState, stage Stage, in Input) (Decision, bool) {
	// Stages only mean something once entry risk context exists; without it
	// the percent branch keeps its legacy behavior.
	gated := state.RiskPerUnit > 0 && stage == StageInitialDefense

	if p.cfg.SupportsRMultiples && p.cfg.StrategyPartialEnabled {
		if state.StrategyPartialDone || gated || p.cfg.StrategyPartialSize <= 0 || state.RiskPerUnit <= 0 {
			return Decision{}, false
		}
		target := state.EntryPrice + p.cfg.StrategyPartialR*state.RiskPerUnit
		if decimalGTE(in.CurrentPrice, target) {
			state.StrategyPartialDone = true
			if p.cfg.BreakevenAfterPartial {
				state.BreakevenArmed = true
			}
			return partialExit(p.cfg.StrategyPartialSize, ReasonStrategyPartialTP), true
		}
		return Decision{}, false
	}

	if state.PartialTPDone || gated || p.cfg.PartialTakeProfitRatio <= 0 {
		return Decision{}, false
	}
	if decimalGTE(in.CurrentPrice, state.EntryPrice*p.cfg.PartialTakeProfitThreshold) {
		state.PartialTPDone = true
		return partialExit(p.cfg.PartialTakeProfitRatio, ReasonPartialTP), true
	}
	return Decision{}, false
}

// trailingFloor is percent-of-peak or ATR-multiple-of-peak, with the
// late_trailing stage additionally floored at peak − 0.7·risk.
func (p *Policy) trailingFloor(state *ExitState, stage Stage, currentATR float64) float64 {
	peak := state.PeakPrice
	if peak <= 0 {
		return 0
	}
	var floor float64
	if p.cfg.ExitMode == ExitModeATR && p.cfg.ATRTrailingMult > 0 {
		atr := currentATR
		if atr <= 0 {
			atr = state.EntryATR
		}
		if atr > 0 {
			floor = peak - p.cfg.ATRTrailingMult*atr
		}
	} else if p.cfg.TrailingStopPct > 0 {
		floor = peak * (1 - p.cfg.TrailingStopPct)
	}
	if floor <= 0 {
		return 0
	}
	if stage == StageLateTrailing && state.RiskPerUnit > 0 {
		if lateFloor := peak - 0.7*state.RiskPerUnit; lateFloor > floor {
			floor = lateFloor
		}
	}
	return floor
}

// signalExitAllowed applies the dynamic minimum-R gate. A deferred signal is
// not consumed; the strategy will raise it again while it still holds.
func (p *Policy) signalExitAllowed(state *ExitState, in Input) bool {
	if !p.cfg.SignalExitMinRGate || !p.cfg.SupportsRMultiples || state.RiskPerUnit <= 0 {
		return true
	}
	gate := p.minRGate(state, in.CurrentATR)
	return state.CurrentR(in.CurrentPrice) >= gate
}

// minRGate is clamp(1.0, 3.0, regimeBase + holdAdj + volAdj). Longer holds
// soften the requirement; the volatility term compares current ATR against
// the risk captured at entry (a hot market releases the gate earlier, a
// quiet one asks for more).
func (p *Policy) minRGate(state *ExitState, currentATR float64) float64 {
	base := 1.8
	switch state.EntryRegime {
	case "bull":
		base = 1.2
	case "neutral":
		base = 1.6
	case "defensive":
		base = 2.2
	}

	holdAdj := 0.0
	switch {
	case state.BarsHeld >= 48:
		holdAdj = -0.6
	case state.BarsHeld >= 24:
		holdAdj = -0.3
	}

	volAdj := 0.0
	if currentATR > 0 && state.RiskPerUnit > 0 {
		ratio := currentATR / state.RiskPerUnit
		switch {
		case ratio >= 1.5:
			volAdj = -0.3
		case ratio <= 0.5:
			volAdj = 0.2
		}
	}

	gate := base + holdAdj + volAdj
	if gate < 1.0 {
		gate = 1.0
	}
	if gate > 3.0 {
		gate = 3.0
	}
	return gate
}
