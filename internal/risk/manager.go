package risk

import "time"

// Entry gate refusal reasons, surfaced in logs and notifications.
const (
	ReasonOK                 = "ok"
	ReasonMaxConcurrent      = "max_concurrent_positions"
	ReasonMaxCorrelated      = "max_correlated_positions"
	ReasonMaxConsecutiveLoss = "max_consecutive_losses"
	ReasonMaxDailyLoss       = "max_daily_loss"
	ReasonOrderTooSmall      = "risk_sized_order_too_small"
)

// Config fixes the risk budget at configuration time. CorrelationGroups maps
// market code to a group label; markets sharing a label count against
// MaxCorrelatedPositions together.
type Config struct {
	RiskPerTradePct        float64
	MaxDailyLossPct        float64
	MaxConsecutiveLosses   int
	MaxConcurrentPositions int
	MaxCorrelatedPositions int
	CorrelationGroups      map[string]string
	MinOrderKRW            float64

	QualityMultiplierMin float64
	QualityMultiplierMax float64
}

// State is the caller-held mutable risk record. The manager is a stateless
// decision function over it, same shape as the position exit policy, so the
// day-scoped accounting stays auditable in isolation.
type State struct {
	BaselineEquity   float64 `json:"baseline_equity"`
	RealizedPnLToday float64 `json:"realized_pnl_today"`
	LossStreak       int     `json:"loss_streak"`
	Day              string  `json:"day"`
}

// Entry is one candidate entry's context. EntryPrice/StopPrice are optional
// risk context from the strategy; without them sizing falls back to the flat
// risk fraction of available cash.
type Entry struct {
	AvailableKRW float64
	HeldMarkets  []string
	Market       string
	EntryPrice   float64
	StopPrice    float64
}

// Decision is the gate verdict. OrderKRW is the sized notional, meaningful
// only when Allowed.
type Decision struct {
	Allowed  bool
	Reason   string
	OrderKRW float64
}

type Manager struct {
	cfg   Config
	nowFn func() time.Time
}

func NewManager(cfg Config) *Manager {
	if cfg.RiskPerTradePct < 0 {
		cfg.RiskPerTradePct = 0
	}
	if cfg.MaxDailyLossPct < 0 {
		cfg.MaxDailyLossPct = 0
	}
	if cfg.MaxConcurrentPositions < 1 {
		cfg.MaxConcurrentPositions = 1
	}
	if cfg.MaxCorrelatedPositions < 1 {
		cfg.MaxCorrelatedPositions = 1
	}
	if cfg.QualityMultiplierMin <= 0 {
		cfg.QualityMultiplierMin = 0.7
	}
	if cfg.QualityMultiplierMax < cfg.QualityMultiplierMin {
		cfg.QualityMultiplierMax = cfg.QualityMultiplierMin
	}
	return &Manager{cfg: cfg, nowFn: time.Now}
}

func utcDay(t time.Time) string { return t.UTC().Format("2006-01-02") }

// Rollover resets the day-scoped trackers when the UTC date changes. The
// baseline equity survives the rollover; only RefreshBaseline replaces it.
func (m *Manager) Rollover(s *State) {
	day := utcDay(m.nowFn())
	if s.Day == day {
		return
	}
	s.Day = day
	s.RealizedPnLToday = 0
	s.LossStreak = 0
}

// CaptureBaseline records the first positive equity observation and is a
// no-op afterwards.
func (m *Manager) CaptureBaseline(s *State, totalEquityKRW float64) {
	m.Rollover(s)
	if s.BaselineEquity <= 0 && totalEquityKRW > 0 {
		s.BaselineEquity = totalEquityKRW
	}
}

// RefreshBaseline overwrites the baseline unconditionally. Callers decide
// when the reference equity should move, typically at their own day open.
func (m *Manager) RefreshBaseline(s *State, totalEquityKRW float64) {
	m.Rollover(s)
	if totalEquityKRW > 0 {
		s.BaselineEquity = totalEquityKRW
	}
}

// RecordTradeResult accumulates realized P&L and maintains the consecutive
// loss streak. Call exactly once per closed trade; a flat trade leaves the
// streak untouched.
func (m *Manager) RecordTradeResult(s *State, pnlKRW float64) {
	m.Rollover(s)
	s.RealizedPnLToday += pnlKRW
	switch {
	case pnlKRW < 0:
		s.LossStreak++
	case pnlKRW > 0:
		s.LossStreak = 0
	}
}

// AllowEntry runs the ordered entry gates and sizes the order when all pass.
func (m *Manager) AllowEntry(s *State, in Entry) Decision {
	m.Rollover(s)

	if len(in.HeldMarkets) >= m.cfg.MaxConcurrentPositions {
		return Decision{Reason: ReasonMaxConcurrent}
	}
	if m.correlatedCapBreached(in.Market, in.HeldMarkets) {
		return Decision{Reason: ReasonMaxCorrelated}
	}
	if m.cfg.MaxConsecutiveLosses > 0 && s.LossStreak >= m.cfg.MaxConsecutiveLosses {
		return Decision{Reason: ReasonMaxConsecutiveLoss}
	}
	if m.dailyLossBreached(s) {
		return Decision{Reason: ReasonMaxDailyLoss}
	}

	sized := m.sizeOrder(in)
	if sized < m.cfg.MinOrderKRW {
		return Decision{Reason: ReasonOrderTooSmall}
	}
	return Decision{Allowed: true, Reason: ReasonOK, OrderKRW: sized}
}

// ComputeRiskSizedOrder converts the per-trade risk fraction into a notional:
// the quantity whose loss at the stop equals available·riskPct, valued at the
// entry price and capped at available cash.
func (m *Manager) ComputeRiskSizedOrder(availableKRW, entryPrice, stopPrice float64) float64 {
	if availableKRW <= 0 || entryPrice <= 0 || stopPrice <= 0 || entryPrice <= stopPrice {
		return 0
	}
	riskBudget := availableKRW * m.cfg.RiskPerTradePct
	if riskBudget <= 0 {
		return 0
	}
	qty := riskBudget / (entryPrice - stopPrice)
	notional := qty * entryPrice
	if notional > availableKRW {
		return availableKRW
	}
	return notional
}

// ClampQualityMultiplier bounds a strategy's signal-quality multiplier and
// additionally caps it as the remaining daily loss budget thins out.
func (m *Manager) ClampQualityMultiplier(s *State, multiplier float64) float64 {
	clamped := multiplier
	if clamped < m.cfg.QualityMultiplierMin {
		clamped = m.cfg.QualityMultiplierMin
	}
	if clamped > m.cfg.QualityMultiplierMax {
		clamped = m.cfg.QualityMultiplierMax
	}
	if s.BaselineEquity <= 0 || m.cfg.MaxDailyLossPct <= 0 {
		return clamped
	}

	budget := s.BaselineEquity * m.cfg.MaxDailyLossPct
	remaining := (budget + s.RealizedPnLToday) / budget
	dynamicCap := m.cfg.QualityMultiplierMax
	switch {
	case remaining <= 0.1 && dynamicCap > 0.8:
		dynamicCap = 0.8
	case remaining <= 0.2 && dynamicCap > 1.0:
		dynamicCap = 1.0
	}
	if clamped > dynamicCap {
		clamped = dynamicCap
	}
	if clamped < m.cfg.QualityMultiplierMin {
		clamped = m.cfg.QualityMultiplierMin
	}
	return clamped
}

func (m *Manager) sizeOrder(in Entry) float64 {
	if in.EntryPrice > 0 && in.StopPrice > 0 && in.EntryPrice > in.StopPrice {
		return m.ComputeRiskSizedOrder(in.AvailableKRW, in.EntryPrice, in.StopPrice)
	}
	if in.AvailableKRW <= 0 {
		return 0
	}
	notional := in.AvailableKRW * m.cfg.RiskPerTradePct
	if notional > in.AvailableKRW {
		return in.AvailableKRW
	}
	return notional
}

func (m *Manager) dailyLossBreached(s *State) bool {
	if s.BaselineEquity <= 0 || m.cfg.MaxDailyLossPct <= 0 {
		return false
	}
	budget := s.BaselineEquity * m.cfg.MaxDailyLossPct
	return budget > 0 && -s.RealizedPnLToday >= budget
}

func (m *Manager) correlatedCapBreached(candidate string, held []string) bool {
	group, ok := m.cfg.CorrelationGroups[candidate]
	if !ok || group == "" {
		return false
	}
	count := 0
	for _, market := range held {
		if m.cfg.CorrelationGroups[market] == group {
			count++
		}
	}
	return count >= m.cfg.MaxCorrelatedPositions
}
