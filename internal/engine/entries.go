package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"wonbot/internal/gateway/exchange"
	"wonbot/internal/logger"
	"wonbot/internal/market"
	"wonbot/internal/order"
	"wonbot/internal/position"
	"wonbot/internal/risk"
	"wonbot/internal/strategy"
)

// tryEntries evaluates watch markets that are not already held, at most once
// per closed candle per market, and submits buys the risk manager allows.
func (e *Engine) tryEntries(ctx context.Context, watchlist []string, view order.HoldingsView) {
	entries := 0
	for _, marketCode := range watchlist {
		if entries >= e.cfg.MaxEntriesPerCycle {
			return
		}
		if heldMarket(view.HeldMarkets, marketCode) {
			continue
		}
		placed, err := e.tryEntry(ctx, marketCode, view)
		if err != nil {
			logger.Errorf("entry evaluation failed for %s: %v", marketCode, err)
			continue
		}
		if placed {
			entries++
		}
	}
}

func (e *Engine) tryEntry(ctx context.Context, marketCode string, view order.HoldingsView) (bool, error) {
	e.mu.Lock()
	now := e.nowFn()
	cooling := e.cooldownActive(marketCode, now)
	hasPending := e.pendingEntryFor(marketCode)
	e.mu.Unlock()
	if cooling || hasPending {
		return false, nil
	}

	candles, err := e.fetchCandles(ctx, marketCode, e.cfg.IntervalMin)
	if err != nil {
		return false, err
	}
	if kept := e.deps.Universe.FilterByMissingRate(
		[]string{marketCode}, map[string][]market.Candle{marketCode: candles}); len(kept) == 0 {
		logger.Debugf("entry skipped for %s: candle history too gappy", marketCode)
		return false, nil
	}

	// One evaluation per closed candle: a re-poll inside the same bar must
	// not produce a second entry attempt.
	barTs, ok := latestClosedBar(candles)
	if !ok {
		return false, nil
	}
	e.mu.Lock()
	if last, seen := e.lastEvalTs[marketCode]; seen && !barTs.After(last) {
		e.mu.Unlock()
		return false, nil
	}
	e.lastEvalTs[marketCode] = barTs
	e.mu.Unlock()

	regimeCandles, err := e.fetchCandles(ctx, marketCode, regimeIntervalMin)
	if err != nil {
		// The regime frame is advisory; a failed fetch degrades to neutral.
		logger.Warnf("15m frame fetch failed for %s: %v", marketCode, err)
		regimeCandles = nil
	}

	verdict := e.deps.Evaluator.EvaluateEntry(strategy.Frames{
		Market: marketCode,
		M1:     candles,
		M15:    regimeCandles,
	})
	if !verdict.Enter {
		logger.Debugf("no entry for %s: %s", marketCode, verdict.Reason)
		return false, nil
	}

	entryPrice := candles[0].Close
	e.mu.Lock()
	decision := e.deps.Risk.AllowEntry(&e.riskState, risk.Entry{
		AvailableKRW: view.AvailableKRW,
		HeldMarkets:  view.HeldMarkets,
		Market:       marketCode,
		EntryPrice:   entryPrice,
		StopPrice:    verdict.StopPrice,
	})
	e.mu.Unlock()
	if !decision.Allowed {
		logger.Infof("entry blocked for %s: %s", marketCode, decision.Reason)
		return false, nil
	}

	return true, e.submitEntry(ctx, marketCode, floorKRW(decision.OrderKRW), verdict)
}

func (e *Engine) submitEntry(ctx context.Context, marketCode string, amountKRW float64, verdict strategy.EntryVerdict) error {
	if amountKRW <= 0 {
		return fmt.Errorf("entry amount is zero")
	}
	clientID := uuid.NewString()
	var res *exchange.OrderResult
	if err := e.callBroker("buy", func() error {
		var err error
		res, err = e.deps.Broker.BuyMarket(ctx, marketCode, amountKRW, clientID)
		return err
	}); err != nil {
		return err
	}

	e.mu.Lock()
	e.pendingEntries[clientID] = entryIntent{Market: marketCode, Verdict: verdict}
	status := e.recordSubmissionLocked(res, clientID, marketCode, "bid", 0)
	// Instant-fill brokers (paper) report the terminal state synchronously;
	// live fills arrive over the push stream instead.
	switch status {
	case order.StatusFilled:
		e.confirmEntryFillLocked(clientID)
	case order.StatusRejected, order.StatusCanceled:
		delete(e.pendingEntries, clientID)
		e.mu.Unlock()
		return fmt.Errorf("entry order for %s came back %s", marketCode, status)
	}
	e.mu.Unlock()

	logger.Infof("entry submitted: %s buy %.0f KRW (rsi=%.1f stop=%.2f regime=%s)",
		marketCode, amountKRW, verdict.RSI, verdict.StopPrice, verdict.Regime)
	e.notify(fmt.Sprintf("🟢 Entry %s: %.0f KRW, stop %.2f (%s regime)",
		marketCode, amountKRW, verdict.StopPrice, verdict.Regime))
	return nil
}

// confirmEntryFillLocked promotes a pending entry into a managed position.
// Caller holds mu.
func (e *Engine) confirmEntryFillLocked(identifier string) {
	intent, ok := e.pendingEntries[identifier]
	if !ok {
		return
	}
	delete(e.pendingEntries, identifier)

	state := e.exitStates[intent.Market]
	if state == nil {
		state = &position.ExitState{}
		e.exitStates[intent.Market] = state
	}
	entryPrice := e.lastPrice[intent.Market]
	if entryPrice <= 0 {
		entryPrice = intent.Verdict.StopPrice + intent.Verdict.RiskPerUnit
	}
	state.Enter(entryPrice, intent.Verdict.StopPrice, intent.Verdict.Regime)
	state.EntryATR = intent.Verdict.EntryATR
	e.openedAt[intent.Market] = e.nowFn()
	logger.Infof("entry filled: %s at ~%.2f, exit state armed", intent.Market, entryPrice)
}

func (e *Engine) pendingEntryFor(marketCode string) bool {
	for _, intent := range e.pendingEntries {
		if intent.Market == marketCode {
			return true
		}
	}
	return false
}

func heldMarket(held []string, marketCode string) bool {
	for _, m := range held {
		if m == marketCode {
			return true
		}
	}
	return false
}
