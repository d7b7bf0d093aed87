package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"wonbot/internal/gateway/exchange"
	"wonbot/internal/gateway/notifier"
	"wonbot/internal/logger"
	"wonbot/internal/order"
	"wonbot/internal/position"
	"wonbot/internal/store/tradelog"
	"wonbot/internal/strategy"
)

// manageExits walks every held market: refresh its candles, advance the
// bars-held counter on new closed bars, run the exit policy and submit the
// sell it decides on.
func (e *Engine) manageExits(ctx context.Context, view order.HoldingsView) {
	for _, holding := range view.Holdings {
		marketCode := "KRW-" + holding.Currency
		if err := e.manageExit(ctx, marketCode, holding); err != nil {
			logger.Errorf("exit management failed for %s: %v", marketCode, err)
		}
	}
}

func (e *Engine) manageExit(ctx context.Context, marketCode string, holding order.Asset) error {
	candles, err := e.fetchCandles(ctx, marketCode, e.cfg.IntervalMin)
	if err != nil {
		return err
	}
	if len(candles) == 0 {
		return fmt.Errorf("no candles for held market")
	}
	currentPrice := candles[0].Close
	signalExit := e.deps.Evaluator.EvaluateExit(candles, holding.AvgBuyPrice)
	currentATR := strategy.LatestATR(candles, e.deps.Evaluator.Params().ATRPeriod)

	e.mu.Lock()
	state := e.exitStates[marketCode]
	if state == nil {
		state = &position.ExitState{}
		e.exitStates[marketCode] = state
	}
	// A position observed without entry context (restart, manual buy) still
	// gets managed: seed it from the cost basis with no risk context.
	if state.EntryPrice <= 0 && holding.AvgBuyPrice > 0 {
		state.Enter(holding.AvgBuyPrice, 0, "")
		e.openedAt[marketCode] = e.nowFn()
	}
	if barTs, ok := latestClosedBar(candles); ok {
		if last, seen := e.lastBarTs[marketCode]; !seen || barTs.After(last) {
			if seen {
				state.BarsHeld++
			}
			e.lastBarTs[marketCode] = barTs
		}
	}
	decision := e.deps.Policy.Evaluate(state, position.Input{
		AvgBuyPrice:  holding.AvgBuyPrice,
		CurrentPrice: currentPrice,
		SignalExit:   signalExit,
		CurrentATR:   currentATR,
	})
	e.mu.Unlock()

	if !decision.ShouldExit {
		return nil
	}
	return e.submitExit(ctx, marketCode, holding, currentPrice, decision)
}

func (e *Engine) submitExit(ctx context.Context, marketCode string, holding order.Asset, currentPrice float64, decision position.Decision) error {
	volume := holding.Balance * decision.QtyRatio
	if volume <= 0 {
		return fmt.Errorf("exit volume is zero (balance=%f ratio=%f)", holding.Balance, decision.QtyRatio)
	}
	fullExit := decision.QtyRatio >= 1

	clientID := uuid.NewString()
	orderRes, err := e.sellMarket(ctx, marketCode, volume, clientID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	status := e.recordSubmissionLocked(orderRes, clientID, marketCode, "ask", volume)
	e.mu.Unlock()
	if status == order.StatusRejected || status == order.StatusCanceled {
		return fmt.Errorf("exit order for %s came back %s", marketCode, status)
	}

	logger.Infof("exit submitted: %s sell %.8f (%s, ratio %.2f) at ~%.2f",
		marketCode, volume, decision.Reason, decision.QtyRatio, currentPrice)

	if fullExit {
		e.finalizePosition(ctx, marketCode, holding, currentPrice, volume, decision.Reason)
	} else {
		e.notify(fmt.Sprintf("📉 Partial exit %s: sold %.2f%% at %.2f (%s)",
			marketCode, decision.QtyRatio*100, currentPrice, decision.Reason))
	}
	return nil
}

// finalizePosition books the realized result of a full exit: risk
// accounting, trade log, notification, state reset and reentry cooldown.
func (e *Engine) finalizePosition(ctx context.Context, marketCode string, holding order.Asset, exitPrice, volume float64, reason string) {
	pnl := (exitPrice - holding.AvgBuyPrice) * volume

	e.mu.Lock()
	now := e.nowFn()
	state := e.exitStates[marketCode]
	var rMultiple float64
	stage := ""
	barsHeld := 0
	partials := 0
	regime := ""
	if state != nil {
		rMultiple = state.CurrentR(exitPrice)
		stage = string(state.Stage())
		barsHeld = state.BarsHeld
		regime = state.EntryRegime
		if state.PartialTPDone {
			partials++
		}
		if state.StrategyPartialDone {
			partials++
		}
		state.Reset()
	}
	opened := e.openedAt[marketCode]
	delete(e.openedAt, marketCode)
	delete(e.lastBarTs, marketCode)
	e.lastExit[marketCode] = marketExit{At: now, Reason: reason}
	e.deps.Risk.RecordTradeResult(&e.riskState, pnl)
	e.mu.Unlock()

	logger.Infof("position closed: %s pnl=%.0f KRW r=%.2f reason=%s", marketCode, pnl, rMultiple, reason)
	msg := notifier.StructuredMessage{
		Icon:  "💰",
		Title: fmt.Sprintf("Closed %s: pnl %.0f KRW (%.2fR), reason %s", marketCode, pnl, rMultiple, reason),
		Sections: []notifier.MessageSection{{
			Title: "Position",
			Lines: []string{
				fmt.Sprintf("entry %.2f -> exit %.2f", holding.AvgBuyPrice, exitPrice),
				fmt.Sprintf("volume %.8f", volume),
				fmt.Sprintf("stage %s, %d bars held, %d partial takes", stage, barsHeld, partials),
			},
		}},
		Timestamp: now,
	}
	e.notify(msg.RenderMarkdown())

	if e.deps.TradeLog == nil {
		return
	}
	trade := tradelog.ClosedTrade{
		Market:       marketCode,
		EntryPrice:   holding.AvgBuyPrice,
		ExitPrice:    exitPrice,
		Volume:       volume,
		PnLKRW:       pnl,
		RMultiple:    rMultiple,
		Reason:       reason,
		Regime:       regime,
		Stage:        stage,
		BarsHeld:     barsHeld,
		PartialTakes: partials,
		OpenedAt:     opened,
		ClosedAt:     now,
	}
	if err := e.deps.TradeLog.Append(ctx, trade); err != nil {
		logger.Warnf("trade log write failed for %s: %v", marketCode, err)
	}
}

func (e *Engine) sellMarket(ctx context.Context, marketCode string, volume float64, clientID string) (*exchange.OrderResult, error) {
	var res *exchange.OrderResult
	err := e.callBroker("sell", func() error {
		var err error
		res, err = e.deps.Broker.SellMarket(ctx, marketCode, volume, clientID)
		return err
	})
	return res, err
}

// cooldownActive reports whether marketCode is still inside its reentry
// cooldown window. With CooldownLossOnly set, only defensive exits arm it.
func (e *Engine) cooldownActive(marketCode string, now time.Time) bool {
	if e.cfg.ReentryCooldownBars <= 0 {
		return false
	}
	exit, ok := e.lastExit[marketCode]
	if !ok {
		return false
	}
	if e.cfg.CooldownLossOnly && !lossExitReason(exit.Reason) {
		return false
	}
	window := time.Duration(e.cfg.ReentryCooldownBars*e.cfg.IntervalMin) * time.Minute
	return now.Sub(exit.At) < window
}

func lossExitReason(reason string) bool {
	switch reason {
	case position.ReasonStopLoss, position.ReasonTrailingStop, position.ReasonPartialStopLoss:
		return true
	}
	return false
}
