package engine

import (
	"context"
	"fmt"
	"time"

	"wonbot/internal/gateway/upbit"
	"wonbot/internal/logger"
	"wonbot/internal/market"
	"wonbot/internal/order"
	statushttp "wonbot/internal/transport/http/status"
)

// ConsumeEvents drains the push stream into the ledger and portfolio until
// ctx is done. It is the only other writer of engine state besides the poll
// cycle; both take the same mutex.
func (e *Engine) ConsumeEvents(ctx context.Context) error {
	if e.deps.Events == nil {
		<-ctx.Done()
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-e.deps.Events:
			if !ok {
				return nil
			}
			e.handleEvent(evt)
		}
	}
}

func (e *Engine) handleEvent(evt upbit.PushEvent) {
	switch evt.Kind {
	case upbit.EventOrder:
		e.handleOrderEvent(evt.Order)
	case upbit.EventAsset:
		e.mu.Lock()
		e.portfolio.ApplySnapshot(evt.Assets)
		e.mu.Unlock()
	case upbit.EventTicker:
		if evt.Market != "" && evt.Price > 0 {
			e.mu.Lock()
			e.lastPrice[evt.Market] = evt.Price
			e.mu.Unlock()
		}
	}
}

func (e *Engine) handleOrderEvent(evt *order.Event) {
	if evt == nil {
		return
	}
	e.mu.Lock()
	rec, err := e.ledger.Apply(*evt)
	if err != nil {
		e.mu.Unlock()
		logger.Warnf("order event dropped: %v", err)
		return
	}
	if rec.State == order.StatusFilled && rec.Side == "bid" {
		e.confirmEntryFillLocked(rec.Identifier)
	}
	if rec.State.Terminal() {
		if rec.State != order.StatusFilled {
			delete(e.pendingEntries, rec.Identifier)
		}
		e.ledger.Prune(rec.Identifier)
	}
	e.mu.Unlock()
	logger.Debugf("order %s -> %s (filled %.8f/%.8f)",
		rec.Identifier, rec.State, rec.FilledQty, rec.RequestedQty)
}

// sweepTimeouts flags orders stuck past the acknowledgement window.
func (e *Engine) sweepTimeouts() {
	e.mu.Lock()
	stale := e.ledger.SweepTimeouts(e.nowFn(), e.cfg.OrderTimeout, nil)
	e.mu.Unlock()
	for _, rec := range stale {
		logger.Warnf("order %s (%s %s) unacknowledged for over %s, retry count %d",
			rec.Identifier, rec.Market, rec.Side, e.cfg.OrderTimeout, rec.RetryCount)
		e.notify(fmt.Sprintf("⚠️ Order stuck: %s %s on %s has no terminal state after %s",
			rec.Side, rec.Identifier, rec.Market, e.cfg.OrderTimeout))
	}
}

// Snapshot assembles the /status payload under the engine lock.
func (e *Engine) Snapshot() statushttp.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := statushttp.Snapshot{
		Mode:        e.cfg.Mode,
		UptimeSec:   int64(time.Since(e.startedAt).Seconds()),
		Universe:    append([]string(nil), e.watchlist...),
		Buffers:     make(map[string]statushttp.BufView),
		GeneratedAt: e.nowFn().UTC(),
		Risk: statushttp.RiskView{
			BaselineEquity:   e.riskState.BaselineEquity,
			RealizedPnLToday: e.riskState.RealizedPnLToday,
			LossStreak:       e.riskState.LossStreak,
			Day:              e.riskState.Day,
		},
	}

	for marketCode, state := range e.exitStates {
		if state.EntryPrice <= 0 {
			continue
		}
		asset, _ := e.portfolio.Get(marketCurrency(marketCode))
		snap.Positions = append(snap.Positions, statushttp.PositionView{
			Market:      marketCode,
			Volume:      asset.Balance + asset.Locked,
			AvgBuyPrice: asset.AvgBuyPrice,
			Stage:       string(state.Stage()),
			BarsHeld:    state.BarsHeld,
			PeakPrice:   state.PeakPrice,
			StopPrice:   state.InitialStopPrice,
		})
	}

	for _, marketCode := range e.watchlist {
		candles := e.deps.Buffer.Snapshot(marketCode, e.cfg.IntervalMin)
		if len(candles) == 0 {
			continue
		}
		snap.Buffers[marketCode] = statushttp.BufView{
			Candles:     len(candles),
			MissingRate: market.MissingRate(candles),
		}
	}

	if e.deps.StreamStats != nil {
		stats := e.deps.StreamStats()
		snap.Stream = statushttp.StreamView{
			Connected:  stats.Connected,
			Reconnects: int64(stats.Reconnects),
			Dropped:    int64(stats.Dropped),
		}
	}
	return snap
}

// Bootstrap seeds the ledger from the broker's open orders so a restart does
// not orphan in-flight orders.
func (e *Engine) Bootstrap(ctx context.Context) error {
	var open []order.Event
	err := e.callBroker("open orders", func() error {
		results, err := e.deps.Broker.GetOpenOrders(ctx, "", nil)
		if err != nil {
			return err
		}
		open = open[:0]
		for _, res := range results {
			vol := res.Volume
			exec := res.ExecutedVolume
			rem := res.RemainingVolume
			open = append(open, order.Event{
				Identifier:      res.Identifier,
				UUID:            res.UUID,
				Market:          res.Market,
				Side:            res.Side,
				RawState:        res.State,
				Volume:          &vol,
				ExecutedVolume:  &exec,
				RemainingVolume: &rem,
			})
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.mu.Lock()
	seeded := e.ledger.Bootstrap(open)
	e.mu.Unlock()
	if seeded > 0 {
		logger.Infof("ledger bootstrapped with %d open order(s)", seeded)
	}
	return nil
}
