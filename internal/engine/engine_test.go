package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wonbot/internal/gateway/exchange"
	"wonbot/internal/gateway/paper"
	"wonbot/internal/gateway/upbit"
	"wonbot/internal/market"
	"wonbot/internal/order"
	"wonbot/internal/pkg/circuit"
	"wonbot/internal/position"
	"wonbot/internal/risk"
	"wonbot/internal/strategy"
	"wonbot/internal/universe"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingNotifier) SendText(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, text)
	return nil
}

func (r *recordingNotifier) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

// candlesFromCloses builds a newest-first series from oldest-first closes
// with one-minute spacing and a fixed high/low band.
func candlesFromCloses(closes []float64, start time.Time) []market.Candle {
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		out[len(closes)-1-i] = market.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      c,
			High:      c + 2,
			Low:       c - 2,
			Close:     c,
			Volume:    10,
		}
	}
	return out
}

func entrySignalCloses() []float64 {
	closes := make([]float64, 0, 60)
	for i := 0; i < 50; i++ {
		closes = append(closes, 100)
	}
	for i := 0; i < 10; i++ {
		closes = append(closes, 99)
	}
	return closes
}

func risingCloses(start float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)
	}
	return out
}

func flatCloses(price float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = price
	}
	return out
}

func newTestEngine(t *testing.T, broker exchange.Broker, cfg Config) (*Engine, *recordingNotifier) {
	t.Helper()
	if cfg.IntervalMin == 0 {
		cfg.IntervalMin = 1
	}
	if cfg.CandleCount == 0 {
		cfg.CandleCount = 200
	}
	notif := &recordingNotifier{}
	eng, err := New(cfg, Deps{
		Broker: broker,
		Universe: universe.NewBuilder(universe.Config{
			TopByValue: 10,
			WatchLimit: 10,
		}),
		Evaluator: strategy.NewEvaluator(strategy.Params{}),
		Risk: risk.NewManager(risk.Config{
			RiskPerTradePct:        0.01,
			MaxDailyLossPct:        0.05,
			MaxConsecutiveLosses:   3,
			MaxConcurrentPositions: 3,
			MinOrderKRW:            5000,
		}),
		Policy: position.NewPolicy(position.Config{
			StopLossThreshold:          0.97,
			TrailingStopPct:            0.02,
			PartialTakeProfitThreshold: 1.03,
			PartialTakeProfitRatio:     0.5,
		}),
		Buffer:   market.NewBuffer(map[int]int{1: 300, 15: 300}),
		Notifier: notif,
		Breaker:  circuit.NewBreaker("test", 5, 30*time.Second),
	})
	require.NoError(t, err)
	return eng, notif
}

func TestEntryFlow(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	broker := paper.NewBroker(map[string][]market.Candle{
		"KRW-TEST": candlesFromCloses(entrySignalCloses(), start),
	}, 1_000_000, 0)
	eng, notif := newTestEngine(t, broker, Config{Mode: "paper"})

	eng.RunCycle(context.Background())

	accounts, err := broker.GetAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 2, "entry should have bought the coin")
	assert.Equal(t, "TEST", accounts[1].Currency)

	eng.mu.Lock()
	state := eng.exitStates["KRW-TEST"]
	baseline := eng.riskState.BaselineEquity
	pending := len(eng.pendingEntries)
	eng.mu.Unlock()

	require.NotNil(t, state, "instant fill arms the exit state")
	assert.InDelta(t, 99, state.EntryPrice, 1e-9)
	assert.InDelta(t, 97, state.InitialStopPrice, 1e-9, "swing low stop from the candle band")
	assert.Equal(t, 1_000_000.0, baseline, "baseline captured on first poll")
	assert.Zero(t, pending, "pending entry consumed by the synchronous fill")

	msgs := notif.messages()
	require.NotEmpty(t, msgs)
	assert.Contains(t, msgs[0], "KRW-TEST")
}

func TestOneEvaluationPerClosedBar(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	broker := paper.NewBroker(map[string][]market.Candle{
		// Rising series: evaluated but rejected on the RSI gate.
		"KRW-FLAT": candlesFromCloses(risingCloses(100, 60), start),
	}, 1_000_000, 0)
	eng, _ := newTestEngine(t, broker, Config{Mode: "paper"})

	eng.RunCycle(context.Background())
	eng.mu.Lock()
	firstEval := eng.lastEvalTs["KRW-FLAT"]
	eng.mu.Unlock()
	require.False(t, firstEval.IsZero())

	// Same candles again: the guard must not re-evaluate the same bar, so
	// the recorded timestamp stays put.
	eng.RunCycle(context.Background())
	eng.mu.Lock()
	secondEval := eng.lastEvalTs["KRW-FLAT"]
	eng.mu.Unlock()
	assert.Equal(t, firstEval, secondEval)
}

func TestStopLossExit(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	broker := paper.NewBroker(map[string][]market.Candle{
		"KRW-TEST": candlesFromCloses(flatCloses(100, 60), start),
	}, 1_000_000, 0)
	_, err := broker.BuyMarket(context.Background(), "KRW-TEST", 500_000, "seed")
	require.NoError(t, err)

	// Price collapses below the 3% stop.
	broker.SetCandles("KRW-TEST", candlesFromCloses(flatCloses(90, 60), start))

	eng, notif := newTestEngine(t, broker, Config{Mode: "paper", ReentryCooldownBars: 5})
	eng.RunCycle(context.Background())

	accounts, err := broker.GetAccounts(context.Background())
	require.NoError(t, err)
	assert.Len(t, accounts, 1, "position fully closed")

	eng.mu.Lock()
	exit := eng.lastExit["KRW-TEST"]
	realized := eng.riskState.RealizedPnLToday
	streak := eng.riskState.LossStreak
	cooling := eng.cooldownActive("KRW-TEST", eng.nowFn())
	state := eng.exitStates["KRW-TEST"]
	eng.mu.Unlock()

	assert.Equal(t, position.ReasonStopLoss, exit.Reason)
	assert.InDelta(t, -50_000, realized, 1, "5000 units losing 10 KRW each")
	assert.Equal(t, 1, streak)
	assert.True(t, cooling, "full exit arms the reentry cooldown")
	assert.Zero(t, state.EntryPrice, "exit state reset for the next position")

	msgs := notif.messages()
	require.NotEmpty(t, msgs)
	assert.Contains(t, msgs[len(msgs)-1], "stop_loss")
}

func TestCooldownLossOnly(t *testing.T) {
	broker := paper.NewBroker(nil, 0, 0)
	eng, _ := newTestEngine(t, broker, Config{Mode: "paper", ReentryCooldownBars: 5, CooldownLossOnly: true})

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	eng.nowFn = func() time.Time { return now }
	eng.lastExit["KRW-A"] = marketExit{At: now.Add(-time.Minute), Reason: position.ReasonStopLoss}
	eng.lastExit["KRW-B"] = marketExit{At: now.Add(-time.Minute), Reason: position.ReasonStrategySignal}

	assert.True(t, eng.cooldownActive("KRW-A", now), "loss exit cools down")
	assert.False(t, eng.cooldownActive("KRW-B", now), "signal exit does not")

	now = now.Add(10 * time.Minute)
	assert.False(t, eng.cooldownActive("KRW-A", now), "window expired")
}

type rateLimitedBroker struct {
	*paper.Broker
	err error
}

func (b *rateLimitedBroker) ListMarkets(context.Context) ([]exchange.MarketInfo, error) {
	return nil, b.err
}

func TestBanSignalStopsLoop(t *testing.T) {
	broker := &rateLimitedBroker{
		Broker: paper.NewBroker(nil, 0, 0),
		err:    &exchange.RateLimitError{StatusCode: 418, StopLoop: true},
	}
	eng, notif := newTestEngine(t, broker, Config{Mode: "paper"})

	eng.RunCycle(context.Background())
	eng.mu.Lock()
	stopped := eng.stopped
	eng.mu.Unlock()
	require.True(t, stopped)
	require.NotEmpty(t, notif.messages())
	assert.Contains(t, notif.messages()[0], "418")

	// Every later cycle is a no-op.
	eng.RunCycle(context.Background())
}

func TestRateLimitPausesPolling(t *testing.T) {
	broker := &rateLimitedBroker{
		Broker: paper.NewBroker(nil, 0, 0),
		err:    &exchange.RateLimitError{StatusCode: 429, RetryAfter: 7 * time.Second},
	}
	eng, _ := newTestEngine(t, broker, Config{Mode: "paper"})
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	eng.nowFn = func() time.Time { return now }

	eng.RunCycle(context.Background())
	eng.mu.Lock()
	paused := eng.pausedUntil
	eng.mu.Unlock()
	assert.Equal(t, now.Add(7*time.Second), paused)
}

func TestOrderEventConfirmsEntry(t *testing.T) {
	broker := paper.NewBroker(nil, 0, 0)
	eng, _ := newTestEngine(t, broker, Config{Mode: "paper"})

	eng.mu.Lock()
	eng.lastPrice["KRW-BTC"] = 100
	eng.pendingEntries["order-1"] = entryIntent{
		Market: "KRW-BTC",
		Verdict: strategy.EntryVerdict{
			Enter:       true,
			StopPrice:   97,
			RiskPerUnit: 3,
			EntryATR:    1.5,
			Regime:      "bull",
		},
	}
	eng.ledger.Track(order.Accepted("order-1", "KRW-BTC", "bid", 0.5, "uuid-1", time.Now()))
	eng.mu.Unlock()

	vol := 0.5
	eng.handleEvent(upbit.PushEvent{Kind: upbit.EventOrder, Order: &order.Event{
		Identifier:     "order-1",
		Market:         "KRW-BTC",
		Side:           "bid",
		RawState:       "done",
		ExecutedVolume: &vol,
	}})

	eng.mu.Lock()
	state := eng.exitStates["KRW-BTC"]
	_, tracked := eng.ledger.Get("order-1")
	pending := len(eng.pendingEntries)
	eng.mu.Unlock()

	require.NotNil(t, state)
	assert.InDelta(t, 100, state.EntryPrice, 1e-9)
	assert.InDelta(t, 97, state.InitialStopPrice, 1e-9)
	assert.InDelta(t, 1.5, state.EntryATR, 1e-9)
	assert.Equal(t, "bull", state.EntryRegime)
	assert.False(t, tracked, "terminal record pruned")
	assert.Zero(t, pending)
}

func TestAssetEventReplacesPortfolio(t *testing.T) {
	broker := paper.NewBroker(nil, 0, 0)
	eng, _ := newTestEngine(t, broker, Config{Mode: "paper"})

	eng.handleEvent(upbit.PushEvent{Kind: upbit.EventAsset, Assets: []order.Asset{
		{Currency: "KRW", Balance: 750_000},
		{Currency: "BTC", Balance: 0.01, AvgBuyPrice: 100_000_000},
	}})

	eng.mu.Lock()
	krw, _ := eng.portfolio.Get("KRW")
	btc, ok := eng.portfolio.Get("BTC")
	eng.mu.Unlock()
	assert.Equal(t, 750_000.0, krw.Balance)
	require.True(t, ok)
	assert.Equal(t, 0.01, btc.Balance)
}

func TestSweepTimeoutsNotifies(t *testing.T) {
	broker := paper.NewBroker(nil, 0, 0)
	eng, notif := newTestEngine(t, broker, Config{Mode: "paper", OrderTimeout: time.Minute})

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	eng.mu.Lock()
	eng.ledger.Track(order.Accepted("stuck-1", "KRW-BTC", "ask", 1, "", base))
	eng.mu.Unlock()
	eng.nowFn = func() time.Time { return base.Add(2 * time.Minute) }

	eng.sweepTimeouts()

	msgs := notif.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "stuck-1")
}

func TestSnapshot(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	broker := paper.NewBroker(map[string][]market.Candle{
		"KRW-TEST": candlesFromCloses(entrySignalCloses(), start),
	}, 1_000_000, 0)
	eng, _ := newTestEngine(t, broker, Config{Mode: "paper"})
	eng.deps.StreamStats = func() upbit.StreamStats {
		return upbit.StreamStats{Connected: true, Reconnects: 3}
	}

	eng.RunCycle(context.Background())
	snap := eng.Snapshot()

	assert.Equal(t, "paper", snap.Mode)
	assert.Equal(t, []string{"KRW-TEST"}, snap.Universe)
	require.Len(t, snap.Positions, 1)
	assert.Equal(t, "KRW-TEST", snap.Positions[0].Market)
	assert.Equal(t, "initial_defense", snap.Positions[0].Stage)
	assert.True(t, snap.Stream.Connected)
	assert.EqualValues(t, 3, snap.Stream.Reconnects)
	require.Contains(t, snap.Buffers, "KRW-TEST")
	assert.Equal(t, 60, snap.Buffers["KRW-TEST"].Candles)
}
