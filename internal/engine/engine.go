// Package engine orchestrates the trading loop: it polls the broker on
// candle closes, reconciles push events into the order ledger, runs the
// staged exit policy over held positions and gates new entries through the
// risk manager. All mutable trading state lives behind one mutex; the poll
// cycle and the event consumer serialize around it.
package engine

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"wonbot/internal/gateway/exchange"
	"wonbot/internal/gateway/notifier"
	"wonbot/internal/gateway/upbit"
	"wonbot/internal/logger"
	"wonbot/internal/market"
	"wonbot/internal/order"
	"wonbot/internal/pkg/circuit"
	"wonbot/internal/position"
	"wonbot/internal/risk"
	"wonbot/internal/store/tradelog"
	"wonbot/internal/strategy"
	"wonbot/internal/universe"
)

const regimeIntervalMin = 15

// Config is the engine's own knob set; strategy/risk/exit parameters live in
// their packages.
type Config struct {
	Mode        string
	IntervalMin int
	CandleCount int

	UniverseRefresh time.Duration

	ReentryCooldownBars int
	CooldownLossOnly    bool

	OrderTimeout       time.Duration
	MaxEntriesPerCycle int

	// ExcludedCurrencies never count as held positions (e.g. airdropped dust).
	ExcludedCurrencies []string
}

// Deps are the collaborators the engine drives. TradeLog and Events may be
// nil; the engine degrades to not logging trades / not consuming a stream.
type Deps struct {
	Broker    exchange.Broker
	Universe  *universe.Builder
	Evaluator *strategy.Evaluator
	Risk      *risk.Manager
	Policy    *position.Policy
	Buffer    *market.Buffer
	Notifier  notifier.TextNotifier
	TradeLog  *tradelog.Store
	Breaker   *circuit.Breaker

	Events      <-chan upbit.PushEvent
	StreamStats func() upbit.StreamStats

	// SubscribeTicker retargets the push-stream ticker channel at the
	// current watchlist; nil when no stream is attached.
	SubscribeTicker func(codes []string) error
}

// entryIntent remembers the strategy context of a submitted buy until the
// fill confirms it, at which point it seeds the exit state.
type entryIntent struct {
	Market  string
	Verdict strategy.EntryVerdict
}

// marketExit tracks when and why a market was last fully exited, for the
// reentry cooldown.
type marketExit struct {
	At     time.Time
	Reason string
}

type Engine struct {
	cfg  Config
	deps Deps

	mu        sync.Mutex
	ledger    *order.Ledger
	portfolio *order.Portfolio
	riskState risk.State

	exitStates map[string]*position.ExitState
	openedAt   map[string]time.Time
	lastBarTs  map[string]time.Time
	lastEvalTs map[string]time.Time
	lastExit   map[string]marketExit
	lastPrice  map[string]float64

	pendingEntries map[string]entryIntent

	watchlist       []string
	universeFetched time.Time

	pausedUntil time.Time
	stopped     bool
	startedAt   time.Time

	nowFn func() time.Time
}

func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Broker == nil {
		return nil, fmt.Errorf("engine requires a broker")
	}
	if deps.Universe == nil || deps.Evaluator == nil || deps.Risk == nil || deps.Policy == nil || deps.Buffer == nil {
		return nil, fmt.Errorf("engine requires universe, evaluator, risk, policy and buffer")
	}
	if deps.Notifier == nil {
		deps.Notifier = notifier.Noop{}
	}
	if cfg.IntervalMin <= 0 {
		cfg.IntervalMin = 1
	}
	if cfg.CandleCount <= 0 {
		cfg.CandleCount = 200
	}
	if cfg.UniverseRefresh <= 0 {
		cfg.UniverseRefresh = time.Hour
	}
	if cfg.MaxEntriesPerCycle <= 0 {
		cfg.MaxEntriesPerCycle = 1
	}
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = 90 * time.Second
	}
	return &Engine{
		cfg:            cfg,
		deps:           deps,
		ledger:         order.NewLedger(),
		portfolio:      order.NewPortfolio(),
		exitStates:     make(map[string]*position.ExitState),
		openedAt:       make(map[string]time.Time),
		lastBarTs:      make(map[string]time.Time),
		lastEvalTs:     make(map[string]time.Time),
		lastExit:       make(map[string]marketExit),
		lastPrice:      make(map[string]float64),
		pendingEntries: make(map[string]entryIntent),
		startedAt:      time.Now(),
		nowFn:          time.Now,
	}, nil
}

// RunCycle executes one poll cycle. Errors inside a cycle are logged, never
// fatal; the next tick starts fresh.
func (e *Engine) RunCycle(ctx context.Context) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		logger.Warnf("trading stopped by exchange ban signal, cycle skipped")
		return
	}
	if now := e.nowFn(); now.Before(e.pausedUntil) {
		remaining := e.pausedUntil.Sub(now).Truncate(time.Second)
		e.mu.Unlock()
		logger.Infof("rate-limit pause active for another %s, cycle skipped", remaining)
		return
	}
	e.deps.Risk.Rollover(&e.riskState)
	e.mu.Unlock()

	watchlist, err := e.refreshUniverse(ctx)
	if err != nil {
		logger.Errorf("universe refresh failed: %v", err)
		return
	}

	view, err := e.pollAccounts(ctx)
	if err != nil {
		logger.Errorf("account poll failed: %v", err)
		return
	}

	e.manageExits(ctx, view)

	e.tryEntries(ctx, watchlist, view)

	e.sweepTimeouts()
}

// callBroker funnels every REST call through the circuit breaker and the
// rate-limit policy.
func (e *Engine) callBroker(name string, fn func() error) error {
	if e.deps.Breaker != nil && !e.deps.Breaker.Allow() {
		return fmt.Errorf("broker circuit open, %s skipped", name)
	}
	err := fn()
	if err == nil {
		if e.deps.Breaker != nil {
			e.deps.Breaker.RecordSuccess()
		}
		return nil
	}
	if rl, ok := exchange.AsRateLimit(err); ok {
		e.applyRateLimit(rl)
		return err
	}
	if e.deps.Breaker != nil {
		e.deps.Breaker.RecordFailure()
	}
	return err
}

func (e *Engine) applyRateLimit(rl *exchange.RateLimitError) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rl.StopLoop {
		e.stopped = true
		logger.Errorf("exchange returned %d, trading loop stopped", rl.StatusCode)
		e.notify("🛑 Trading stopped: the exchange signalled an imminent ban (HTTP 418). Manual restart required.")
		return
	}
	pause := rl.RetryAfter
	if pause <= 0 {
		pause = 5 * time.Second
	}
	e.pausedUntil = e.nowFn().Add(pause)
	logger.Warnf("rate limited (group=%s), pausing polls for %s", rl.Group, pause)
}

func (e *Engine) refreshUniverse(ctx context.Context) ([]string, error) {
	e.mu.Lock()
	fresh := e.nowFn().Sub(e.universeFetched) < e.cfg.UniverseRefresh && len(e.watchlist) > 0
	cached := append([]string(nil), e.watchlist...)
	e.mu.Unlock()
	if fresh {
		return cached, nil
	}

	var infos []exchange.MarketInfo
	if err := e.callBroker("market list", func() error {
		var err error
		infos, err = e.deps.Broker.ListMarkets(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	candidates := e.deps.Universe.CollectKRWMarkets(infos)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no KRW markets after exclusion filter")
	}

	var tickers []exchange.Ticker
	if err := e.callBroker("ticker", func() error {
		var err error
		tickers, err = e.deps.Broker.GetTicker(ctx, candidates)
		return err
	}); err != nil {
		return nil, err
	}
	watchlist := e.deps.Universe.SelectWatchMarkets(tickers)

	e.mu.Lock()
	e.watchlist = watchlist
	e.universeFetched = e.nowFn()
	for _, t := range tickers {
		if t.TradePrice > 0 {
			e.lastPrice[t.Market] = t.TradePrice
		}
	}
	e.mu.Unlock()
	logger.Infof("universe refreshed: %d candidates -> %d watched", len(candidates), len(watchlist))

	if e.deps.SubscribeTicker != nil {
		if err := e.deps.SubscribeTicker(watchlist); err != nil {
			logger.Warnf("ticker subscription update failed: %v", err)
		}
	}
	return watchlist, nil
}

func (e *Engine) pollAccounts(ctx context.Context) (order.HoldingsView, error) {
	var accounts []exchange.Account
	if err := e.callBroker("accounts", func() error {
		var err error
		accounts, err = e.deps.Broker.GetAccounts(ctx)
		return err
	}); err != nil {
		return order.HoldingsView{}, err
	}

	assets := make([]order.Asset, 0, len(accounts))
	for _, a := range accounts {
		assets = append(assets, order.Asset{
			Currency:    a.Currency,
			Balance:     a.Balance,
			Locked:      a.Locked,
			AvgBuyPrice: a.AvgBuyPrice,
		})
	}

	e.mu.Lock()
	e.portfolio.ApplySnapshot(assets)
	view := order.NormalizeHoldings(assets, e.cfg.ExcludedCurrencies)
	e.deps.Risk.CaptureBaseline(&e.riskState, e.totalEquityLocked(view))
	e.mu.Unlock()
	return view, nil
}

// totalEquityLocked values the account in KRW: cash plus holdings at the
// last seen price, falling back to the recorded cost basis. Caller holds mu.
func (e *Engine) totalEquityLocked(view order.HoldingsView) float64 {
	total := view.AvailableKRW
	for _, h := range view.Holdings {
		price := e.lastPrice["KRW-"+h.Currency]
		if price <= 0 {
			price = h.AvgBuyPrice
		}
		total += (h.Balance + h.Locked) * price
	}
	return total
}

func (e *Engine) fetchCandles(ctx context.Context, marketCode string, intervalMin int) ([]market.Candle, error) {
	var candles []market.Candle
	err := e.callBroker("candles", func() error {
		var err error
		candles, err = e.deps.Broker.GetCandles(ctx, marketCode, intervalMin, e.cfg.CandleCount)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := e.deps.Buffer.Update(marketCode, intervalMin, candles); err != nil {
		return nil, err
	}
	snapshot := e.deps.Buffer.Snapshot(marketCode, intervalMin)
	if len(snapshot) > 0 && snapshot[0].Close > 0 {
		e.mu.Lock()
		e.lastPrice[marketCode] = snapshot[0].Close
		e.mu.Unlock()
	}
	return snapshot, nil
}

// latestClosedBar returns the newest non-synthetic bar timestamp, the
// per-bar identity used by the entry guard and the bars-held counter.
func latestClosedBar(candles []market.Candle) (time.Time, bool) {
	for _, c := range candles {
		if !c.Missing {
			return c.Timestamp, true
		}
	}
	return time.Time{}, false
}

// recordSubmission books a submitted order and folds any synchronously
// reported state (instant-fill brokers) into the ledger, pruning terminal
// records so the timeout sweep never flags them. Caller holds mu.
func (e *Engine) recordSubmissionLocked(res *exchange.OrderResult, clientID, marketCode, side string, requestedQty float64) order.Status {
	e.ledger.Track(order.Accepted(clientID, marketCode, side, requestedQty, res.UUID, e.nowFn()))
	if res.State == "" {
		return order.StatusAccepted
	}
	vol := res.Volume
	exec := res.ExecutedVolume
	rec, err := e.ledger.Apply(order.Event{
		Identifier:     clientID,
		UUID:           res.UUID,
		Market:         marketCode,
		Side:           side,
		RawState:       res.State,
		Volume:         &vol,
		ExecutedVolume: &exec,
	})
	if err != nil {
		return order.StatusAccepted
	}
	if rec.State.Terminal() {
		e.ledger.Prune(clientID)
	}
	return rec.State
}

func (e *Engine) notify(text string) {
	if err := e.deps.Notifier.SendText(text); err != nil {
		logger.Warnf("notification failed: %v", err)
	}
}

func marketCurrency(marketCode string) string {
	return strings.TrimPrefix(marketCode, "KRW-")
}

func floorKRW(v float64) float64 { return math.Floor(v) }
