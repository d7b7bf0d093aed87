// Package paper implements an in-memory broker that fills market orders
// instantly at the latest candle close. It backs dry runs and engine tests;
// no network, no latency, deterministic fills.
package paper

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"wonbot/internal/gateway/exchange"
	"wonbot/internal/market"
	"wonbot/internal/pkg/pricing"
)

type position struct {
	volume      float64
	avgBuyPrice float64
}

// Broker simulates the exchange against a caller-supplied candle set.
type Broker struct {
	mu       sync.Mutex
	candles  map[string][]market.Candle
	krw      float64
	feeRate  float64
	holdings map[string]position
	nowFn    func() time.Time
}

func NewBroker(candlesByMarket map[string][]market.Candle, initialKRW, feeRate float64) *Broker {
	if candlesByMarket == nil {
		candlesByMarket = make(map[string][]market.Candle)
	}
	return &Broker{
		candles:  candlesByMarket,
		krw:      initialKRW,
		feeRate:  feeRate,
		holdings: make(map[string]position),
		nowFn:    time.Now,
	}
}

func (b *Broker) Name() string { return "paper" }

// SetCandles replaces one market's candle series, newest first.
func (b *Broker) SetCandles(marketCode string, candles []market.Candle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.candles[marketCode] = candles
}

func (b *Broker) ListMarkets(context.Context) ([]exchange.MarketInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	infos := make([]exchange.MarketInfo, 0, len(b.candles))
	for code := range b.candles {
		infos = append(infos, exchange.MarketInfo{Code: code})
	}
	return infos, nil
}

func (b *Broker) GetAccounts(context.Context) ([]exchange.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	accounts := []exchange.Account{{
		Currency:     "KRW",
		Balance:      b.krw,
		UnitCurrency: "KRW",
	}}
	for code, pos := range b.holdings {
		accounts = append(accounts, exchange.Account{
			Currency:     strings.TrimPrefix(code, "KRW-"),
			Balance:      pos.volume,
			AvgBuyPrice:  pos.avgBuyPrice,
			UnitCurrency: "KRW",
		})
	}
	return accounts, nil
}

func (b *Broker) GetTicker(_ context.Context, markets []string) ([]exchange.Ticker, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tickers := make([]exchange.Ticker, 0, len(markets))
	for _, code := range markets {
		series, ok := b.candles[code]
		if !ok || len(series) == 0 {
			continue
		}
		tickers = append(tickers, exchange.Ticker{
			Market:           code,
			TradePrice:       series[0].Close,
			AccTradePrice24h: series[0].Volume * series[0].Close,
		})
	}
	return tickers, nil
}

func (b *Broker) GetCandles(_ context.Context, marketCode string, _, count int) ([]market.Candle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	series := b.candles[marketCode]
	if count > 0 && len(series) > count {
		series = series[:count]
	}
	out := make([]market.Candle, len(series))
	copy(out, series)
	return out, nil
}

func (b *Broker) BuyMarket(_ context.Context, marketCode string, amountKRW float64, clientID string) (*exchange.OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	orderKRW := amountKRW
	if orderKRW > b.krw {
		orderKRW = b.krw
	}
	if orderKRW <= 0 {
		return b.rejected(marketCode, "bid", clientID), nil
	}
	fillPrice, err := b.currentPrice(marketCode)
	if err != nil {
		return nil, err
	}

	filledVolume := orderKRW * (1 - b.feeRate) / fillPrice
	b.krw -= orderKRW

	current := b.holdings[marketCode]
	totalCost := current.volume*current.avgBuyPrice + filledVolume*fillPrice
	totalVolume := current.volume + filledVolume
	b.holdings[marketCode] = position{volume: totalVolume, avgBuyPrice: totalCost / totalVolume}

	return b.filled(marketCode, "bid", clientID, fillPrice, filledVolume), nil
}

func (b *Broker) SellMarket(_ context.Context, marketCode string, volume float64, clientID string) (*exchange.OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.holdings[marketCode]
	if !ok {
		return b.rejected(marketCode, "ask", clientID), nil
	}
	sellVolume := volume
	if sellVolume > pos.volume {
		sellVolume = pos.volume
	}
	if sellVolume <= 0 {
		return b.rejected(marketCode, "ask", clientID), nil
	}
	fillPrice, err := b.currentPrice(marketCode)
	if err != nil {
		return nil, err
	}

	b.krw += sellVolume * fillPrice * (1 - b.feeRate)
	remaining := pos.volume - sellVolume
	if remaining <= 0 {
		delete(b.holdings, marketCode)
	} else {
		b.holdings[marketCode] = position{volume: remaining, avgBuyPrice: pos.avgBuyPrice}
	}

	return b.filled(marketCode, "ask", clientID, fillPrice, sellVolume), nil
}

func (b *Broker) GetOpenOrders(context.Context, string, []string) ([]exchange.OrderResult, error) {
	// Paper fills are instantaneous, nothing ever rests on the book.
	return nil, nil
}

// currentPrice quotes the latest close, snapped onto the KRW tick grid the
// way a real fill would settle.
func (b *Broker) currentPrice(marketCode string) (float64, error) {
	series := b.candles[marketCode]
	if len(series) == 0 {
		return 0, fmt.Errorf("no candle data for %s", marketCode)
	}
	last := series[0].Close
	return pricing.RoundDownToTick(last, pricing.KRWTickSize(last)), nil
}

func (b *Broker) filled(marketCode, side, clientID string, price, volume float64) *exchange.OrderResult {
	return &exchange.OrderResult{
		UUID:           uuid.NewString(),
		Identifier:     clientID,
		Market:         marketCode,
		Side:           side,
		State:          "done",
		Price:          price,
		Volume:         volume,
		ExecutedVolume: volume,
		CreatedAt:      b.nowFn(),
	}
}

func (b *Broker) rejected(marketCode, side, clientID string) *exchange.OrderResult {
	return &exchange.OrderResult{
		UUID:       uuid.NewString(),
		Identifier: clientID,
		Market:     marketCode,
		Side:       side,
		State:      "reject",
		CreatedAt:  b.nowFn(),
	}
}
