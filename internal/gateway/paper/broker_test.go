package paper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wonbot/internal/market"
)

func btcCandles(close float64) []market.Candle {
	return []market.Candle{{
		Timestamp: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		Open:      close, High: close, Low: close, Close: close,
		Volume: 10,
	}}
}

func TestBuyThenSellRoundTrip(t *testing.T) {
	b := NewBroker(map[string][]market.Candle{"KRW-BTC": btcCandles(100_000)}, 1_000_000, 0)
	ctx := context.Background()

	buy, err := b.BuyMarket(ctx, "KRW-BTC", 500_000, "cid-1")
	require.NoError(t, err)
	assert.Equal(t, "done", buy.State)
	assert.Equal(t, "cid-1", buy.Identifier)
	assert.InDelta(t, 5.0, buy.ExecutedVolume, 1e-9)

	accounts, err := b.GetAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, 500_000.0, accounts[0].Balance)

	sell, err := b.SellMarket(ctx, "KRW-BTC", 5, "cid-2")
	require.NoError(t, err)
	assert.Equal(t, "done", sell.State)

	accounts, err = b.GetAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1, "position fully closed")
	assert.InDelta(t, 1_000_000, accounts[0].Balance, 1e-6)
}

func TestBuyAppliesFeeAndCapsAtBalance(t *testing.T) {
	b := NewBroker(map[string][]market.Candle{"KRW-BTC": btcCandles(100)}, 10_000, 0.0005)

	buy, err := b.BuyMarket(context.Background(), "KRW-BTC", 50_000, "cid")
	require.NoError(t, err)
	// Whole balance spent, fee shaved off the volume.
	assert.InDelta(t, 10_000*(1-0.0005)/100, buy.ExecutedVolume, 1e-9)

	accounts, _ := b.GetAccounts(context.Background())
	assert.Zero(t, accounts[0].Balance)
}

func TestBuyWithoutFundsRejected(t *testing.T) {
	b := NewBroker(map[string][]market.Candle{"KRW-BTC": btcCandles(100)}, 0, 0)

	res, err := b.BuyMarket(context.Background(), "KRW-BTC", 10_000, "cid")
	require.NoError(t, err)
	assert.Equal(t, "reject", res.State)
}

func TestSellWithoutPositionRejected(t *testing.T) {
	b := NewBroker(map[string][]market.Candle{"KRW-BTC": btcCandles(100)}, 10_000, 0)

	res, err := b.SellMarket(context.Background(), "KRW-BTC", 1, "cid")
	require.NoError(t, err)
	assert.Equal(t, "reject", res.State)
}

func TestSellVolumeClampedToHolding(t *testing.T) {
	b := NewBroker(map[string][]market.Candle{"KRW-BTC": btcCandles(100)}, 10_000, 0)
	ctx := context.Background()

	_, err := b.BuyMarket(ctx, "KRW-BTC", 1_000, "cid")
	require.NoError(t, err)

	sell, err := b.SellMarket(ctx, "KRW-BTC", 999, "cid")
	require.NoError(t, err)
	assert.InDelta(t, 10.0, sell.ExecutedVolume, 1e-9)
}

func TestAveragePriceBlendsAcrossBuys(t *testing.T) {
	b := NewBroker(map[string][]market.Candle{"KRW-BTC": btcCandles(100)}, 100_000, 0)
	ctx := context.Background()

	_, err := b.BuyMarket(ctx, "KRW-BTC", 10_000, "a")
	require.NoError(t, err)

	b.SetCandles("KRW-BTC", btcCandles(200))
	_, err = b.BuyMarket(ctx, "KRW-BTC", 10_000, "b")
	require.NoError(t, err)

	accounts, _ := b.GetAccounts(ctx)
	require.Len(t, accounts, 2)
	// 100 units at 100 plus 50 units at 200: weighted average 133.33.
	assert.InDelta(t, 20_000.0/150.0, accounts[1].AvgBuyPrice, 1e-6)
}

func TestGetCandlesCopiesAndTruncates(t *testing.T) {
	series := []market.Candle{
		{Close: 3}, {Close: 2}, {Close: 1},
	}
	b := NewBroker(map[string][]market.Candle{"KRW-BTC": series}, 0, 0)

	got, err := b.GetCandles(context.Background(), "KRW-BTC", 1, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)

	got[0].Close = 99
	assert.Equal(t, 3.0, series[0].Close, "caller mutation must not leak back")
}
