package exchange

import (
	"context"

	"wonbot/internal/market"
)

// Broker is the order/market-data surface the engine consumes. Market orders
// carry a caller-supplied client identifier so fills arriving over the push
// stream can be matched back to the originating request.
type Broker interface {
	Name() string

	ListMarkets(ctx context.Context) ([]MarketInfo, error)

	GetAccounts(ctx context.Context) ([]Account, error)

	GetTicker(ctx context.Context, markets []string) ([]Ticker, error)

	GetCandles(ctx context.Context, marketCode string, intervalMin, count int) ([]market.Candle, error)

	BuyMarket(ctx context.Context, marketCode string, amountKRW float64, clientID string) (*OrderResult, error)

	SellMarket(ctx context.Context, marketCode string, volume float64, clientID string) (*OrderResult, error)

	GetOpenOrders(ctx context.Context, marketCode string, states []string) ([]OrderResult, error)
}
