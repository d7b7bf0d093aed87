// Package exchange defines the broker abstraction the engine trades
// through. The live Upbit client and the paper broker both implement it, so
// the core never knows which side of the wire it is on.
package exchange

import (
	"errors"
	"fmt"
	"time"
)

// MarketInfo describes one tradable market as listed by the exchange.
type MarketInfo struct {
	Code        string `json:"market"`
	KoreanName  string `json:"korean_name"`
	EnglishName string `json:"english_name"`
	// Warning carries the exchange's caution flag ("CAUTION") when set.
	Warning string `json:"market_warning,omitempty"`
}

// Account is one currency row of the account snapshot.
type Account struct {
	Currency     string  `json:"currency"`
	Balance      float64 `json:"balance,string"`
	Locked       float64 `json:"locked,string"`
	AvgBuyPrice  float64 `json:"avg_buy_price,string"`
	UnitCurrency string  `json:"unit_currency"`
}

// Ticker is the current quote for one market.
type Ticker struct {
	Market           string  `json:"market"`
	TradePrice       float64 `json:"trade_price"`
	HighPrice        float64 `json:"high_price"`
	LowPrice         float64 `json:"low_price"`
	AskPrice         float64 `json:"ask_price,omitempty"`
	BidPrice         float64 `json:"bid_price,omitempty"`
	AccTradePrice24h float64 `json:"acc_trade_price_24h"`
	SignedChangeRate float64 `json:"signed_change_rate"`
	TradeTimestampMs int64   `json:"trade_timestamp"`
}

// OrderResult is the exchange's view of an order, returned by placement and
// open-order queries alike.
type OrderResult struct {
	UUID            string    `json:"uuid"`
	Identifier      string    `json:"identifier,omitempty"`
	Market          string    `json:"market"`
	Side            string    `json:"side"`
	OrdType         string    `json:"ord_type"`
	State           string    `json:"state"`
	Price           float64   `json:"price,string"`
	Volume          float64   `json:"volume,string"`
	ExecutedVolume  float64   `json:"executed_volume,string"`
	RemainingVolume float64   `json:"remaining_volume,string"`
	PaidFee         float64   `json:"paid_fee,string"`
	Locked          float64   `json:"locked,string"`
	TradesCount     int       `json:"trades_count"`
	CreatedAt       time.Time `json:"created_at"`
}

// RateLimitError is the typed signal for HTTP 429/418 responses. StopLoop is
// set on 418: the exchange is threatening a ban and the poll loop must stop
// issuing requests, not merely back off.
type RateLimitError struct {
	StatusCode   int
	Group        string
	RemainingReq string
	RetryAfter   time.Duration
	StopLoop     bool
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (status=%d group=%s remaining=%q retry_after=%s)",
		e.StatusCode, e.Group, e.RemainingReq, e.RetryAfter)
}

// AsRateLimit unwraps err into a RateLimitError if one is in the chain.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
