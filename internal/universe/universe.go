// Package universe selects the tradable and watchable KRW market sets from
// exchange listings and quote activity.
package universe

import (
	"sort"
	"strings"

	"wonbot/internal/gateway/exchange"
	"wonbot/internal/market"
)

// Config bounds the universe. TopByValue ranks candidates by 24h trading
// value; WatchLimit caps how many of those the engine actually polls.
type Config struct {
	ExcludedKeywords  []string
	MaxRelativeSpread float64
	TopByValue        int
	WatchLimit        int
	MaxMissingRate    float64
}

type Builder struct {
	cfg Config
}

func NewBuilder(cfg Config) *Builder {
	return &Builder{cfg: cfg}
}

// CollectKRWMarkets keeps KRW-quoted markets minus the exclusion keywords.
func (b *Builder) CollectKRWMarkets(infos []exchange.MarketInfo) []string {
	return CollectKRWMarkets(infos, b.cfg.ExcludedKeywords)
}

// SelectWatchMarkets narrows ticker candidates to the watch set: spread
// filter, then top-N by trading value, then the watch cap.
func (b *Builder) SelectWatchMarkets(tickers []exchange.Ticker) []string {
	candidates := make([]exchange.Ticker, 0, len(tickers))
	for _, ticker := range tickers {
		if ticker.Market != "" {
			candidates = append(candidates, ticker)
		}
	}
	candidates = FilterByRelativeSpread(candidates, b.cfg.MaxRelativeSpread)
	candidates = SelectTopByTradingValue(candidates, b.cfg.TopByValue)
	return LimitWatchMarkets(candidates, b.cfg.WatchLimit)
}

// FilterByMissingRate drops markets whose candle history is too gappy.
func (b *Builder) FilterByMissingRate(markets []string, candlesByMarket map[string][]market.Candle) []string {
	return FilterByMissingRate(markets, candlesByMarket, b.cfg.MaxMissingRate)
}

func CollectKRWMarkets(infos []exchange.MarketInfo, excludedKeywords []string) []string {
	out := make([]string, 0, len(infos))
	for _, info := range infos {
		if !strings.HasPrefix(info.Code, "KRW-") {
			continue
		}
		if containsAny(info.Code, excludedKeywords) {
			continue
		}
		out = append(out, info.Code)
	}
	return out
}

// FilterByRelativeSpread keeps tickers whose (ask−bid)/last spread is within
// the cap. Tickers without quote depth pass through untouched.
func FilterByRelativeSpread(tickers []exchange.Ticker, maxRelativeSpread float64) []exchange.Ticker {
	if maxRelativeSpread <= 0 {
		return tickers
	}
	out := make([]exchange.Ticker, 0, len(tickers))
	for _, ticker := range tickers {
		if ticker.AskPrice <= 0 || ticker.BidPrice <= 0 || ticker.TradePrice <= 0 {
			out = append(out, ticker)
			continue
		}
		spread := (ticker.AskPrice - ticker.BidPrice) / ticker.TradePrice
		if spread <= maxRelativeSpread {
			out = append(out, ticker)
		}
	}
	return out
}

func SelectTopByTradingValue(tickers []exchange.Ticker, topN int) []exchange.Ticker {
	if topN <= 0 {
		return nil
	}
	ranked := make([]exchange.Ticker, len(tickers))
	copy(ranked, tickers)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].AccTradePrice24h > ranked[j].AccTradePrice24h
	})
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}
	return ranked
}

func LimitWatchMarkets(tickers []exchange.Ticker, watchLimit int) []string {
	if watchLimit <= 0 {
		return nil
	}
	out := make([]string, 0, watchLimit)
	for _, ticker := range tickers {
		if len(out) == watchLimit {
			break
		}
		out = append(out, ticker.Market)
	}
	return out
}

func FilterByMissingRate(markets []string, candlesByMarket map[string][]market.Candle, maxMissingRate float64) []string {
	if maxMissingRate < 0 {
		return markets
	}
	out := make([]string, 0, len(markets))
	for _, code := range markets {
		candles := candlesByMarket[code]
		if len(candles) == 0 {
			continue
		}
		if market.MissingRate(candles) <= maxMissingRate {
			out = append(out, code)
		}
	}
	return out
}

func containsAny(s string, keywords []string) bool {
	for _, keyword := range keywords {
		if keyword != "" && strings.Contains(s, keyword) {
			return true
		}
	}
	return false
}
