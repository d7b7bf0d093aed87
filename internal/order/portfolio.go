package order

import "strings"

// Asset is one currency balance held at the exchange.
type Asset struct {
	Currency    string  `json:"currency"`
	Balance     float64 `json:"balance"`
	Locked      float64 `json:"locked"`
	AvgBuyPrice float64 `json:"avg_buy_price"`
}

// Portfolio is the engine's belief about account balances, reconciled from
// poll snapshots and push asset events.
type Portfolio struct {
	assets map[string]Asset
}

func NewPortfolio() *Portfolio {
	return &Portfolio{assets: make(map[string]Asset)}
}

// ApplySnapshot treats the event as a full replacement: the asset feed
// always carries the complete set of nonzero balances, so a currency absent
// from the event disappears from the portfolio. An event with no usable
// assets leaves the previous snapshot in place.
func (p *Portfolio) ApplySnapshot(assets []Asset) {
	next := make(map[string]Asset, len(assets))
	for _, a := range assets {
		currency := strings.TrimSpace(a.Currency)
		if currency == "" {
			continue
		}
		a.Currency = currency
		next[currency] = a
	}
	if len(next) == 0 {
		return
	}
	p.assets = next
}

// Get returns the balance record for currency.
func (p *Portfolio) Get(currency string) (Asset, bool) {
	a, ok := p.assets[currency]
	return a, ok
}

// Assets returns a copy of the current snapshot.
func (p *Portfolio) Assets() map[string]Asset {
	out := make(map[string]Asset, len(p.assets))
	for k, v := range p.assets {
		out[k] = v
	}
	return out
}

// HoldingsView is the per-cycle working view the engine derives from an
// account poll: spendable KRW plus held coin positions.
type HoldingsView struct {
	AvailableKRW float64
	Holdings     []Asset
	HeldMarkets  []string
}

// NormalizeHoldings filters a KRW-denominated account list into the working
// view, dropping zero balances and excluded currencies. The quote currency
// row contributes spendable cash; every other row becomes a held market.
func NormalizeHoldings(accounts []Asset, excluded []string) HoldingsView {
	view := HoldingsView{}
	for _, item := range accounts {
		tradable := item.Balance + item.Locked
		if tradable <= 0 {
			continue
		}
		if item.Currency == "KRW" {
			view.AvailableKRW = item.Balance
			continue
		}
		if containsCurrency(excluded, item.Currency) {
			continue
		}
		view.Holdings = append(view.Holdings, item)
		view.HeldMarkets = append(view.HeldMarkets, "KRW-"+item.Currency)
	}
	return view
}

func containsCurrency(list []string, currency string) bool {
	for _, item := range list {
		if strings.EqualFold(item, currency) {
			return true
		}
	}
	return false
}
