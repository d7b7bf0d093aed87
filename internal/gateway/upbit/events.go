package upbit

import (
	"strings"

	"github.com/tidwall/gjson"

	"wonbot/internal/order"
)

// EventKind classifies a decoded push-stream message.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventOrder
	EventAsset
	EventTicker
)

// PushEvent is one decoded message off the push stream. Exactly one payload
// field is set, selected by Kind.
type PushEvent struct {
	Kind   EventKind
	Order  *order.Event
	Assets []order.Asset
	Market string
	Price  float64
}

// decodePushEvent sniffs the frame type and lifts the payload into the
// ledger/portfolio event types. Unknown frames come back as EventUnknown and
// are dropped by the consumer.
func decodePushEvent(raw []byte) PushEvent {
	switch gjson.GetBytes(raw, "type").String() {
	case "myOrder":
		return PushEvent{Kind: EventOrder, Order: decodeOrderEvent(raw)}
	case "myAsset":
		return PushEvent{Kind: EventAsset, Assets: decodeAssetRows(raw)}
	case "ticker":
		return PushEvent{
			Kind:   EventTicker,
			Market: firstString(raw, "code", "market"),
			Price:  gjson.GetBytes(raw, "trade_price").Float(),
		}
	default:
		return PushEvent{Kind: EventUnknown}
	}
}

func decodeOrderEvent(raw []byte) *order.Event {
	ev := &order.Event{
		Identifier: firstString(raw, "identifier", "id"),
		UUID:       gjson.GetBytes(raw, "uuid").String(),
		Market:     firstString(raw, "market", "code"),
		Side:       strings.ToLower(firstString(raw, "side", "ask_bid")),
		RawState:   gjson.GetBytes(raw, "state").String(),
	}
	if v := gjson.GetBytes(raw, "volume"); v.Exists() {
		f := v.Float()
		ev.Volume = &f
	}
	if v := gjson.GetBytes(raw, "executed_volume"); v.Exists() {
		f := v.Float()
		ev.ExecutedVolume = &f
	}
	if v := gjson.GetBytes(raw, "remaining_volume"); v.Exists() {
		f := v.Float()
		ev.RemainingVolume = &f
	}
	return ev
}

func decodeAssetRows(raw []byte) []order.Asset {
	rows := gjson.GetBytes(raw, "assets")
	if !rows.Exists() {
		rows = gjson.GetBytes(raw, "accounts")
	}
	if !rows.IsArray() {
		// Some feeds flatten a single-currency update into the root object.
		if gjson.GetBytes(raw, "currency").Exists() {
			return []order.Asset{assetFromResult(gjson.ParseBytes(raw))}
		}
		return nil
	}
	assets := make([]order.Asset, 0, len(rows.Array()))
	for _, row := range rows.Array() {
		assets = append(assets, assetFromResult(row))
	}
	return assets
}

func assetFromResult(row gjson.Result) order.Asset {
	return order.Asset{
		Currency:    row.Get("currency").String(),
		Balance:     row.Get("balance").Float(),
		Locked:      row.Get("locked").Float(),
		AvgBuyPrice: row.Get("avg_buy_price").Float(),
	}
}

func firstString(raw []byte, paths ...string) string {
	for _, path := range paths {
		if v := gjson.GetBytes(raw, path); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}
