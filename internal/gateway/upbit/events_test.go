package upbit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeOrderEvent(t *testing.T) {
	raw := []byte(`{
		"type":"myOrder","identifier":"ord-1","uuid":"u-1","code":"KRW-BTC",
		"ask_bid":"ASK","state":"trade","volume":"2","executed_volume":"0.5","remaining_volume":"1.5"
	}`)

	ev := decodePushEvent(raw)
	require.Equal(t, EventOrder, ev.Kind)
	require.NotNil(t, ev.Order)
	assert.Equal(t, "ord-1", ev.Order.Identifier)
	assert.Equal(t, "u-1", ev.Order.UUID)
	assert.Equal(t, "KRW-BTC", ev.Order.Market)
	assert.Equal(t, "ask", ev.Order.Side)
	assert.Equal(t, "trade", ev.Order.RawState)
	require.NotNil(t, ev.Order.ExecutedVolume)
	assert.Equal(t, 0.5, *ev.Order.ExecutedVolume)
	require.NotNil(t, ev.Order.RemainingVolume)
	assert.Equal(t, 1.5, *ev.Order.RemainingVolume)
}

func TestDecodeOrderEventOmitsAbsentVolumes(t *testing.T) {
	raw := []byte(`{"type":"myOrder","uuid":"u-2","market":"KRW-ETH","side":"bid","state":"wait"}`)

	ev := decodePushEvent(raw)
	require.Equal(t, EventOrder, ev.Kind)
	assert.Nil(t, ev.Order.Volume)
	assert.Nil(t, ev.Order.ExecutedVolume)
	assert.Nil(t, ev.Order.RemainingVolume)
}

func TestDecodeAssetSnapshot(t *testing.T) {
	raw := []byte(`{"type":"myAsset","assets":[
		{"currency":"KRW","balance":"5000","locked":"0","avg_buy_price":"0"},
		{"currency":"BTC","balance":0.25,"locked":0,"avg_buy_price":90000000}
	]}`)

	ev := decodePushEvent(raw)
	require.Equal(t, EventAsset, ev.Kind)
	require.Len(t, ev.Assets, 2)
	assert.Equal(t, "KRW", ev.Assets[0].Currency)
	assert.Equal(t, 5000.0, ev.Assets[0].Balance)
	assert.Equal(t, 0.25, ev.Assets[1].Balance)
	assert.Equal(t, 90000000.0, ev.Assets[1].AvgBuyPrice)
}

func TestDecodeSingleAssetRow(t *testing.T) {
	raw := []byte(`{"type":"myAsset","currency":"XRP","balance":"10","locked":"2"}`)

	ev := decodePushEvent(raw)
	require.Equal(t, EventAsset, ev.Kind)
	require.Len(t, ev.Assets, 1)
	assert.Equal(t, "XRP", ev.Assets[0].Currency)
	assert.Equal(t, 2.0, ev.Assets[0].Locked)
}

func TestDecodeTicker(t *testing.T) {
	raw := []byte(`{"type":"ticker","code":"KRW-BTC","trade_price":91234000}`)

	ev := decodePushEvent(raw)
	require.Equal(t, EventTicker, ev.Kind)
	assert.Equal(t, "KRW-BTC", ev.Market)
	assert.Equal(t, 91234000.0, ev.Price)
}

func TestDecodeUnknownFrame(t *testing.T) {
	ev := decodePushEvent([]byte(`{"status":"UP"}`))
	assert.Equal(t, EventUnknown, ev.Kind)
}

func TestSubscribeReplacesSameChannel(t *testing.T) {
	s := NewStreamClient(StreamConfig{})
	assert.NoError(t, s.Subscribe("ticker", []string{"KRW-BTC"}, false))
	assert.NoError(t, s.Subscribe("ticker", []string{"KRW-ETH", "KRW-XRP"}, false))

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Len(t, s.subs, 1)
	assert.Equal(t, []string{"KRW-ETH", "KRW-XRP"}, s.subs["ticker"].Codes)
}
