package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(minute int) time.Time {
	return time.Date(2025, 6, 1, 9, minute, 0, 0, time.UTC)
}

func bar(minute int, close float64) Candle {
	return Candle{
		Timestamp: ts(minute),
		Open:      close,
		High:      close + 1,
		Low:       close - 1,
		Close:     close,
		Volume:    10,
	}
}

func TestBufferRejectsUnsupportedInterval(t *testing.T) {
	buf := NewBuffer(nil)
	err := buf.Update("KRW-BTC", 7, []Candle{bar(0, 100)})
	assert.ErrorIs(t, err, ErrUnsupportedInterval)
}

func TestBufferGapFill(t *testing.T) {
	buf := NewBuffer(nil)
	require.NoError(t, buf.Update("KRW-BTC", 1, []Candle{bar(0, 100)}))
	require.NoError(t, buf.Update("KRW-BTC", 1, []Candle{bar(4, 104)}))

	snap := buf.Snapshot("KRW-BTC", 1)
	require.Len(t, snap, 5)

	// Newest-first: minute 4 down to minute 0.
	for i := 0; i < len(snap)-1; i++ {
		assert.Equal(t, time.Minute, snap[i].Timestamp.Sub(snap[i+1].Timestamp))
	}
	for _, c := range snap[1:4] {
		assert.True(t, c.Missing)
		assert.Equal(t, 100.0, c.Open)
		assert.Equal(t, 100.0, c.High)
		assert.Equal(t, 100.0, c.Low)
		assert.Equal(t, 100.0, c.Close)
		assert.Zero(t, c.Volume)
	}
	assert.False(t, snap[0].Missing)
	assert.False(t, snap[4].Missing)
}

func TestBufferCapacityEvictsOldest(t *testing.T) {
	buf := NewBuffer(map[int]int{1: 3})
	for minute := 0; minute < 5; minute++ {
		require.NoError(t, buf.Update("KRW-ETH", 1, []Candle{bar(minute, 100+float64(minute))}))
	}
	snap := buf.Snapshot("KRW-ETH", 1)
	require.Len(t, snap, 3)
	assert.Equal(t, ts(4), snap[0].Timestamp)
	assert.Equal(t, ts(2), snap[2].Timestamp)
}

func TestBufferOutOfOrderRejectedAndCounted(t *testing.T) {
	buf := NewBuffer(nil)
	require.NoError(t, buf.Update("KRW-BTC", 1, []Candle{bar(1, 100)}))
	require.NoError(t, buf.Update("KRW-BTC", 1, []Candle{bar(0, 99)}))

	assert.Equal(t, 1, buf.Len("KRW-BTC", 1))
	assert.Equal(t, uint64(1), buf.Counters().OutOfOrder)
	assert.Equal(t, uint64(0), buf.Counters().Duplicate)
	assert.Equal(t, 100.0, buf.Snapshot("KRW-BTC", 1)[0].Close)
}

func TestBufferDuplicateOverwritesAndCounts(t *testing.T) {
	buf := NewBuffer(nil)
	require.NoError(t, buf.Update("KRW-BTC", 1, []Candle{bar(0, 100)}))
	require.NoError(t, buf.Update("KRW-BTC", 1, []Candle{bar(0, 101)}))

	assert.Equal(t, 1, buf.Len("KRW-BTC", 1))
	assert.Equal(t, uint64(1), buf.Counters().Duplicate)
	assert.Equal(t, 101.0, buf.Snapshot("KRW-BTC", 1)[0].Close)
}

func TestBufferNormalizesNewestFirstBatches(t *testing.T) {
	buf := NewBuffer(nil)
	batch := []Candle{bar(2, 102), bar(1, 101), bar(0, 100)}
	require.NoError(t, buf.Update("KRW-BTC", 1, batch))

	snap := buf.Snapshot("KRW-BTC", 1)
	require.Len(t, snap, 3)
	assert.Equal(t, ts(2), snap[0].Timestamp)
	assert.Equal(t, uint64(0), buf.Counters().OutOfOrder)
}

func TestBufferBestEffortWithoutTimestamps(t *testing.T) {
	buf := NewBuffer(nil)
	batch := []Candle{{Close: 102}, {Close: 101}, {Close: 100}}
	require.NoError(t, buf.Update("KRW-BTC", 1, batch))

	snap := buf.Snapshot("KRW-BTC", 1)
	require.Len(t, snap, 3)
	// Newest-first input is preserved: snapshot leads with the newest close.
	assert.Equal(t, 102.0, snap[0].Close)
	assert.Equal(t, uint64(0), buf.Counters().OutOfOrder)
}

func TestBufferSnapshotIsIndependentCopy(t *testing.T) {
	buf := NewBuffer(nil)
	require.NoError(t, buf.Update("KRW-BTC", 1, []Candle{bar(0, 100)}))

	snap := buf.Snapshot("KRW-BTC", 1)
	snap[0].Close = 42

	assert.Equal(t, 100.0, buf.Snapshot("KRW-BTC", 1)[0].Close)
}

func TestMissingRate(t *testing.T) {
	assert.Zero(t, MissingRate(nil))
	candles := []Candle{{Missing: true}, {}, {}, {Missing: true}}
	assert.InDelta(t, 0.5, MissingRate(candles), 1e-9)
}
