package market

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrUnsupportedInterval is returned for intervals the buffer was not
// configured to hold.
var ErrUnsupportedInterval = fmt.Errorf("unsupported candle interval")

// Counters tracks contamination observed while updating a buffer. These are
// data-integrity counts, distinct from gap-filled Missing bars.
type Counters struct {
	Duplicate  uint64 `json:"duplicate"`
	OutOfOrder uint64 `json:"out_of_order"`
}

// Buffer keeps a bounded per-(market, interval) ring of candles ordered
// oldest to newest. Gaps between consecutive bars are closed with synthetic
// Missing bars carrying the previous close; out-of-order arrivals are
// rejected and duplicate timestamps overwrite in place, both counted.
type Buffer struct {
	mu       sync.Mutex
	capacity map[int]int
	buffers  map[string]map[int][]Candle
	counters Counters
}

// DefaultCapacities mirrors the 1m/5m/15m working set the engine feeds the
// signal evaluator.
func DefaultCapacities() map[int]int {
	return map[int]int{1: 300, 5: 300, 15: 300}
}

func NewBuffer(capacityByInterval map[int]int) *Buffer {
	if len(capacityByInterval) == 0 {
		capacityByInterval = DefaultCapacities()
	}
	caps := make(map[int]int, len(capacityByInterval))
	for interval, max := range capacityByInterval {
		if interval > 0 && max > 0 {
			caps[interval] = max
		}
	}
	return &Buffer{
		capacity: caps,
		buffers:  make(map[string]map[int][]Candle),
	}
}

// Update appends a batch of candles for market/interval. The batch is
// normalized to chronological order when every candle carries a timestamp;
// otherwise it is assumed newest-first and appended as-is without gap
// analysis (best effort for degraded feeds).
func (b *Buffer) Update(marketID string, interval int, candles []Candle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	max, ok := b.capacity[interval]
	if !ok {
		return fmt.Errorf("%w: %dm", ErrUnsupportedInterval, interval)
	}
	if len(candles) == 0 {
		return nil
	}

	byInterval := b.buffers[marketID]
	if byInterval == nil {
		byInterval = make(map[int][]Candle)
		b.buffers[marketID] = byInterval
	}

	buf := byInterval[interval]
	for _, c := range normalizeOldestFirst(candles) {
		buf = b.appendAligned(buf, interval, max, c)
	}
	byInterval[interval] = buf
	return nil
}

// Snapshot returns the stored candles newest-first as an independent copy.
func (b *Buffer) Snapshot(marketID string, interval int) []Candle {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf := b.buffers[marketID][interval]
	if len(buf) == 0 {
		return nil
	}
	out := make([]Candle, len(buf))
	for i, c := range buf {
		out[len(buf)-1-i] = c
	}
	return out
}

// Len reports the stored candle count for market/interval.
func (b *Buffer) Len(marketID string, interval int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffers[marketID][interval])
}

// Counters returns the contamination counts accumulated so far.
func (b *Buffer) Counters() Counters {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counters
}

func normalizeOldestFirst(candles []Candle) []Candle {
	out := make([]Candle, len(candles))
	copy(out, candles)
	for _, c := range out {
		if c.Timestamp.IsZero() {
			// Assume newest-first source order; reverse to oldest-first.
			for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
				out[i], out[j] = out[j], out[i]
			}
			return out
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func (b *Buffer) appendAligned(buf []Candle, interval, max int, c Candle) []Candle {
	if len(buf) == 0 {
		return pushCapped(buf, max, c)
	}

	prev := buf[len(buf)-1]
	if prev.Timestamp.IsZero() || c.Timestamp.IsZero() {
		return pushCapped(buf, max, c)
	}

	if c.Timestamp.Equal(prev.Timestamp) {
		b.counters.Duplicate++
		buf[len(buf)-1] = c
		return buf
	}
	if c.Timestamp.Before(prev.Timestamp) {
		b.counters.OutOfOrder++
		return buf
	}

	step := time.Duration(interval) * time.Minute
	for c.Timestamp.Sub(prev.Timestamp) > step {
		filler := Candle{
			Timestamp: prev.Timestamp.Add(step),
			Open:      prev.Close,
			High:      prev.Close,
			Low:       prev.Close,
			Close:     prev.Close,
			Missing:   true,
		}
		buf = pushCapped(buf, max, filler)
		prev = filler
	}
	return pushCapped(buf, max, c)
}

func pushCapped(buf []Candle, max int, c Candle) []Candle {
	if len(buf) >= max {
		n := copy(buf, buf[1:])
		buf = buf[:n]
	}
	return append(buf, c)
}
