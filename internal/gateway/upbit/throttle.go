package upbit

import (
	"context"
	"sync"
	"time"
)

// Request groups with separate per-second quotas on the exchange side.
const (
	groupOrder   = "order"
	groupDefault = "default"
)

func defaultGroupLimits() map[string]int {
	return map[string]int{
		groupOrder:   7,
		groupDefault: 25,
	}
}

// groupThrottle is a client-side fixed-window limiter, one window per request
// group. It keeps the client under the exchange's published quotas so 429s
// stay exceptional rather than routine.
type groupThrottle struct {
	mu          sync.Mutex
	limits      map[string]int
	windowStart map[string]int64
	used        map[string]int

	nowFn   func() time.Time
	sleepFn func(context.Context, time.Duration) error
}

func newGroupThrottle(limits map[string]int) *groupThrottle {
	return &groupThrottle{
		limits:      limits,
		windowStart: make(map[string]int64),
		used:        make(map[string]int),
		nowFn:       time.Now,
		sleepFn:     sleepCtx,
	}
}

// wait blocks until the group has quota in the current one-second window.
func (t *groupThrottle) wait(ctx context.Context, group string) error {
	limit := t.limits[group]
	if limit <= 0 {
		return nil
	}
	for {
		t.mu.Lock()
		now := t.nowFn()
		window := now.Unix()
		if t.windowStart[group] != window {
			t.windowStart[group] = window
			t.used[group] = 0
		}
		if t.used[group] < limit {
			t.used[group]++
			t.mu.Unlock()
			return nil
		}
		wait := time.Duration(window+1)*time.Second - time.Duration(now.UnixNano())
		t.mu.Unlock()

		if err := t.sleepFn(ctx, wait); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
