// Package scheduler runs the poll loop on ticks aligned to candle closes.
package scheduler

import (
	"context"
	"time"

	"wonbot/internal/logger"
)

// Aligned fires a task on a fixed interval anchored to candle-close
// boundaries: the first run happens at the next close plus Offset, then
// every Interval after that anchor. The task never overlaps itself because
// runs are sequential in one goroutine.
type Aligned struct {
	Name           string
	AlignInterval  time.Duration
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	nowFn func() time.Time
}

func NewAligned(name string, alignInterval, interval, offset time.Duration) *Aligned {
	return &Aligned{
		Name:          name,
		AlignInterval: alignInterval,
		Interval:      interval,
		Offset:        offset,
		nowFn:         time.Now,
	}
}

// Run blocks until ctx is done, invoking task once per tick.
func (s *Aligned) Run(ctx context.Context, task func()) {
	if task == nil || s.AlignInterval <= 0 || s.Interval <= 0 {
		logger.Warnf("scheduler %s: invalid configuration, not starting", s.Name)
		return
	}
	if s.Offset < 0 {
		s.Offset = 0
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	if s.RunImmediately {
		task()
	}

	now := s.nowFn().UTC()
	firstAt := now.Truncate(s.AlignInterval).Add(s.AlignInterval).Add(s.Offset)
	logger.Infof("scheduler %s: first tick at %s (in %s), every %s after",
		s.Name, firstAt.Format(time.RFC3339), firstAt.Sub(now).Truncate(time.Second), s.Interval)

	if !s.waitUntil(ctx, firstAt) {
		return
	}
	task()

	anchor := firstAt
	for {
		nextAt := nextTickAfter(anchor, s.Interval, s.nowFn().UTC())
		if !s.waitUntil(ctx, nextAt) {
			return
		}
		task()
	}
}

func (s *Aligned) waitUntil(ctx context.Context, target time.Time) bool {
	wait := target.Sub(s.nowFn().UTC())
	if wait <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		logger.Infof("scheduler %s: stopped", s.Name)
		return false
	case <-timer.C:
		return true
	}
}

// nextTickAfter returns the first anchor+k·interval strictly after now.
func nextTickAfter(anchor time.Time, interval time.Duration, now time.Time) time.Time {
	if interval <= 0 {
		return now
	}
	delta := now.Sub(anchor)
	if delta < 0 {
		return anchor
	}
	k := delta / interval
	return anchor.Add((k + 1) * interval)
}
