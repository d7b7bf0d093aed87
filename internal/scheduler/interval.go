package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseInterval converts a candle interval string ("1m", "15m", "1h", "1d",
// "1w") into a duration.
func ParseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	unit := s[len(s)-1]
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid interval unit %q", s)
	}
}

// IntervalMinutes maps an interval string onto whole minutes, the unit the
// candle endpoint takes.
func IntervalMinutes(s string) (int, error) {
	d, err := ParseInterval(s)
	if err != nil {
		return 0, err
	}
	if d%time.Minute != 0 {
		return 0, fmt.Errorf("interval %q is not a whole number of minutes", s)
	}
	return int(d / time.Minute), nil
}
