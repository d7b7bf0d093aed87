package order

import (
	"errors"
	"strings"
	"time"
)

// ErrMissingIdentifier marks an order event that cannot be correlated with
// any record. Such events are rejected, never silently applied.
var ErrMissingIdentifier = errors.New("order event is missing identifier/uuid")

// Event is one normalized order update, whether it came from a poll snapshot
// or the push stream. Optional wire fields are pointers so absence survives
// normalization.
type Event struct {
	Identifier      string
	UUID            string
	Market          string
	Side            string
	RawState        string
	Volume          *float64
	ExecutedVolume  *float64
	RemainingVolume *float64
}

// Ledger is the keyed store of order records. It is not internally
// synchronized; the engine serializes poll and push mutation around it.
type Ledger struct {
	records map[string]Record
	nowFn   func() time.Time
}

func NewLedger() *Ledger {
	return &Ledger{
		records: make(map[string]Record),
		nowFn:   time.Now,
	}
}

// Apply reconciles one event into the ledger and returns the updated record.
// Push events are fresher than poll snapshots but both flow through here.
func (l *Ledger) Apply(evt Event) (Record, error) {
	identifier := strings.TrimSpace(evt.Identifier)
	if identifier == "" && evt.UUID != "" {
		identifier = evt.UUID
	}
	if identifier == "" {
		return Record{}, ErrMissingIdentifier
	}

	existing, hasExisting := l.records[identifier]

	rec := Record{
		Identifier: identifier,
		UUID:       evt.UUID,
		Market:     evt.Market,
		Side:       evt.Side,
		UpdatedAt:  l.nowFn(),
		RetryCount: existing.RetryCount,
	}
	if rec.UUID == "" {
		rec.UUID = existing.UUID
	}
	if rec.Market == "" {
		rec.Market = existing.Market
	}
	if rec.Side == "" {
		rec.Side = existing.Side
	}

	rec.RequestedQty = existing.RequestedQty
	if evt.Volume != nil && *evt.Volume > 0 {
		rec.RequestedQty = *evt.Volume
	}

	rec.FilledQty = resolveExecuted(evt, existing, hasExisting, rec.RequestedQty)

	rec.State = resolveState(evt.RawState, existing, hasExisting, rec.RequestedQty, rec.FilledQty)

	l.records[identifier] = rec
	return rec, nil
}

// resolveExecuted picks the executed volume in preference order:
// explicit executed_volume, requested minus remaining_volume, prior record.
// The result never regresses below a previously observed fill, so a stale
// smaller executed_volume cannot undo a partial fill.
func resolveExecuted(evt Event, existing Record, hasExisting bool, requested float64) float64 {
	executed := -1.0
	switch {
	case evt.ExecutedVolume != nil && *evt.ExecutedVolume >= 0:
		executed = *evt.ExecutedVolume
	case evt.RemainingVolume != nil && *evt.RemainingVolume >= 0 && requested > 0:
		executed = requested - *evt.RemainingVolume
		if executed < 0 {
			executed = 0
		}
	case hasExisting:
		executed = existing.FilledQty
	default:
		executed = 0
	}
	if hasExisting && existing.FilledQty > executed {
		executed = existing.FilledQty
	}
	if requested > 0 && executed > requested {
		executed = requested
	}
	return executed
}

func resolveState(raw string, existing Record, hasExisting bool, requested, executed float64) Status {
	next, mapped := mapRawStatus(raw)
	if !mapped {
		switch {
		case requested > 0 && executed > 0 && executed < requested:
			next = StatusPartiallyFilled
		case hasExisting:
			next = existing.State
		default:
			next = StatusAccepted
		}
	}
	// A nonzero partial fill always beats ACCEPTED, even when the raw status
	// still says "wait".
	if next == StatusAccepted && requested > 0 && executed > 0 && executed < requested {
		next = StatusPartiallyFilled
	}
	return next
}

func mapRawStatus(raw string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "wait", "watch":
		return StatusAccepted, true
	case "done", "trade":
		return StatusFilled, true
	case "cancel", "cancelled":
		return StatusCanceled, true
	case "reject", "rejected":
		return StatusRejected, true
	}
	return "", false
}

// Track writes an optimistic record after order submission.
func (l *Ledger) Track(rec Record) {
	if rec.Identifier == "" {
		return
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = l.nowFn()
	}
	l.records[rec.Identifier] = rec
}

// Bootstrap seeds the ledger from the broker's open-order list so a process
// restart does not lose in-flight orders. Events that cannot be correlated
// are skipped; the count of seeded records is returned.
func (l *Ledger) Bootstrap(events []Event) int {
	seeded := 0
	for _, evt := range events {
		if _, err := l.Apply(evt); err == nil {
			seeded++
		}
	}
	return seeded
}

// SweepTimeouts flags every non-terminal record whose last update is older
// than timeout, bumps its retry count and hands it to hook. The sweep only
// raises the signal; any remedial action is the caller's decision.
func (l *Ledger) SweepTimeouts(now time.Time, timeout time.Duration, hook func(Record)) []Record {
	if timeout <= 0 {
		return nil
	}
	var stale []Record
	for id, rec := range l.records {
		if rec.State.Terminal() {
			continue
		}
		if now.Sub(rec.UpdatedAt) < timeout {
			continue
		}
		rec.RetryCount++
		rec.UpdatedAt = now
		l.records[id] = rec
		stale = append(stale, rec)
		if hook != nil {
			hook(rec)
		}
	}
	return stale
}

// Get returns the record for identifier if present.
func (l *Ledger) Get(identifier string) (Record, bool) {
	rec, ok := l.records[identifier]
	return rec, ok
}

// Prune removes a record once terminal. Non-terminal records stay tracked.
func (l *Ledger) Prune(identifier string) bool {
	rec, ok := l.records[identifier]
	if !ok || !rec.State.Terminal() {
		return false
	}
	delete(l.records, identifier)
	return true
}

// Records returns a copy of all tracked records.
func (l *Ledger) Records() []Record {
	out := make([]Record, 0, len(l.records))
	for _, rec := range l.records {
		out = append(out, rec)
	}
	return out
}

// OpenCount reports how many tracked records are still non-terminal.
func (l *Ledger) OpenCount() int {
	n := 0
	for _, rec := range l.records {
		if !rec.State.Terminal() {
			n++
		}
	}
	return n
}
