package order

import "time"

// Status is the lifecycle state of a tracked order.
type Status string

const (
	StatusRequested       Status = "REQUESTED"
	StatusAccepted        Status = "ACCEPTED"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCanceled        Status = "CANCELED"
	StatusRejected        Status = "REJECTED"
)

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected:
		return true
	}
	return false
}

// Record is the engine's belief about one order. Identifier is the
// client-assigned id used to correlate async events; UUID is assigned by the
// exchange and may arrive later.
type Record struct {
	UUID         string    `json:"uuid,omitempty"`
	Identifier   string    `json:"identifier"`
	Market       string    `json:"market"`
	Side         string    `json:"side"`
	RequestedQty float64   `json:"requested_qty"`
	FilledQty    float64   `json:"filled_qty"`
	State        Status    `json:"state"`
	UpdatedAt    time.Time `json:"updated_at"`
	RetryCount   int       `json:"retry_count"`
}

// Accepted builds the optimistic record written right after submission.
func Accepted(identifier, market, side string, requestedQty float64, uuid string, now time.Time) Record {
	return Record{
		UUID:         uuid,
		Identifier:   identifier,
		Market:       market,
		Side:         side,
		RequestedQty: requestedQty,
		State:        StatusAccepted,
		UpdatedAt:    now,
	}
}
