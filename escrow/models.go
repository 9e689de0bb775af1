package escrow

import (
	"errors"
	"time"
)

// Status represents the lifecycle of funds held against a trade.
type Status string

const (
	StatusPending  Status = "pending"
	StatusHeld     Status = "held"
	StatusReleased Status = "released"
	StatusRefunded Status = "refunded"
)

// transitions is the only legal movement of escrowed funds. There are no
// backward edges: released or refunded money never becomes held again.
var transitions = map[Status][]Status{
	StatusPending:  {StatusHeld},
	StatusHeld:     {StatusReleased, StatusRefunded},
	StatusReleased: nil,
	StatusRefunded: nil,
}

// CanTransition reports whether funds may move from -> to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

var (
	// ErrIntegrity signals an expected escrow row was not found for a trade.
	// This is a data integrity fault upstream, never retried.
	ErrIntegrity = errors.New("escrow: escrow row missing for trade")
	// ErrInvalidState signals an attempted movement outside pending->held->
	// {released|refunded}.
	ErrInvalidState = errors.New("escrow: invalid status movement")
	// ErrAmountMismatch signals the confirmed payment does not cover the
	// escrowed amount.
	ErrAmountMismatch = errors.New("escrow: confirmed amount does not match escrow")
)

// Payment mirrors the escrow_payments table. One active row exists per trade.
type Payment struct {
	ID              string
	TradeID         string
	BuyerCompanyID  string
	SellerCompanyID string
	Amount          float64
	Currency        string
	CommissionRate  float64
	Status          Status
	ProviderRef     *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	HeldAt          *time.Time
	ReleasedAt      *time.Time
	RefundedAt      *time.Time
}

// Event types appended to escrow_events, one per status movement.
const (
	EventOpened   = "ESCROW_OPENED"
	EventFunded   = "ESCROW_FUNDED"
	EventReleased = "ESCROW_RELEASED"
	EventRefunded = "ESCROW_REFUNDED"
)
