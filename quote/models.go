package quote

import (
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("quote: not found")
	ErrForbidden    = errors.New("quote: forbidden")
	ErrInvalidState = errors.New("quote: invalid state")
)

type Status string

const (
	StatusOpen       Status = "open"
	StatusAccepted   Status = "accepted"
	StatusSuperseded Status = "superseded"
	StatusWithdrawn  Status = "withdrawn"
)

// Quote is a supplier's priced offer against an open request.
type Quote struct {
	ID                string
	TradeID           string
	SupplierCompanyID string
	Status            Status
	UnitPrice         float64
	TotalPrice        float64
	Currency          string
	LeadTimeDays      int
	Incoterms         string
	PaymentTerms      string
	ValidUntil        *time.Time
	Notes             *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Filters narrows quote listings.
type Filters struct {
	TradeID           string
	SupplierCompanyID string
	Status            string
	Page              int
	PageSize          int
}
