package trade

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no trade row exists for the identifier.
	ErrNotFound = errors.New("trade: not found")
	// ErrInvalidState signals the requested status transition is not legal
	// from the trade's current status.
	ErrInvalidState = errors.New("trade: invalid status transition")
	// ErrForbidden signals the actor is not a party authorised for the action.
	ErrForbidden = errors.New("trade: forbidden")
	// ErrConsentRequired signals a required delivery-confirmation consent flag
	// was not set.
	ErrConsentRequired = errors.New("trade: consent required")
	// ErrQuoteUnavailable signals the quote does not belong to the trade or is
	// no longer open for acceptance.
	ErrQuoteUnavailable = errors.New("trade: quote unavailable")
)

// Record mirrors the trades table columns touched by the service.
type Record struct {
	ID              string
	Status          Status
	BuyerCompanyID  string
	SellerCompanyID string
	AcceptedQuoteID *string
	Amount          float64
	Currency        string
	Metadata        []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// QuotePricing carries the priced terms copied onto the trade when a quote is
// accepted.
type QuotePricing struct {
	UnitPrice    float64
	TotalPrice   float64
	Currency     string
	LeadTimeDays int
	Incoterms    string
	PaymentTerms string
}

// Actor identifies the authenticated user performing an operation together
// with their company membership.
type Actor struct {
	UserID    string
	CompanyID string
	Role      string
}

const (
	RoleBuyer    = "buyer"
	RoleSupplier = "supplier"
	RoleAdmin    = "admin"
)

// TimelineEvent captures an immutable business event recorded against a trade.
type TimelineEvent struct {
	ID        int64
	TradeID   string
	Type      string
	ActorID   *string
	Payload   []byte
	CreatedAt time.Time
}

// Outbox topics emitted by trade transitions.
const (
	OutboxTopicStatusChanged    = "trade.status_changed"
	OutboxTopicQuoteAccepted    = "trade.quote_accepted"
	OutboxTopicDeliveryAccepted = "trade.delivery_accepted"
	OutboxTopicDisputeOpened    = "trade.dispute_opened"
)
