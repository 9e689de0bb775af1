package dispute

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no dispute row exists for the identifier.
	ErrNotFound = errors.New("dispute: not found")
	// ErrForbidden signals the requester is not a party to the underlying
	// trade and not an admin.
	ErrForbidden = errors.New("dispute: forbidden")
)

// Status represents the lifecycle of a dispute record.
type Status string

const (
	StatusOpen                  Status = "open"
	StatusPendingInfo           Status = "pending_info"
	StatusInReview              Status = "in_review"
	StatusResolvedRefundPending Status = "resolved_refund_pending"
	StatusEscalatedToAdmin      Status = "escalated_to_admin"
)

// Judgeable reports whether a verdict may still be computed for this status.
// Once resolved or escalated, repeated judge calls return the stored verdict.
func (s Status) Judgeable() bool {
	switch s {
	case StatusOpen, StatusPendingInfo, StatusInReview:
		return true
	default:
		return false
	}
}

// Verdict is the closed enum of dispute outcomes. Generated text is validated
// against it before being trusted.
type Verdict string

const (
	VerdictRefundBuyer   Verdict = "REFUND_BUYER"
	VerdictWaitForSeller Verdict = "WAIT_FOR_SELLER"
	VerdictManualReview  Verdict = "MANUAL_REVIEW"
)

// ValidVerdict reports whether v is a recognised verdict value.
func ValidVerdict(v string) bool {
	switch Verdict(v) {
	case VerdictRefundBuyer, VerdictWaitForSeller, VerdictManualReview:
		return true
	default:
		return false
	}
}

// VerdictInfo is the structured verdict stored on the dispute and returned to
// callers. The judge endpoint always returns one, even on degraded paths.
type VerdictInfo struct {
	Verdict           Verdict  `json:"verdict"`
	Confidence        float64  `json:"confidence"`
	Reasoning         string   `json:"reasoning"`
	RecommendedAction string   `json:"recommended_action"`
	MissingEvidence   []string `json:"missing_evidence,omitempty"`
}

// Record mirrors the disputes table.
type Record struct {
	ID              string
	TradeID         string
	RaisedByUserID  string
	Reason          string
	Evidence        *string
	Status          Status
	Verdict         *Verdict
	Confidence      *float64
	Reasoning       *string
	Recommended     *string
	MissingEvidence []string
	PolicyTriggered bool
	JudgedAt        *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ResolvedAt      *time.Time
}

// StoredVerdict reconstructs the VerdictInfo previously persisted on the
// record, or false when the dispute has not been judged yet.
func (r Record) StoredVerdict() (VerdictInfo, bool) {
	if r.Verdict == nil {
		return VerdictInfo{}, false
	}
	info := VerdictInfo{
		Verdict:         *r.Verdict,
		MissingEvidence: r.MissingEvidence,
	}
	if r.Confidence != nil {
		info.Confidence = *r.Confidence
	}
	if r.Reasoning != nil {
		info.Reasoning = *r.Reasoning
	}
	if r.Recommended != nil {
		info.RecommendedAction = *r.Recommended
	}
	return info, true
}

// Parties identifies the companies on the disputed trade.
type Parties struct {
	TradeID         string
	BuyerCompanyID  string
	SellerCompanyID string
}
