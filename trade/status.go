package trade

// Status represents the lifecycle state of a trade.
type Status string

const (
	StatusDraft         Status = "draft"
	StatusRFQOpen       Status = "rfq_open"
	StatusQuoted        Status = "quoted"
	StatusQuoteAccepted Status = "quote_accepted"
	StatusEscrowPending Status = "escrow_pending"
	StatusEscrowFunded  Status = "escrow_funded"
	StatusInTransit     Status = "in_transit"
	StatusDelivered     Status = "delivered"
	StatusSettled       Status = "settled"
	StatusDisputed      Status = "disputed"
	StatusRefunded      Status = "refunded"
	StatusClosed        Status = "closed"
)

// transitions is the legal-edge graph. Trades are never deleted, only moved
// forward along these edges until a terminal status is reached.
var transitions = map[Status][]Status{
	StatusDraft:         {StatusRFQOpen, StatusClosed},
	StatusRFQOpen:       {StatusQuoted, StatusClosed},
	StatusQuoted:        {StatusQuoteAccepted, StatusClosed},
	StatusQuoteAccepted: {StatusEscrowPending, StatusClosed},
	StatusEscrowPending: {StatusEscrowFunded, StatusClosed},
	StatusEscrowFunded:  {StatusInTransit, StatusDisputed},
	StatusInTransit:     {StatusDelivered, StatusDisputed},
	StatusDelivered:     {StatusSettled, StatusDisputed},
	StatusDisputed:      {StatusRefunded, StatusDelivered, StatusClosed},
	StatusSettled:       nil,
	StatusRefunded:      nil,
	StatusClosed:        nil,
}

// fundedStatuses are the post-funding states from which a dispute may be
// opened. Escrow is held throughout all of them.
var fundedStatuses = []Status{StatusEscrowFunded, StatusInTransit, StatusDelivered}

// Valid reports whether the status value is part of the lifecycle.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether the status has no outgoing edges.
func (s Status) Terminal() bool {
	edges, ok := transitions[s]
	return ok && len(edges) == 0
}

// Funded reports whether escrow is held for a trade in this status.
func (s Status) Funded() bool {
	for _, fs := range fundedStatuses {
		if s == fs {
			return true
		}
	}
	return false
}

// CanTransition reports whether the edge from -> to exists in the graph.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// FundedStatuses returns the post-funding states in graph order.
func FundedStatuses() []Status {
	out := make([]Status, len(fundedStatuses))
	copy(out, fundedStatuses)
	return out
}
