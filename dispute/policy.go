package dispute

import "time"

// Policy is the deterministic refund rule. It is the single source of truth
// for the one decision that moves money: whatever the narrative service says,
// an overdue and silent shipment refunds the buyer.
type Policy struct {
	// OverdueDays is how many whole days past the estimated delivery date a
	// shipment must be before the rule can trigger.
	OverdueDays int
	// MovementWindowDays is how far back to look for carrier movement.
	MovementWindowDays int
}

// DefaultPolicy returns the production rule: refund if delivery is more than
// 14 days overdue with no movement in the last 7 days.
func DefaultPolicy() Policy {
	return Policy{OverdueDays: 14, MovementWindowDays: 7}
}

// PolicyResult carries the computed facts alongside the decision.
type PolicyResult struct {
	DaysOverdue    int
	RecentMovement bool
	Refund         bool
}

// MovementCutoff returns the earliest timestamp a tracking event may carry
// and still count as recent movement.
func (p Policy) MovementCutoff(now time.Time) time.Time {
	return now.AddDate(0, 0, -p.MovementWindowDays)
}

// Evaluate applies the rule to the estimated delivery date and the movement
// flag. Days overdue are whole days, clamped at zero for early or on-time
// shipments.
func (p Policy) Evaluate(now, estimatedDelivery time.Time, hasRecentMovement bool) PolicyResult {
	days := int(now.Sub(estimatedDelivery).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return PolicyResult{
		DaysOverdue:    days,
		RecentMovement: hasRecentMovement,
		Refund:         days > p.OverdueDays && !hasRecentMovement,
	}
}
