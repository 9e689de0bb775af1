package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Repository performs dispute table access inside a caller-owned transaction.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

const recordColumns = `
d.id, d.trade_id, d.raised_by_user_id, d.reason, d.evidence, d.status::text,
d.verdict, d.confidence, d.reasoning, d.recommended_action, d.missing_evidence,
d.policy_triggered, d.judged_at, d.created_at, d.updated_at, d.resolved_at
`

// OpenDispute creates a dispute in open for the trade. Used by the trade
// service when a party reports an issue, inside the same transaction as the
// trade's move to disputed.
func (r *Repository) OpenDispute(ctx context.Context, tx pgx.Tx, tradeID, raisedByUserID, reason, evidence string) (string, error) {
	var ev any
	if evidence != "" {
		ev = evidence
	}
	const q = `
INSERT INTO disputes (trade_id, raised_by_user_id, reason, evidence, status)
VALUES ($1, $2, $3, $4, 'open')
RETURNING id
`
	var id string
	if err := tx.QueryRow(ctx, q, tradeID, raisedByUserID, reason, ev).Scan(&id); err != nil {
		return "", fmt.Errorf("dispute: create: %w", err)
	}
	return id, nil
}

// Get loads a dispute by id.
func (r *Repository) Get(ctx context.Context, tx pgx.Tx, id string) (Record, error) {
	q := `SELECT ` + recordColumns + ` FROM disputes d WHERE d.id = $1`
	rec, err := scanRecord(tx.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	return rec, nil
}

// GetWithParties loads the dispute together with the buyer and seller
// companies on the underlying trade.
func (r *Repository) GetWithParties(ctx context.Context, tx pgx.Tx, id string) (Record, Parties, error) {
	q := `
SELECT ` + recordColumns + `, t.buyer_company_id, t.seller_company_id
FROM disputes d
JOIN trades t ON t.id = d.trade_id
WHERE d.id = $1
`
	row := tx.QueryRow(ctx, q, id)
	var rec Record
	var parties Parties
	err := row.Scan(
		&rec.ID, &rec.TradeID, &rec.RaisedByUserID, &rec.Reason, &rec.Evidence, &rec.Status,
		&rec.Verdict, &rec.Confidence, &rec.Reasoning, &rec.Recommended, &rec.MissingEvidence,
		&rec.PolicyTriggered, &rec.JudgedAt, &rec.CreatedAt, &rec.UpdatedAt, &rec.ResolvedAt,
		&parties.BuyerCompanyID, &parties.SellerCompanyID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, Parties{}, ErrNotFound
		}
		return Record{}, Parties{}, fmt.Errorf("dispute: get with parties: %w", err)
	}
	parties.TradeID = rec.TradeID
	return rec, parties, nil
}

// GetActor loads the requesting user's company and role for authorization.
func (r *Repository) GetActor(ctx context.Context, tx pgx.Tx, userID string) (string, string, error) {
	const q = `SELECT company_id, role FROM users WHERE id = $1`
	var companyID, role string
	if err := tx.QueryRow(ctx, q, userID).Scan(&companyID, &role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", ErrForbidden
		}
		return "", "", fmt.Errorf("dispute: load actor: %w", err)
	}
	return companyID, role, nil
}

// PersistVerdict writes the verdict and resulting status while the dispute is
// still judgeable. A false return means another judgment won the race or the
// dispute was already resolved; the caller falls back to the stored verdict.
func (r *Repository) PersistVerdict(ctx context.Context, tx pgx.Tx, id string, info VerdictInfo, policyTriggered bool, next Status) (bool, error) {
	const q = `
UPDATE disputes
SET verdict = $1,
    confidence = $2,
    reasoning = $3,
    recommended_action = $4,
    missing_evidence = $5,
    policy_triggered = $6,
    status = $7::dispute_status,
    judged_at = now(),
    resolved_at = CASE WHEN $7 = 'resolved_refund_pending' THEN now() ELSE resolved_at END,
    updated_at = now()
WHERE id = $8
  AND status IN ('open', 'pending_info', 'in_review')
`
	tag, err := tx.Exec(ctx, q,
		string(info.Verdict),
		info.Confidence,
		info.Reasoning,
		info.RecommendedAction,
		info.MissingEvidence,
		policyTriggered,
		string(next),
		id,
	)
	if err != nil {
		return false, fmt.Errorf("dispute: persist verdict: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID, &rec.TradeID, &rec.RaisedByUserID, &rec.Reason, &rec.Evidence, &rec.Status,
		&rec.Verdict, &rec.Confidence, &rec.Reasoning, &rec.Recommended, &rec.MissingEvidence,
		&rec.PolicyTriggered, &rec.JudgedAt, &rec.CreatedAt, &rec.UpdatedAt, &rec.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, pgx.ErrNoRows
		}
		return Record{}, fmt.Errorf("dispute: scan: %w", err)
	}
	return rec, nil
}
