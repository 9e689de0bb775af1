package trade

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
)

// Repository performs trade table access inside a caller-owned transaction so
// multi-table writes share one commit.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Get loads a trade by id within the transaction.
func (r *Repository) Get(ctx context.Context, tx pgx.Tx, id string) (Record, error) {
	const q = `
SELECT id, status::text, buyer_company_id, seller_company_id, accepted_quote_id,
       amount, currency, metadata, created_at, updated_at
FROM trades
WHERE id = $1
`
	var rec Record
	err := tx.QueryRow(ctx, q, id).Scan(
		&rec.ID,
		&rec.Status,
		&rec.BuyerCompanyID,
		&rec.SellerCompanyID,
		&rec.AcceptedQuoteID,
		&rec.Amount,
		&rec.Currency,
		&rec.Metadata,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("trade: get: %w", err)
	}
	return rec, nil
}

// UpdateStatus attempts the conditional transition from -> to. The update only
// succeeds while the row still carries the expected status, which is what
// linearizes concurrent transitions; callers must treat a false return as a
// lost race, not an error in itself.
func (r *Repository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, from, to Status, patch map[string]any) (bool, error) {
	body, err := marshalPatch(patch)
	if err != nil {
		return false, err
	}
	const q = `
UPDATE trades
SET status = $1::trade_status,
    metadata = metadata || $2::jsonb,
    updated_at = now()
WHERE id = $3 AND status = $4::trade_status
`
	tag, err := tx.Exec(ctx, q, to, body, id, from)
	if err != nil {
		return false, fmt.Errorf("trade: update status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateStatusFromAny transitions to the target status from any of the
// provided source statuses, used for dispute entry out of the funded states.
func (r *Repository) UpdateStatusFromAny(ctx context.Context, tx pgx.Tx, id string, from []Status, to Status, patch map[string]any) (bool, error) {
	body, err := marshalPatch(patch)
	if err != nil {
		return false, err
	}
	sources := make([]string, len(from))
	for i, s := range from {
		sources[i] = string(s)
	}
	const q = `
UPDATE trades
SET status = $1::trade_status,
    metadata = metadata || $2::jsonb,
    updated_at = now()
WHERE id = $3 AND status = ANY($4::trade_status[])
`
	tag, err := tx.Exec(ctx, q, to, body, id, sources)
	if err != nil {
		return false, fmt.Errorf("trade: update status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimQuote marks the quote accepted while it is still open and belongs to
// the trade, returning its priced terms. Exactly one claim can ever succeed
// per quote.
func (r *Repository) ClaimQuote(ctx context.Context, tx pgx.Tx, quoteID, tradeID string) (QuotePricing, bool, error) {
	const q = `
UPDATE quotes
SET status = 'accepted', updated_at = now()
WHERE id = $1 AND trade_id = $2 AND status = 'open'
RETURNING unit_price, total_price, currency, lead_time_days, incoterms, payment_terms
`
	var pricing QuotePricing
	err := tx.QueryRow(ctx, q, quoteID, tradeID).Scan(
		&pricing.UnitPrice,
		&pricing.TotalPrice,
		&pricing.Currency,
		&pricing.LeadTimeDays,
		&pricing.Incoterms,
		&pricing.PaymentTerms,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return QuotePricing{}, false, nil
		}
		return QuotePricing{}, false, fmt.Errorf("trade: claim quote: %w", err)
	}
	return pricing, true, nil
}

// SetAcceptedQuote records the winning quote on the trade. The guard on
// accepted_quote_id enforces at-most-one acceptance even if two transactions
// raced past the quote claim.
func (r *Repository) SetAcceptedQuote(ctx context.Context, tx pgx.Tx, tradeID, quoteID string, total float64, patch map[string]any) (bool, error) {
	body, err := marshalPatch(patch)
	if err != nil {
		return false, err
	}
	const q = `
UPDATE trades
SET status = 'quote_accepted',
    accepted_quote_id = $1,
    amount = $2,
    metadata = metadata || $3::jsonb,
    updated_at = now()
WHERE id = $4 AND status = 'quoted' AND accepted_quote_id IS NULL
`
	tag, err := tx.Exec(ctx, q, quoteID, total, body, tradeID)
	if err != nil {
		return false, fmt.Errorf("trade: set accepted quote: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SupersedeOpenQuotes closes out the losing quotes once one is accepted.
func (r *Repository) SupersedeOpenQuotes(ctx context.Context, tx pgx.Tx, tradeID, acceptedQuoteID string) error {
	const q = `
UPDATE quotes
SET status = 'superseded', updated_at = now()
WHERE trade_id = $1 AND id <> $2 AND status = 'open'
`
	if _, err := tx.Exec(ctx, q, tradeID, acceptedQuoteID); err != nil {
		return fmt.Errorf("trade: supersede quotes: %w", err)
	}
	return nil
}

// GetActor loads the acting user's company membership and role.
func (r *Repository) GetActor(ctx context.Context, tx pgx.Tx, userID string) (Actor, error) {
	const q = `SELECT id, company_id, role FROM users WHERE id = $1`
	var actor Actor
	if err := tx.QueryRow(ctx, q, userID).Scan(&actor.UserID, &actor.CompanyID, &actor.Role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Actor{}, ErrForbidden
		}
		return Actor{}, fmt.Errorf("trade: load actor: %w", err)
	}
	return actor, nil
}

// AppendTimeline records an immutable business event for the trade.
func (r *Repository) AppendTimeline(ctx context.Context, tx pgx.Tx, tradeID, eventType, actorID string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("trade: marshal timeline payload: %w", err)
	}
	var actor any
	if actorID != "" {
		actor = actorID
	}
	const q = `
INSERT INTO timeline_events (trade_id, type, payload, actor_id)
VALUES ($1, $2, $3::jsonb, $4::uuid)
`
	if _, err := tx.Exec(ctx, q, tradeID, eventType, body, actor); err != nil {
		return fmt.Errorf("trade: insert timeline event: %w", err)
	}
	return nil
}

// EnqueueOutbox appends a transactional outbox message for downstream delivery.
func (r *Repository) EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("trade: marshal outbox payload: %w", err)
	}
	const q = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, q, topic, body); err != nil {
		return fmt.Errorf("trade: enqueue outbox: %w", err)
	}
	return nil
}

// ListTimeline returns the trade's timeline events oldest first.
func (r *Repository) ListTimeline(ctx context.Context, tx pgx.Tx, tradeID string) ([]TimelineEvent, error) {
	const q = `
SELECT id, trade_id, type, actor_id, payload, created_at
FROM timeline_events
WHERE trade_id = $1
ORDER BY id
`
	rows, err := tx.Query(ctx, q, tradeID)
	if err != nil {
		return nil, fmt.Errorf("trade: list timeline: %w", err)
	}
	defer rows.Close()

	out := make([]TimelineEvent, 0, 8)
	for rows.Next() {
		var ev TimelineEvent
		if err := rows.Scan(&ev.ID, &ev.TradeID, &ev.Type, &ev.ActorID, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("trade: scan timeline: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("trade: iterate timeline: %w", err)
	}
	return out, nil
}

func marshalPatch(patch map[string]any) ([]byte, error) {
	if patch == nil {
		patch = map[string]any{}
	}
	body, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("trade: marshal metadata patch: %w", err)
	}
	return body, nil
}
