package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
)

// Repository performs escrow table access inside a caller-owned transaction.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

const defaultCommissionRate = 2.5

// CreatePending inserts the escrow row awaiting the buyer's deposit. The
// partial unique index on trade_id guarantees one active row per trade.
func (r *Repository) CreatePending(ctx context.Context, tx pgx.Tx, tradeID, buyerCompanyID, sellerCompanyID string, amount float64, currency string) (Payment, error) {
	const q = `
INSERT INTO escrow_payments (trade_id, buyer_company_id, seller_company_id, amount, currency, commission_rate, status)
VALUES ($1, $2, $3, $4, $5, $6, 'pending')
RETURNING id, trade_id, buyer_company_id, seller_company_id, amount, currency, commission_rate,
          status::text, provider_ref, created_at, updated_at, held_at, released_at, refunded_at
`
	return r.scanPayment(tx.QueryRow(ctx, q, tradeID, buyerCompanyID, sellerCompanyID, amount, currency, defaultCommissionRate))
}

// GetByTrade loads the active escrow row for the trade.
func (r *Repository) GetByTrade(ctx context.Context, tx pgx.Tx, tradeID string) (Payment, error) {
	const q = `
SELECT id, trade_id, buyer_company_id, seller_company_id, amount, currency, commission_rate,
       status::text, provider_ref, created_at, updated_at, held_at, released_at, refunded_at
FROM escrow_payments
WHERE trade_id = $1
ORDER BY created_at DESC
LIMIT 1
`
	p, err := r.scanPayment(tx.QueryRow(ctx, q, tradeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrIntegrity
		}
		return Payment{}, err
	}
	return p, nil
}

// Hold moves pending -> held, stamping the provider transaction reference.
// A false return means no pending row matched; the caller decides whether
// that is an idempotent replay or an integrity fault.
func (r *Repository) Hold(ctx context.Context, tx pgx.Tx, tradeID, providerRef string) (Payment, bool, error) {
	const q = `
UPDATE escrow_payments
SET status = 'held', provider_ref = $1, held_at = now(), updated_at = now()
WHERE trade_id = $2 AND status = 'pending'
RETURNING id, trade_id, buyer_company_id, seller_company_id, amount, currency, commission_rate,
          status::text, provider_ref, created_at, updated_at, held_at, released_at, refunded_at
`
	p, err := r.scanPayment(tx.QueryRow(ctx, q, providerRef, tradeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, false, nil
		}
		return Payment{}, false, err
	}
	return p, true, nil
}

// Release moves held -> released. Only delivery acceptance calls this.
func (r *Repository) Release(ctx context.Context, tx pgx.Tx, tradeID string) (Payment, bool, error) {
	const q = `
UPDATE escrow_payments
SET status = 'released', released_at = now(), updated_at = now()
WHERE trade_id = $1 AND status = 'held'
RETURNING id, trade_id, buyer_company_id, seller_company_id, amount, currency, commission_rate,
          status::text, provider_ref, created_at, updated_at, held_at, released_at, refunded_at
`
	p, err := r.scanPayment(tx.QueryRow(ctx, q, tradeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, false, nil
		}
		return Payment{}, false, err
	}
	return p, true, nil
}

// Refund moves held -> refunded. Only a REFUND_BUYER verdict calls this.
func (r *Repository) Refund(ctx context.Context, tx pgx.Tx, tradeID string) (Payment, bool, error) {
	const q = `
UPDATE escrow_payments
SET status = 'refunded', refunded_at = now(), updated_at = now()
WHERE trade_id = $1 AND status = 'held'
RETURNING id, trade_id, buyer_company_id, seller_company_id, amount, currency, commission_rate,
          status::text, provider_ref, created_at, updated_at, held_at, released_at, refunded_at
`
	p, err := r.scanPayment(tx.QueryRow(ctx, q, tradeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, false, nil
		}
		return Payment{}, false, err
	}
	return p, true, nil
}

// AppendEvent records one audit row for an escrow movement.
func (r *Repository) AppendEvent(ctx context.Context, tx pgx.Tx, escrowID, eventType string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("escrow: marshal event payload: %w", err)
	}
	const q = `INSERT INTO escrow_events (escrow_id, type, payload) VALUES ($1, $2, $3::jsonb)`
	if _, err := tx.Exec(ctx, q, escrowID, eventType, body); err != nil {
		return fmt.Errorf("escrow: insert event: %w", err)
	}
	return nil
}

func (r *Repository) scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	err := row.Scan(
		&p.ID,
		&p.TradeID,
		&p.BuyerCompanyID,
		&p.SellerCompanyID,
		&p.Amount,
		&p.Currency,
		&p.CommissionRate,
		&p.Status,
		&p.ProviderRef,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.HeldAt,
		&p.ReleasedAt,
		&p.RefundedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, pgx.ErrNoRows
		}
		return Payment{}, fmt.Errorf("escrow: scan payment: %w", err)
	}
	return p, nil
}
