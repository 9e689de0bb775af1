package quote

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, q Quote) (Quote, error)
	List(ctx context.Context, filters Filters) ([]Quote, int, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Quote, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status) (Quote, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const quoteColumns = `id, trade_id, supplier_company_id, status, unit_price, total_price, currency,
	lead_time_days, incoterms, payment_terms, valid_until, notes, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, q Quote) (Quote, error) {
	query := `
        INSERT INTO quotes (id, trade_id, supplier_company_id, status, unit_price, total_price, currency,
            lead_time_days, incoterms, payment_terms, valid_until, notes)
        VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        RETURNING ` + quoteColumns

	row := tx.QueryRow(ctx, query,
		q.ID,
		q.TradeID,
		q.SupplierCompanyID,
		q.Status,
		q.UnitPrice,
		q.TotalPrice,
		q.Currency,
		q.LeadTimeDays,
		q.Incoterms,
		q.PaymentTerms,
		q.ValidUntil,
		q.Notes,
	)

	return scanQuote(row)
}

func (r *PGRepository) List(ctx context.Context, filters Filters) ([]Quote, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	base := `SELECT ` + quoteColumns + ` FROM quotes`
	where := []string{"1=1"}
	args := []any{}

	if filters.TradeID != "" {
		where = append(where, fmt.Sprintf("trade_id=$%d", len(args)+1))
		args = append(args, filters.TradeID)
	}
	if filters.SupplierCompanyID != "" {
		where = append(where, fmt.Sprintf("supplier_company_id=$%d", len(args)+1))
		args = append(args, filters.SupplierCompanyID)
	}
	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status=$%d", len(args)+1))
		args = append(args, filters.Status)
	}

	whereClause := " WHERE " + strings.Join(where, " AND ")

	limit := filters.PageSize
	offset := (filters.Page - 1) * filters.PageSize

	query := fmt.Sprintf(`%s%s ORDER BY created_at DESC LIMIT %d OFFSET %d`, base, whereClause, limit, offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("quote: query list: %w", err)
	}
	defer rows.Close()

	list := []Quote{}
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, q)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("quote: iterate list: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM quotes%s", whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("quote: count list: %w", err)
	}

	return list, total, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Quote, error) {
	query := `SELECT ` + quoteColumns + ` FROM quotes WHERE id = $1 FOR UPDATE`

	row := tx.QueryRow(ctx, query, id)
	q, err := scanQuote(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quote{}, ErrNotFound
		}
		return Quote{}, fmt.Errorf("quote: get for update: %w", err)
	}
	return q, nil
}

func (r *PGRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status) (Quote, error) {
	query := `
		UPDATE quotes
		SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + quoteColumns

	row := tx.QueryRow(ctx, query, id, status)
	q, err := scanQuote(row)
	if err != nil {
		return Quote{}, fmt.Errorf("quote: update status: %w", err)
	}
	return q, nil
}

func scanQuote(row pgx.Row) (Quote, error) {
	var q Quote
	return q, row.Scan(
		&q.ID,
		&q.TradeID,
		&q.SupplierCompanyID,
		&q.Status,
		&q.UnitPrice,
		&q.TotalPrice,
		&q.Currency,
		&q.LeadTimeDays,
		&q.Incoterms,
		&q.PaymentTerms,
		&q.ValidUntil,
		&q.Notes,
		&q.CreatedAt,
		&q.UpdatedAt,
	)
}
