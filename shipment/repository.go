package shipment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Querier covers both pgxpool.Pool and pgx.Tx for read-only access.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Repository reads shipment and tracking data. Nothing in this package
// mutates the tables; they belong to the logistics side of the system.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// SelectRelevant picks the shipment the dispute policy should reason about:
// an explicitly active shipment wins, otherwise the most recently updated.
func (r *Repository) SelectRelevant(ctx context.Context, q Querier, tradeID string) (Shipment, error) {
	const query = `
SELECT id, trade_id, carrier, status, is_active, estimated_delivery, created_at, updated_at
FROM shipments
WHERE trade_id = $1
ORDER BY is_active DESC, updated_at DESC
LIMIT 1
`
	var s Shipment
	err := q.QueryRow(ctx, query, tradeID).Scan(
		&s.ID,
		&s.TradeID,
		&s.Carrier,
		&s.Status,
		&s.Active,
		&s.EstimatedDelivery,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Shipment{}, ErrNoShipment
		}
		return Shipment{}, fmt.Errorf("shipment: select relevant: %w", err)
	}
	return s, nil
}

// HasMovementSince reports whether the shipment saw at least one movement
// event after the cutoff.
func (r *Repository) HasMovementSince(ctx context.Context, q Querier, shipmentID string, cutoff time.Time) (bool, error) {
	const query = `
SELECT EXISTS (
    SELECT 1 FROM shipment_tracking_events
    WHERE shipment_id = $1
      AND type = ANY($2::text[])
      AND occurred_at >= $3
)
`
	var ok bool
	if err := q.QueryRow(ctx, query, shipmentID, MovementEventTypes, cutoff).Scan(&ok); err != nil {
		return false, fmt.Errorf("shipment: movement check: %w", err)
	}
	return ok, nil
}

// ListEvents returns a shipment's tracking history newest first.
func (r *Repository) ListEvents(ctx context.Context, q Querier, shipmentID string) ([]TrackingEvent, error) {
	const query = `
SELECT id, shipment_id, type, location, occurred_at
FROM shipment_tracking_events
WHERE shipment_id = $1
ORDER BY occurred_at DESC
`
	rows, err := q.Query(ctx, query, shipmentID)
	if err != nil {
		return nil, fmt.Errorf("shipment: list events: %w", err)
	}
	defer rows.Close()

	out := make([]TrackingEvent, 0, 16)
	for rows.Next() {
		var ev TrackingEvent
		if err := rows.Scan(&ev.ID, &ev.ShipmentID, &ev.Type, &ev.Location, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("shipment: scan event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("shipment: iterate events: %w", err)
	}
	return out, nil
}
