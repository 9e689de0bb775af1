package shipment

import (
	"context"
	"time"
)

// Reader binds the repository to a concrete querier so callers outside this
// package do not carry the connection handle around.
type Reader struct {
	q    Querier
	repo *Repository
}

func NewReader(q Querier) *Reader {
	return &Reader{q: q, repo: NewRepository()}
}

func (r *Reader) SelectRelevant(ctx context.Context, tradeID string) (Shipment, error) {
	return r.repo.SelectRelevant(ctx, r.q, tradeID)
}

func (r *Reader) HasMovementSince(ctx context.Context, shipmentID string, cutoff time.Time) (bool, error) {
	return r.repo.HasMovementSince(ctx, r.q, shipmentID, cutoff)
}

func (r *Reader) ListEvents(ctx context.Context, shipmentID string) ([]TrackingEvent, error) {
	return r.repo.ListEvents(ctx, r.q, shipmentID)
}
