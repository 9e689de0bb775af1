package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicateEvent signals the webhook event was already processed.
var ErrDuplicateEvent = errors.New("payment: duplicate webhook event")

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// ReserveEvent claims the webhook's idempotency key inside the active
// transaction. The unique index on the key is what makes replays safe.
func (r *Repository) ReserveEvent(ctx context.Context, tx pgx.Tx, key string) error {
	if key == "" {
		return fmt.Errorf("payment: empty idempotency key")
	}

	_, err := tx.Exec(ctx, `INSERT INTO idempotency (key) VALUES ($1)`, key)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("payment: reserve event: %w", err)
	}

	return nil
}
