package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

func pause() {
	time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
}

func stopped(ctx context.Context, stop <-chan struct{}) (bool, error) {
	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case <-stop:
		return true, nil
	default:
		return false, nil
	}
}

// QuoteAccepter repeatedly tries to accept its quote the way the service
// does: claim the quote while open, then set the accepted quote on the trade
// guarded by accepted_quote_id IS NULL, then open escrow. Two accepters on
// different quotes must produce exactly one winner forever.
func QuoteAccepter(ctx context.Context, pool *pgxpool.Pool, tradeID, quoteID, buyer, seller string, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}

		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, `UPDATE quotes SET status='accepted', updated_at=now()
                                      WHERE id=$1 AND trade_id=$2 AND status='open'`, quoteID, tradeID)
			if err != nil || tag.RowsAffected() == 0 {
				return err
			}
			tag, err = tx.Exec(ctx, `UPDATE trades SET status='quote_accepted', accepted_quote_id=$1, updated_at=now()
                                     WHERE id=$2 AND status='quoted' AND accepted_quote_id IS NULL`, quoteID, tradeID)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				// lost the race, roll the quote claim back too
				return pgx.ErrTxCommitRollback
			}
			if _, err := tx.Exec(ctx, `UPDATE trades SET status='escrow_pending', updated_at=now()
                                       WHERE id=$1 AND status='quote_accepted'`, tradeID); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `INSERT INTO escrow_payments (trade_id, buyer_company_id, seller_company_id, amount, currency, status)
                                       SELECT $1, $2, $3, total_price, currency, 'pending' FROM quotes WHERE id=$4`,
				tradeID, buyer, seller, quoteID); err != nil {
				return err
			}
			_, err = tx.Exec(ctx, `INSERT INTO timeline_events (trade_id, type, payload) VALUES ($1,'QUOTE_ACCEPTED','{}'::jsonb)`, tradeID)
			return err
		})
		if err != nil && !ignorable(err) {
			return fmt.Errorf("accepter: %w", err)
		}
		pause()
	}
}

// FundsConfirmer replays the payment confirmation: pending -> held, funded
// event, trade escrow_pending -> escrow_funded. Replays must never produce a
// second held row or duplicate funded event.
func FundsConfirmer(ctx context.Context, pool *pgxpool.Pool, tradeID, providerRef string, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}

		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			var escrowID string
			err := tx.QueryRow(ctx, `UPDATE escrow_payments SET status='held', provider_ref=$1, held_at=now(), updated_at=now()
                                     WHERE trade_id=$2 AND status='pending' RETURNING id`, providerRef, tradeID).Scan(&escrowID)
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `INSERT INTO escrow_events (escrow_id, type, payload) VALUES ($1,'ESCROW_FUNDED','{}'::jsonb)`, escrowID); err != nil {
				return err
			}
			_, err = tx.Exec(ctx, `UPDATE trades SET status='escrow_funded', updated_at=now()
                                   WHERE id=$1 AND status='escrow_pending'`, tradeID)
			return err
		})
		if err != nil && !ignorable(err) {
			return fmt.Errorf("funds confirmer: %w", err)
		}
		pause()
	}
}

// ShipmentMover pushes the funded trade along escrow_funded -> in_transit ->
// delivered, one conditional edge per tick.
func ShipmentMover(ctx context.Context, pool *pgxpool.Pool, tradeID string, stop <-chan struct{}) error {
	edges := [][2]string{
		{"escrow_funded", "in_transit"},
		{"in_transit", "delivered"},
	}
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}

		edge := edges[rand.Intn(len(edges))]
		_, err := pool.Exec(ctx, `UPDATE trades SET status=$1::trade_status, updated_at=now()
                                  WHERE id=$2 AND status=$3::trade_status`, edge[1], tradeID, edge[0])
		if err != nil && !ignorable(err) {
			return fmt.Errorf("shipment mover: %w", err)
		}
		pause()
	}
}

// DeliveryConfirmer settles the delivered trade and releases escrow in one
// transaction, the same shape as the service's ConfirmDelivery.
func DeliveryConfirmer(ctx context.Context, pool *pgxpool.Pool, tradeID string, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}

		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, `UPDATE trades SET status='settled', updated_at=now()
                                      WHERE id=$1 AND status='delivered'`, tradeID)
			if err != nil || tag.RowsAffected() == 0 {
				return err
			}
			var escrowID string
			err = tx.QueryRow(ctx, `UPDATE escrow_payments SET status='released', released_at=now(), updated_at=now()
                                    WHERE trade_id=$1 AND status='held' RETURNING id`, tradeID).Scan(&escrowID)
			if errors.Is(err, pgx.ErrNoRows) {
				// settling without held escrow is the bug the oracle catches
				return pgx.ErrTxCommitRollback
			}
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `INSERT INTO escrow_events (escrow_id, type, payload) VALUES ($1,'ESCROW_RELEASED','{}'::jsonb)`, escrowID); err != nil {
				return err
			}
			_, err = tx.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ('escrow.released','{}'::jsonb)`)
			return err
		})
		if err != nil && !ignorable(err) {
			return fmt.Errorf("delivery confirmer: %w", err)
		}
		pause()
	}
}

// Disputer occasionally yanks a funded trade into disputed, then refunds it
// the way a REFUND_BUYER verdict would: dispute resolved + escrow refunded +
// trade refunded, one transaction.
func Disputer(ctx context.Context, pool *pgxpool.Pool, tradeID, userID string, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}

		if rand.Intn(4) == 0 {
			err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
				tag, err := tx.Exec(ctx, `UPDATE trades SET status='disputed', updated_at=now()
                                          WHERE id=$1 AND status = ANY('{escrow_funded,in_transit,delivered}'::trade_status[])`, tradeID)
				if err != nil || tag.RowsAffected() == 0 {
					return err
				}
				_, err = tx.Exec(ctx, `INSERT INTO disputes (trade_id, raised_by_user_id, reason, status)
                                       VALUES ($1, $2, 'goods not received', 'open')`, tradeID, userID)
				return err
			})
			if err != nil && !ignorable(err) {
				return fmt.Errorf("disputer raise: %w", err)
			}
		} else {
			err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
				var disputeID string
				err := tx.QueryRow(ctx, `UPDATE disputes SET verdict='REFUND_BUYER', status='resolved_refund_pending',
                                             policy_triggered=true, judged_at=now(), resolved_at=now(), updated_at=now()
                                         WHERE trade_id=$1 AND status IN ('open','pending_info','in_review')
                                         RETURNING id`, tradeID).Scan(&disputeID)
				if errors.Is(err, pgx.ErrNoRows) {
					return nil
				}
				if err != nil {
					return err
				}
				var escrowID string
				err = tx.QueryRow(ctx, `UPDATE escrow_payments SET status='refunded', refunded_at=now(), updated_at=now()
                                        WHERE trade_id=$1 AND status='held' RETURNING id`, tradeID).Scan(&escrowID)
				if errors.Is(err, pgx.ErrNoRows) {
					return pgx.ErrTxCommitRollback
				}
				if err != nil {
					return err
				}
				if _, err := tx.Exec(ctx, `INSERT INTO escrow_events (escrow_id, type, payload) VALUES ($1,'ESCROW_REFUNDED','{}'::jsonb)`, escrowID); err != nil {
					return err
				}
				_, err = tx.Exec(ctx, `UPDATE trades SET status='refunded', updated_at=now() WHERE id=$1 AND status='disputed'`, tradeID)
				return err
			})
			if err != nil && !ignorable(err) {
				return fmt.Errorf("disputer judge: %w", err)
			}
		}
		pause()
	}
}

// OutboxWorker drains delivered outbox rows the way the relay does.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}

		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, `UPDATE outbox SET delivered_at=now()
                                    WHERE id IN (SELECT id FROM outbox WHERE delivered_at IS NULL ORDER BY id LIMIT 10 FOR UPDATE SKIP LOCKED)`)
			return err
		})
		if err != nil && !ignorable(err) {
			return fmt.Errorf("outbox worker: %w", err)
		}
		pause()
	}
}

// EventWriter appends unrelated timeline chatter to keep the table hot.
func EventWriter(ctx context.Context, pool *pgxpool.Pool, tradeID string, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}

		_, err := pool.Exec(ctx, `INSERT INTO timeline_events (trade_id, type, payload) VALUES ($1,'NOTE_ADDED','{}'::jsonb)`, tradeID)
		if err != nil && !ignorable(err) {
			return fmt.Errorf("event writer: %w", err)
		}
		pause()
	}
}

// ignorable filters the noise chaos injects: duplicate keys under contention,
// serialization aborts, and connections the chaos actor killed.
func ignorable(err error) bool {
	if err == nil || errors.Is(err, pgx.ErrTxCommitRollback) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "40001", "40P01", "57P01", "08006":
			return true
		}
	}
	return errors.Is(err, context.Canceled)
}
