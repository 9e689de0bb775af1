package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Message is one undelivered outbox row.
type Message struct {
	ID        int64
	Topic     string
	Payload   []byte
	CreatedAt time.Time
}

// Publisher delivers a message to the downstream transport. Returning an
// error leaves the row for the next poll.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// LogPublisher is the default sink: it writes the notification to the
// structured log. Real transports plug in behind the same interface.
type LogPublisher struct {
	Logger *zap.Logger
}

func (p LogPublisher) Publish(_ context.Context, msg Message) error {
	p.Logger.Info("outbox message",
		zap.Int64("id", msg.ID),
		zap.String("topic", msg.Topic),
		zap.ByteString("payload", msg.Payload))
	return nil
}

// Relay drains the outbox table, delivering each row exactly once per
// successful publish. SKIP LOCKED lets multiple relays run side by side.
type Relay struct {
	pool      *pgxpool.Pool
	publisher Publisher
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
}

func NewRelay(pool *pgxpool.Pool, publisher Publisher, interval time.Duration, batchSize int, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = LogPublisher{Logger: logger}
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Relay{
		pool:      pool,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Run polls until the context is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("outbox relay started",
		zap.Duration("interval", r.interval),
		zap.Int("batch_size", r.batchSize))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := r.drainOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("outbox drain failed", zap.Error(err))
			}
		}
	}
}

func (r *Relay) drainOnce(ctx context.Context) error {
	for {
		n, err := r.drainBatch(ctx)
		if err != nil {
			return err
		}
		if n < r.batchSize {
			return nil
		}
	}
}

// drainBatch claims up to batchSize undelivered rows inside one transaction.
// Rows whose publish fails stay claimed until the transaction ends, then
// return to the pool.
func (r *Relay) drainBatch(ctx context.Context) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("outbox: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const claimQuery = `
SELECT id, topic, payload, created_at
FROM outbox
WHERE delivered_at IS NULL
ORDER BY id
LIMIT $1
FOR UPDATE SKIP LOCKED
`
	rows, err := tx.Query(ctx, claimQuery, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("outbox: claim batch: %w", err)
	}

	batch := make([]Message, 0, r.batchSize)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.CreatedAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("outbox: scan row: %w", err)
		}
		batch = append(batch, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("outbox: iterate batch: %w", err)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	delivered := make([]int64, 0, len(batch))
	for _, msg := range batch {
		if err := r.publisher.Publish(ctx, msg); err != nil {
			r.logger.Warn("outbox publish failed, will retry",
				zap.Int64("id", msg.ID),
				zap.String("topic", msg.Topic),
				zap.Error(err))
			continue
		}
		delivered = append(delivered, msg.ID)
	}

	if len(delivered) > 0 {
		if _, err := tx.Exec(ctx,
			`UPDATE outbox SET delivered_at = now() WHERE id = ANY($1::bigint[])`,
			delivered,
		); err != nil {
			return 0, fmt.Errorf("outbox: mark delivered: %w", err)
		}
		deliveredTotal.Add(float64(len(delivered)))
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("outbox: commit batch: %w", err)
	}
	return len(batch), nil
}
