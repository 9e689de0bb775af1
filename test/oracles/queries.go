package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the invariant queries. Each query selects VIOLATING rows; any
// result row fails the run.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_accepted_quote",
			SQL: `SELECT trade_id, COUNT(*) FROM quotes
                  WHERE status = 'accepted'
                  GROUP BY trade_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_accepted_quote_consistent",
			SQL: `SELECT t.id FROM trades t
                  LEFT JOIN quotes q ON q.id = t.accepted_quote_id
                  WHERE t.accepted_quote_id IS NOT NULL
                    AND (q.id IS NULL OR q.status <> 'accepted')`,
		},
		{
			Name: "O3_single_live_escrow",
			SQL: `SELECT trade_id, COUNT(*) FROM escrow_payments
                  WHERE status IN ('pending','held')
                  GROUP BY trade_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O4_settled_means_released",
			SQL: `SELECT t.id FROM trades t
                  WHERE t.status = 'settled'
                    AND NOT EXISTS (SELECT 1 FROM escrow_payments e
                                    WHERE e.trade_id = t.id AND e.status = 'released')`,
		},
		{
			Name: "O5_refunded_means_refunded",
			SQL: `SELECT t.id FROM trades t
                  WHERE t.status = 'refunded'
                    AND NOT EXISTS (SELECT 1 FROM escrow_payments e
                                    WHERE e.trade_id = t.id AND e.status = 'refunded')`,
		},
		{
			Name: "O6_escrow_terminal_exclusive",
			SQL: `SELECT id FROM escrow_payments
                  WHERE released_at IS NOT NULL AND refunded_at IS NOT NULL`,
		},
		{
			Name: "O7_no_duplicate_funded_events",
			SQL: `SELECT escrow_id, COUNT(*) FROM escrow_events
                  WHERE type = 'ESCROW_FUNDED'
                  GROUP BY escrow_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O8_funded_trade_has_escrow",
			SQL: `SELECT t.id FROM trades t
                  WHERE t.status IN ('escrow_funded','in_transit','delivered')
                    AND NOT EXISTS (SELECT 1 FROM escrow_payments e
                                    WHERE e.trade_id = t.id AND e.status = 'held')`,
		},
	}
}

// Run executes every oracle and returns the first violation found.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return "", "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if rows.Next() {
			vals, _ := rows.Values()
			rows.Close()
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return "", "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
