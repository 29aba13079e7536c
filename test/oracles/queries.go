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

// All returns queries that must come back empty on a consistent ledger.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_one_order_per_quote",
			SQL: `SELECT q.id, COUNT(o.id) FROM quotes q
                  LEFT JOIN orders o ON o.quote_id = q.id
                  GROUP BY q.id, q.status
                  HAVING COUNT(o.id) > 1 OR (q.status = 'ACCEPTED') <> (COUNT(o.id) = 1)`,
		},
		{
			Name: "O2_accepted_quote_links",
			SQL: `SELECT q.id FROM quotes q
                  JOIN orders o ON o.quote_id = q.id
                  WHERE q.order_id IS DISTINCT FROM o.id
                     OR NOT EXISTS (SELECT 1 FROM projects p WHERE p.id = q.project_id AND p.order_id = o.id)`,
		},
		{
			Name: "O3_consumed_token",
			SQL: `SELECT id FROM quotes
                  WHERE status IN ('ACCEPTED', 'REJECTED') AND token_hash NOT LIKE 'used:%'`,
		},
		{
			Name: "O4_order_total_matches_ledger",
			SQL: `SELECT o.id, o.total_amount, q.amount, cr.accepted FROM orders o
                  JOIN quotes q ON q.id = o.quote_id
                  LEFT JOIN LATERAL (
                      SELECT COALESCE(SUM(c.amount), 0) AS accepted
                      FROM change_requests c JOIN projects p ON p.id = c.project_id
                      WHERE p.order_id = o.id AND c.status = 'ACCEPTED') cr ON true
                  WHERE o.total_amount <> q.amount + cr.accepted
                    AND NOT EXISTS (SELECT 1 FROM audit_entries a WHERE a.entity_id = o.id AND a.action = 'order.total_corrected')`,
		},
		{
			Name: "O5_one_milestone_per_change_request",
			SQL: `SELECT c.id FROM change_requests c
                  LEFT JOIN milestone_payments m ON m.change_request_id = c.id
                  GROUP BY c.id, c.status
                  HAVING (c.status = 'ACCEPTED') <> (COUNT(m.id) = 1)`,
		},
		{
			Name: "O6_at_most_one_draft_per_project",
			SQL: `SELECT p.id FROM projects p
                  LEFT JOIN portfolio_drafts d ON d.project_id = p.id
                  GROUP BY p.id, p.status
                  HAVING COUNT(d.id) > 1 OR (p.status = 'DELIVERED' AND COUNT(d.id) = 0)`,
		},
		{
			Name: "O7_commission_paid_within_amount",
			SQL: `SELECT id, commission_paid_out, commission_amount, status FROM referral_commissions
                  WHERE commission_paid_out < 0
                     OR commission_paid_out > commission_amount
                     OR (status = 'PAID_OUT') <> (commission_paid_out = commission_amount AND commission_amount > 0)`,
		},
		{
			Name: "O8_delivered_order_has_draft",
			SQL: `SELECT o.id FROM orders o
                  WHERE o.status = 'DELIVERED'
                    AND NOT EXISTS (
                        SELECT 1 FROM projects p JOIN portfolio_drafts d ON d.project_id = p.id
                        WHERE p.order_id = o.id)`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
