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

// All lists the consistency checks run while renewal passes race each other.
// Every query returns rows only when its check is violated.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_unique_occurrence",
			SQL: `SELECT generated_by_agreement_id, due_date, COUNT(*) FROM service_orders
                  WHERE generated_by_agreement_id IS NOT NULL
                  GROUP BY generated_by_agreement_id, due_date HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_order_without_advance",
			SQL: `SELECT o.id, o.due_date, a.next_due_date FROM service_orders o
                  JOIN service_agreements a ON a.id = o.generated_by_agreement_id
                  WHERE o.due_date >= a.next_due_date`,
		},
		{
			Name: "O3_advance_without_order",
			SQL: `SELECT a.id, a.last_generated_at FROM service_agreements a
                  WHERE a.last_generated_at IS NOT NULL
                    AND NOT EXISTS (
                        SELECT 1 FROM service_orders o
                        WHERE o.generated_by_agreement_id = a.id
                          AND o.created_at = a.last_generated_at)`,
		},
		{
			Name: "O4_order_event_pairing",
			SQL: `SELECT a.id FROM service_agreements a
                  WHERE (SELECT COUNT(*) FROM service_orders o WHERE o.generated_by_agreement_id = a.id)
                     <> (SELECT COUNT(*) FROM outbox m
                         WHERE m.topic = 'service_order.generated' AND m.payload->>'agreement_id' = a.id::text)`,
		},
		{
			Name: "O5_generated_order_shape",
			SQL: `SELECT id FROM service_orders
                  WHERE generated_by_agreement_id IS NOT NULL
                    AND (is_template OR template_name IS NOT NULL OR body ? 'templateName'
                         OR jsonb_array_length(activity_log) <> 1)`,
		},
		{
			Name: "O6_outbox_stale",
			SQL: `SELECT id FROM outbox
                  WHERE status = 'pending' AND now() - created_at > interval '5 minutes'`,
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
