package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Message is a pending outbox row.
type Message struct {
	ID        string
	Topic     string
	Payload   []byte
	Attempts  int
	CreatedAt time.Time
}

// PGStore reads and settles outbox rows within the relay's transaction.
type PGStore struct{}

func NewStore() *PGStore {
	return &PGStore{}
}

// Claim locks up to limit pending rows, oldest first. Rows locked by another
// relay are skipped.
func (s *PGStore) Claim(ctx context.Context, tx pgx.Tx, limit int) ([]Message, error) {
	const q = `
SELECT id::text, topic, payload, attempts, created_at
FROM outbox
WHERE status = 'pending'
ORDER BY created_at, id
FOR UPDATE SKIP LOCKED
LIMIT $1`

	rows, err := tx.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: claim: %w", err)
	}
	defer rows.Close()

	msgs := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.Attempts, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("outbox: scan claim: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: iterate claim: %w", err)
	}
	return msgs, nil
}

func (s *PGStore) MarkProcessed(ctx context.Context, tx pgx.Tx, id string) error {
	const q = `UPDATE outbox SET status = 'processed', processed_at = now(), last_error = NULL WHERE id = $1`
	if _, err := tx.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("outbox: mark processed: %w", err)
	}
	return nil
}

// MarkFailed records a failed publish. A dead row is never claimed again.
func (s *PGStore) MarkFailed(ctx context.Context, tx pgx.Tx, id, reason string, dead bool) error {
	const q = `
UPDATE outbox
SET attempts = attempts + 1,
    last_error = $2,
    status = CASE WHEN $3 THEN 'dead' ELSE status END
WHERE id = $1`
	if _, err := tx.Exec(ctx, q, id, reason, dead); err != nil {
		return fmt.Errorf("outbox: mark failed: %w", err)
	}
	return nil
}
