package agreement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrInvalidTransition is returned for a status change the lifecycle forbids.
var ErrInvalidTransition = errors.New("agreement: invalid status transition")

// CanTransition reports whether an agreement may move from one status to
// another. Canceled is terminal.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusActive:
		return to == StatusPaused || to == StatusCanceled
	case StatusPaused:
		return to == StatusActive || to == StatusCanceled
	default:
		return false
	}
}

// StatusService handles pause, resume and cancel, writing the status change
// and its outbox message in the same transaction.
type StatusService struct {
	pool   *pgxpool.Pool
	repo   *Repository
	outbox OutboxWriter
}

func NewStatusService(pool *pgxpool.Pool, outbox OutboxWriter) *StatusService {
	return &StatusService{pool: pool, repo: NewRepository(pool), outbox: outbox}
}

// Transition changes the agreement status. Resuming keeps next_due_date, so an
// agreement paused past its due date renews on the next pass.
func (s *StatusService) Transition(ctx context.Context, params TransitionParams) (Agreement, error) {
	if params.AgreementID == "" || params.TenantID == "" {
		return Agreement{}, fmt.Errorf("agreement: transition missing agreement or tenant id")
	}
	if !params.NextStatus.Valid() {
		return Agreement{}, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, params.NextStatus)
	}
	if !isUUID(params.AgreementID) {
		return Agreement{}, ErrAgreementNotFound
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Agreement{}, fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var current Status
	if err := tx.QueryRow(ctx, `SELECT status FROM service_agreements WHERE id = $1 AND tenant_id = $2 FOR UPDATE`,
		params.AgreementID, params.TenantID).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
			return Agreement{}, ErrAgreementNotFound
		}
		return Agreement{}, fmt.Errorf("agreement: fetch current status: %w", err)
	}
	if !CanTransition(current, params.NextStatus) {
		return Agreement{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, params.NextStatus)
	}

	query := fmt.Sprintf(`
UPDATE service_agreements
SET status = $1,
    updated_at = now()
WHERE id = $2 AND tenant_id = $3
RETURNING %s`, agreementColumns)
	updated, err := scanAgreement(tx.QueryRow(ctx, query, params.NextStatus, params.AgreementID, params.TenantID))
	if err != nil {
		return Agreement{}, fmt.Errorf("agreement: update status: %w", err)
	}

	if s.outbox != nil {
		payload := map[string]any{
			"agreement_id": updated.ID,
			"tenant_id":    updated.TenantID,
			"previous":     current,
			"next":         updated.Status,
		}
		if params.ActorID != "" {
			payload["actor_id"] = params.ActorID
		}
		if reason := strings.TrimSpace(params.Reason); reason != "" {
			payload["reason"] = reason
		}
		if err := s.outbox.Enqueue(ctx, tx, OutboxTopicStatusChanged, payload); err != nil {
			return Agreement{}, fmt.Errorf("agreement: enqueue outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Agreement{}, fmt.Errorf("agreement: commit transition: %w", err)
	}
	return updated, nil
}
