package agreement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrAgreementNotFound is returned when no agreement row exists for the provided identifier.
	ErrAgreementNotFound = errors.New("agreement: not found")
	// ErrScheduleConflict signals the conditional advance matched no row: the
	// agreement was advanced, paused or canceled since it was selected.
	ErrScheduleConflict = errors.New("agreement: schedule changed concurrently")
	// ErrNotAdvancing rejects an advance that would not move next_due_date forward.
	ErrNotAdvancing = errors.New("agreement: next due date must move forward")
)

const defaultDuePage = 200

// MaxDuePage is the largest page ListDue returns.
const MaxDuePage = 1000

const agreementColumns = `id::text, tenant_id::text, client_id::text, client_name, status, frequency,
       next_due_date, service_order_template_id::text, last_generated_at, created_at, updated_at`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListDue returns active agreements whose next_due_date is at or before q.Now,
// ordered by (next_due_date, id) and starting after q.After.
func (r *Repository) ListDue(ctx context.Context, q DueQuery) ([]Agreement, error) {
	if q.Now.IsZero() {
		return nil, fmt.Errorf("agreement: due query missing reference time")
	}
	if q.Limit <= 0 {
		q.Limit = defaultDuePage
	}
	if q.Limit > MaxDuePage {
		q.Limit = MaxDuePage
	}

	where := []string{"status = 'active'", "next_due_date <= $1"}
	args := []any{q.Now}

	if q.TenantID != "" {
		where = append(where, fmt.Sprintf("tenant_id = $%d", len(args)+1))
		args = append(args, q.TenantID)
	}
	if !q.After.IsZero() {
		where = append(where, fmt.Sprintf("(next_due_date, id) > ($%d, $%d::uuid)", len(args)+1, len(args)+2))
		args = append(args, q.After.NextDueDate, q.After.ID)
	}

	query := fmt.Sprintf(`SELECT %s FROM service_agreements WHERE %s ORDER BY next_due_date, id LIMIT %d`,
		agreementColumns, strings.Join(where, " AND "), q.Limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("agreement: query due: %w", err)
	}
	defer rows.Close()

	out := make([]Agreement, 0, 16)
	for rows.Next() {
		a, err := scanAgreement(rows)
		if err != nil {
			return nil, fmt.Errorf("agreement: scan due: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("agreement: iterate due: %w", err)
	}
	return out, nil
}

// Advance moves next_due_date forward inside tx, guarded by the expected
// current value. A guard miss returns ErrScheduleConflict.
func (r *Repository) Advance(ctx context.Context, tx pgx.Tx, params AdvanceParams) error {
	if params.AgreementID == "" {
		return fmt.Errorf("agreement: advance missing agreement id")
	}
	if !params.NextDueDate.After(params.ExpectedDueDate) {
		return ErrNotAdvancing
	}

	const updateSQL = `
UPDATE service_agreements
SET next_due_date = $1,
    last_generated_at = $2,
    updated_at = $2
WHERE id = $3
  AND tenant_id = $4
  AND status = 'active'
  AND next_due_date = $5
RETURNING id::text
`

	var id string
	err := tx.QueryRow(ctx, updateSQL,
		params.NextDueDate,
		params.GeneratedAt,
		params.AgreementID,
		params.TenantID,
		params.ExpectedDueDate,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrScheduleConflict
		}
		return fmt.Errorf("agreement: advance schedule: %w", err)
	}
	return nil
}

// Get loads a single agreement scoped to the tenant.
func (r *Repository) Get(ctx context.Context, tenantID, id string) (Agreement, error) {
	if !isUUID(id) {
		return Agreement{}, ErrAgreementNotFound
	}
	query := fmt.Sprintf(`SELECT %s FROM service_agreements WHERE id = $1 AND tenant_id = $2`, agreementColumns)

	a, err := scanAgreement(r.pool.QueryRow(ctx, query, id, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
			return Agreement{}, ErrAgreementNotFound
		}
		return Agreement{}, fmt.Errorf("agreement: get: %w", err)
	}
	return a, nil
}

func (r *Repository) insert(ctx context.Context, tx pgx.Tx, a Agreement) (Agreement, error) {
	query := fmt.Sprintf(`
INSERT INTO service_agreements (tenant_id, client_id, client_name, status, frequency, next_due_date, service_order_template_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING %s`, agreementColumns)

	created, err := scanAgreement(tx.QueryRow(ctx, query,
		a.TenantID,
		a.ClientID,
		a.ClientName,
		a.Status,
		a.Frequency,
		a.NextDueDate,
		a.TemplateID,
	))
	if err != nil {
		return Agreement{}, fmt.Errorf("agreement: insert: %w", err)
	}
	return created, nil
}

func (r *Repository) list(ctx context.Context, filters ListFilters) ([]Agreement, int, error) {
	where := []string{"tenant_id = $1"}
	args := []any{filters.TenantID}
	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filters.Status)
	}
	whereClause := strings.Join(where, " AND ")

	query := fmt.Sprintf(`SELECT %s FROM service_agreements WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		agreementColumns, whereClause, filters.PageSize, (filters.Page-1)*filters.PageSize)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("agreement: list: %w", err)
	}
	defer rows.Close()

	records := []Agreement{}
	for rows.Next() {
		a, err := scanAgreement(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("agreement: scan list: %w", err)
		}
		records = append(records, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("agreement: iterate list: %w", err)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM service_agreements WHERE `+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("agreement: count list: %w", err)
	}
	return records, total, nil
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// isInvalidText reports invalid_text_representation, raised for a malformed
// uuid parameter.
func isInvalidText(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}

func scanAgreement(row pgx.Row) (Agreement, error) {
	var (
		a          Agreement
		clientID   *string
		templateID *string
		lastGen    *time.Time
	)
	err := row.Scan(
		&a.ID,
		&a.TenantID,
		&clientID,
		&a.ClientName,
		&a.Status,
		&a.Frequency,
		&a.NextDueDate,
		&templateID,
		&lastGen,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return Agreement{}, err
	}

	if clientID != nil {
		a.ClientID = *clientID
	}
	if templateID != nil {
		a.TemplateID = *templateID
	}
	if lastGen != nil {
		t := lastGen.UTC()
		a.LastGeneratedAt = &t
	}
	// Schedule arithmetic is calendar based, so pin it to UTC rather than the
	// driver's local zone.
	a.NextDueDate = a.NextDueDate.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}
