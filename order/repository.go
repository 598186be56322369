package order

import (
	"context"
	"encoding/json"
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
	// ErrTemplateNotFound is returned when the id does not reference a template
	// order of the tenant, including when the template was deleted.
	ErrTemplateNotFound = errors.New("order: template not found")
	// ErrDuplicateOccurrence signals an order already exists for the same
	// agreement and due date.
	ErrDuplicateOccurrence = errors.New("order: occurrence already generated")
)

const orderColumns = `id::text, tenant_id::text, client_id::text, client_name, status, is_template, template_name,
       due_date, generated_by_agreement_id::text, body, activity_log, created_at, updated_at`

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// GetTemplate loads a template order of the tenant.
func (r *PGRepository) GetTemplate(ctx context.Context, tenantID, id string) (Order, error) {
	if id == "" {
		return Order{}, ErrTemplateNotFound
	}
	query := fmt.Sprintf(`SELECT %s FROM service_orders WHERE id = $1 AND tenant_id = $2 AND is_template`, orderColumns)

	o, err := scanOrder(r.pool.QueryRow(ctx, query, id, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrTemplateNotFound
		}
		if isInvalidText(err) {
			// A malformed uuid can never match a template.
			return Order{}, ErrTemplateNotFound
		}
		return Order{}, fmt.Errorf("order: get template: %w", err)
	}
	return o, nil
}

// IsTemplate reports whether id references a template order of the tenant.
func (r *PGRepository) IsTemplate(ctx context.Context, tenantID, id string) (bool, error) {
	_, err := r.GetTemplate(ctx, tenantID, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrTemplateNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Insert stores o inside the caller's transaction.
func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, o Order) (Order, error) {
	body, logJSON, err := encodeDocument(o)
	if err != nil {
		return Order{}, err
	}

	query := fmt.Sprintf(`
INSERT INTO service_orders (id, tenant_id, client_id, client_name, status, is_template, template_name,
    due_date, generated_by_agreement_id, body, activity_log, created_at, updated_at)
VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, NULLIF($3, '')::uuid, $4, $5, $6, $7,
    $8, $9, $10::jsonb, $11::jsonb, $12, $13)
RETURNING %s`, orderColumns)

	created, err := scanOrder(tx.QueryRow(ctx, query,
		o.ID,
		o.TenantID,
		o.ClientID,
		o.ClientName,
		o.Status,
		o.IsTemplate,
		nullableString(o.TemplateName),
		o.DueDate,
		o.GeneratedByAgreementID,
		body,
		logJSON,
		o.CreatedAt,
		o.UpdatedAt,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Order{}, ErrDuplicateOccurrence
		}
		return Order{}, fmt.Errorf("order: insert: %w", err)
	}
	return created, nil
}

// CreateTemplate stores a reusable template order in its own transaction.
func (r *PGRepository) CreateTemplate(ctx context.Context, o Order) (Order, error) {
	if strings.TrimSpace(o.TemplateName) == "" {
		return Order{}, fmt.Errorf("order: template name required")
	}
	now := time.Now().UTC()
	o.IsTemplate = true
	o.GeneratedByAgreementID = nil
	if o.Status == "" {
		o.Status = StatusPending
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := r.Insert(ctx, tx, o)
	if err != nil {
		return Order{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("order: commit template: %w", err)
	}
	return created, nil
}

// List returns orders of a tenant matching filters plus the total count.
func (r *PGRepository) List(ctx context.Context, filters Filters) ([]Order, int, error) {
	if filters.TenantID == "" {
		return nil, 0, fmt.Errorf("order: tenant id required")
	}
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	where := []string{"tenant_id = $1"}
	args := []any{filters.TenantID}

	if filters.AgreementID != "" {
		if _, err := uuid.Parse(filters.AgreementID); err != nil {
			// No order can be generated by a malformed agreement id.
			return []Order{}, 0, nil
		}
		where = append(where, fmt.Sprintf("generated_by_agreement_id = $%d", len(args)+1))
		args = append(args, filters.AgreementID)
	}
	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filters.Status)
	}
	if filters.Templates != nil {
		where = append(where, fmt.Sprintf("is_template = $%d", len(args)+1))
		args = append(args, *filters.Templates)
	}

	whereClause := " WHERE " + strings.Join(where, " AND ")

	sortOrder := strings.ToUpper(filters.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}
	offset := (filters.Page - 1) * filters.PageSize

	query := fmt.Sprintf(`SELECT %s FROM service_orders%s ORDER BY %s %s, id LIMIT %d OFFSET %d`,
		orderColumns, whereClause, mapSortKey(filters.SortKey), sortOrder, filters.PageSize, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("order: query list: %w", err)
	}
	defer rows.Close()

	list := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("order: scan list: %w", err)
		}
		list = append(list, o)
	}
	if err := rows.Err(); err != nil {
		if isInvalidText(err) {
			return []Order{}, 0, nil
		}
		return nil, 0, fmt.Errorf("order: iterate list: %w", err)
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM service_orders"+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("order: count list: %w", err)
	}
	return list, total, nil
}

// isInvalidText reports invalid_text_representation, raised for a malformed
// uuid parameter.
func isInvalidText(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}

func encodeDocument(o Order) ([]byte, []byte, error) {
	bodyDoc := o.Body
	if bodyDoc == nil {
		bodyDoc = map[string]any{}
	}
	body, err := json.Marshal(bodyDoc)
	if err != nil {
		return nil, nil, fmt.Errorf("order: marshal body: %w", err)
	}

	entries := o.ActivityLog
	if entries == nil {
		entries = []ActivityEntry{}
	}
	logJSON, err := json.Marshal(entries)
	if err != nil {
		return nil, nil, fmt.Errorf("order: marshal activity log: %w", err)
	}
	return body, logJSON, nil
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o            Order
		clientID     *string
		templateName *string
		body         []byte
		logJSON      []byte
	)
	err := row.Scan(
		&o.ID,
		&o.TenantID,
		&clientID,
		&o.ClientName,
		&o.Status,
		&o.IsTemplate,
		&templateName,
		&o.DueDate,
		&o.GeneratedByAgreementID,
		&body,
		&logJSON,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return Order{}, err
	}

	if clientID != nil {
		o.ClientID = *clientID
	}
	if templateName != nil {
		o.TemplateName = *templateName
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &o.Body); err != nil {
			return Order{}, fmt.Errorf("order: decode body: %w", err)
		}
	}
	if len(logJSON) > 0 {
		if err := json.Unmarshal(logJSON, &o.ActivityLog); err != nil {
			return Order{}, fmt.Errorf("order: decode activity log: %w", err)
		}
	}
	if o.DueDate != nil {
		d := o.DueDate.UTC()
		o.DueDate = &d
	}
	return o, nil
}

func mapSortKey(key string) string {
	switch key {
	case "dueDate":
		return "due_date"
	case "status":
		return "status"
	case "clientName":
		return "client_name"
	case "updatedAt":
		return "updated_at"
	case "createdAt":
		fallthrough
	default:
		return "created_at"
	}
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
