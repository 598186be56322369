package agreement

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fieldflow/client"
)

var (
	ErrClientRequired   = errors.New("agreement: client id required")
	ErrTemplateRequired = errors.New("agreement: service order template required")
	ErrInvalidFrequency = errors.New("agreement: invalid frequency")
	ErrDueDateRequired  = errors.New("agreement: first due date required")
)

// ClientLookup resolves the customer whose name is snapshotted on the agreement.
type ClientLookup interface {
	GetByID(ctx context.Context, tenantID, id string) (client.Client, error)
}

// TemplateChecker reports whether id references a template order of the tenant.
type TemplateChecker interface {
	IsTemplate(ctx context.Context, tenantID, id string) (bool, error)
}

// OutboxWriter enqueues a message inside the caller's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

type CRUDService struct {
	pool      *pgxpool.Pool
	repo      *Repository
	clients   ClientLookup
	templates TemplateChecker
	outbox    OutboxWriter
}

func NewCRUDService(pool *pgxpool.Pool, clients ClientLookup, templates TemplateChecker, outbox OutboxWriter) *CRUDService {
	return &CRUDService{
		pool:      pool,
		repo:      NewRepository(pool),
		clients:   clients,
		templates: templates,
		outbox:    outbox,
	}
}

// Create inserts an active agreement and its creation outbox message in one
// transaction.
func (s *CRUDService) Create(ctx context.Context, params CreateParams) (Agreement, error) {
	if params.TenantID == "" {
		return Agreement{}, fmt.Errorf("agreement: tenant id required")
	}
	if params.ClientID == "" {
		return Agreement{}, ErrClientRequired
	}
	if params.TemplateID == "" {
		return Agreement{}, ErrTemplateRequired
	}
	if !params.Frequency.Valid() {
		return Agreement{}, fmt.Errorf("%w: %q", ErrInvalidFrequency, params.Frequency)
	}
	if params.FirstDueDate.IsZero() {
		return Agreement{}, ErrDueDateRequired
	}

	c, err := s.clients.GetByID(ctx, params.TenantID, params.ClientID)
	if err != nil {
		return Agreement{}, fmt.Errorf("agreement: load client: %w", err)
	}
	ok, err := s.templates.IsTemplate(ctx, params.TenantID, params.TemplateID)
	if err != nil {
		return Agreement{}, fmt.Errorf("agreement: check template: %w", err)
	}
	if !ok {
		return Agreement{}, ErrTemplateRequired
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Agreement{}, fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.insert(ctx, tx, Agreement{
		TenantID:    params.TenantID,
		ClientID:    c.ID,
		ClientName:  c.Name,
		Status:      StatusActive,
		Frequency:   params.Frequency,
		NextDueDate: params.FirstDueDate.UTC(),
		TemplateID:  params.TemplateID,
	})
	if err != nil {
		return Agreement{}, err
	}

	if s.outbox != nil {
		payload := map[string]any{
			"agreement_id":  rec.ID,
			"tenant_id":     rec.TenantID,
			"client_id":     rec.ClientID,
			"frequency":     rec.Frequency,
			"next_due_date": rec.NextDueDate,
		}
		if err := s.outbox.Enqueue(ctx, tx, OutboxTopicCreated, payload); err != nil {
			return Agreement{}, fmt.Errorf("agreement: enqueue outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Agreement{}, fmt.Errorf("agreement: commit: %w", err)
	}
	return rec, nil
}

func (s *CRUDService) List(ctx context.Context, filters ListFilters) ([]Agreement, int, error) {
	if filters.TenantID == "" {
		return nil, 0, fmt.Errorf("agreement: tenant id required")
	}
	if filters.Status != "" && !filters.Status.Valid() {
		return nil, 0, fmt.Errorf("agreement: invalid status filter %q", filters.Status)
	}
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}
	return s.repo.list(ctx, filters)
}

func (s *CRUDService) Get(ctx context.Context, tenantID, id string) (Agreement, error) {
	return s.repo.Get(ctx, tenantID, id)
}
