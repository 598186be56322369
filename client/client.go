package client

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

// ErrNotFound signals the requested client does not exist for the tenant.
var ErrNotFound = errors.New("client: not found")

// Client is a customer record of a tenant.
type Client struct {
	ID        string
	TenantID  string
	Name      string
	Email     *string
	Phone     *string
	CreatedAt time.Time
}

// Repository provides access to client records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID fetches a client by its primary key within the tenant.
func (r *Repository) GetByID(ctx context.Context, tenantID, id string) (Client, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Client{}, ErrNotFound
	}
	const query = `
		SELECT id::text, tenant_id::text, name, email, phone, created_at
		FROM clients
		WHERE id = $1 AND tenant_id = $2
	`

	c, err := scanClient(r.pool.QueryRow(ctx, query, id, tenantID))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.Is(err, pgx.ErrNoRows) || (errors.As(err, &pgErr) && pgErr.Code == "22P02") {
			return Client{}, ErrNotFound
		}
		return Client{}, fmt.Errorf("client: query by id: %w", err)
	}
	return c, nil
}

// List fetches up to limit clients of the tenant ordered by name.
func (r *Repository) List(ctx context.Context, tenantID string, limit int) ([]Client, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	const query = `
		SELECT id::text, tenant_id::text, name, email, phone, created_at
		FROM clients
		WHERE tenant_id = $1
		ORDER BY name ASC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("client: list: %w", err)
	}
	defer rows.Close()

	clients := make([]Client, 0, limit)
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("client: scan: %w", err)
		}
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("client: iterate: %w", err)
	}
	return clients, nil
}

// Create inserts a client record.
func (r *Repository) Create(ctx context.Context, c Client) (Client, error) {
	const query = `
		INSERT INTO clients (tenant_id, name, email, phone)
		VALUES ($1, $2, $3, $4)
		RETURNING id::text, tenant_id::text, name, email, phone, created_at
	`

	created, err := scanClient(r.pool.QueryRow(ctx, query, c.TenantID, c.Name, c.Email, c.Phone))
	if err != nil {
		return Client{}, fmt.Errorf("client: create: %w", err)
	}
	return created, nil
}

func scanClient(row pgx.Row) (Client, error) {
	var c Client
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.Email, &c.Phone, &c.CreatedAt)
	return c, err
}

// Store abstracts repository operations for the service.
type Store interface {
	GetByID(ctx context.Context, tenantID, id string) (Client, error)
	List(ctx context.Context, tenantID string, limit int) ([]Client, error)
	Create(ctx context.Context, c Client) (Client, error)
}

// Service exposes business-level client operations.
type Service struct {
	repo Store
}

// NewService builds a Service using the provided repository.
func NewService(repo Store) *Service {
	return &Service{repo: repo}
}

func (s *Service) GetByID(ctx context.Context, tenantID, id string) (Client, error) {
	if tenantID == "" || id == "" {
		return Client{}, ErrNotFound
	}
	return s.repo.GetByID(ctx, tenantID, id)
}

func (s *Service) List(ctx context.Context, tenantID string, limit int) ([]Client, error) {
	return s.repo.List(ctx, tenantID, limit)
}

// Create validates and stores a new client.
func (s *Service) Create(ctx context.Context, c Client) (Client, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.TenantID == "" {
		return Client{}, fmt.Errorf("client: tenant id required")
	}
	if c.Name == "" {
		return Client{}, fmt.Errorf("client: name required")
	}
	return s.repo.Create(ctx, c)
}
