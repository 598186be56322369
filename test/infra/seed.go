package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Fixture is the tenant, client and template shared by seeded agreements.
type Fixture struct {
	TenantID   string
	ClientID   string
	TemplateID string
}

// SeedFixture inserts a tenant with one client and one template order.
func SeedFixture(ctx context.Context, pool *pgxpool.Pool) (Fixture, error) {
	var f Fixture
	if err := pool.QueryRow(ctx, `INSERT INTO tenants (name) VALUES ($1) RETURNING id::text`,
		fmt.Sprintf("Tenant %d", time.Now().UnixNano())).Scan(&f.TenantID); err != nil {
		return Fixture{}, fmt.Errorf("seed tenant: %w", err)
	}
	if err := pool.QueryRow(ctx, `INSERT INTO clients (tenant_id, name) VALUES ($1, 'Harbor Dental') RETURNING id::text`,
		f.TenantID).Scan(&f.ClientID); err != nil {
		return Fixture{}, fmt.Errorf("seed client: %w", err)
	}
	if err := pool.QueryRow(ctx, `
INSERT INTO service_orders (tenant_id, client_id, client_name, status, is_template, template_name, body)
VALUES ($1, $2, 'Harbor Dental', 'completed', true, 'Quarterly HVAC',
        '{"description":"Inspect rooftop units","templateName":"Quarterly HVAC","lineItems":[{"sku":"FILTER-20","qty":2}]}'::jsonb)
RETURNING id::text`, f.TenantID, f.ClientID).Scan(&f.TemplateID); err != nil {
		return Fixture{}, fmt.Errorf("seed template: %w", err)
	}
	return f, nil
}

// SeedAgreement inserts an agreement of the fixture's tenant and returns its id.
func SeedAgreement(ctx context.Context, pool *pgxpool.Pool, f Fixture, status, frequency string, due time.Time) (string, error) {
	var id string
	err := pool.QueryRow(ctx, `
INSERT INTO service_agreements (tenant_id, client_id, client_name, status, frequency, next_due_date, service_order_template_id)
VALUES ($1, $2, 'Harbor Dental', $3, $4, $5, $6)
RETURNING id::text`, f.TenantID, f.ClientID, status, frequency, due, f.TemplateID).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("seed agreement: %w", err)
	}
	return id, nil
}
