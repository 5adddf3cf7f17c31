// Package repository persists goals.
package repository

import (
	"context"
	"errors"

	"leadintel_backend/internal/goals/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a goal does not exist for the tenant.
var ErrNotFound = errors.New("goal not found")

// GoalStore is the persistence contract used by the goals service.
type GoalStore interface {
	Create(ctx context.Context, g *domain.Goal) error
	Get(ctx context.Context, tenantID, goalID uuid.UUID) (*domain.Goal, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]domain.Goal, error)
	// UpdateProgress writes CurrentValue, Status and UpdatedAt only.
	UpdateProgress(ctx context.Context, g domain.Goal) error
	// ListTenants returns tenants with at least one goal.
	ListTenants(ctx context.Context) ([]uuid.UUID, error)
}

// Repository is the Postgres GoalStore.
type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ GoalStore = (*Repository)(nil)

const goalColumns = `
	id, tenant_id, name, metric, threshold, target_value, current_value,
	start_date, deadline, status, created_at, updated_at`

func scanGoal(row pgx.Row) (domain.Goal, error) {
	var (
		g              domain.Goal
		metric, status string
	)
	err := row.Scan(
		&g.ID, &g.TenantID, &g.Name, &metric, &g.Threshold, &g.TargetValue, &g.CurrentValue,
		&g.StartDate, &g.Deadline, &status, &g.CreatedAt, &g.UpdatedAt,
	)
	g.Metric = domain.Metric(metric)
	g.Status = domain.Status(status)
	return g, err
}

func (r *Repository) Create(ctx context.Context, g *domain.Goal) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO goals (`+goalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		g.ID, g.TenantID, g.Name, string(g.Metric), g.Threshold, g.TargetValue, g.CurrentValue,
		g.StartDate, g.Deadline, string(g.Status), g.CreatedAt, g.UpdatedAt,
	)
	return err
}

func (r *Repository) Get(ctx context.Context, tenantID, goalID uuid.UUID) (*domain.Goal, error) {
	g, err := scanGoal(r.pool.QueryRow(ctx, `SELECT `+goalColumns+`
		FROM goals
		WHERE id = $1 AND tenant_id = $2
	`, goalID, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *Repository) List(ctx context.Context, tenantID uuid.UUID) ([]domain.Goal, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+goalColumns+`
		FROM goals
		WHERE tenant_id = $1
		ORDER BY deadline ASC, id ASC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Goal, 0)
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, g)
	}
	return items, rows.Err()
}

func (r *Repository) UpdateProgress(ctx context.Context, g domain.Goal) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE goals SET current_value = $3, status = $4, updated_at = $5
		WHERE id = $1 AND tenant_id = $2
	`, g.ID, g.TenantID, g.CurrentValue, string(g.Status), g.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) ListTenants(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT tenant_id FROM goals ORDER BY tenant_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tenants := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		tenants = append(tenants, id)
	}
	return tenants, rows.Err()
}
