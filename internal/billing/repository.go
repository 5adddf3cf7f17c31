package billing

import (
	"context"
	"errors"
	"fmt"

	"leadintel_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository backs Entitlements and Ledger with the tenant_features,
// tenant_budgets and usage_ledger tables.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var (
	_ Entitlements = (*Repository)(nil)
	_ Ledger       = (*Repository)(nil)
)

// CheckFeature reports whether the tenant's plan enables feature. A missing
// row means the feature is not part of the plan.
func (r *Repository) CheckFeature(ctx context.Context, tenantID uuid.UUID, feature string) (bool, error) {
	var enabled bool
	err := r.pool.QueryRow(ctx, `
		SELECT enabled FROM tenant_features WHERE tenant_id = $1 AND feature = $2
	`, tenantID, feature).Scan(&enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check feature: %w", err)
	}
	return enabled, nil
}

// RecordUsage charges the budget and appends to the ledger in one transaction.
// The conditional UPDATE is the budget check, so two concurrent charges can
// never both squeeze under the limit.
func (r *Repository) RecordUsage(ctx context.Context, tenantID uuid.UUID, feature string, cost int64) error {
	if cost < 0 {
		return apperr.Validation("usage cost must not be negative")
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE tenant_budgets
		SET used_cents = used_cents + $3
		WHERE tenant_id = $1 AND feature = $2 AND used_cents + $3 <= budget_cents
	`, tenantID, feature, cost)
	if err != nil {
		return fmt.Errorf("charge budget: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM tenant_budgets WHERE tenant_id = $1 AND feature = $2)
		`, tenantID, feature).Scan(&exists); err != nil {
			return fmt.Errorf("check budget: %w", err)
		}
		if exists {
			return apperr.BudgetExceeded(feature)
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO usage_ledger (tenant_id, feature, cost_cents) VALUES ($1, $2, $3)
	`, tenantID, feature, cost); err != nil {
		return fmt.Errorf("insert usage: %w", err)
	}
	return tx.Commit(ctx)
}

// Usage lists spend per feature for a tenant.
func (r *Repository) Usage(ctx context.Context, tenantID uuid.UUID) ([]Usage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT l.feature, COALESCE(SUM(l.cost_cents), 0), b.budget_cents
		FROM usage_ledger l
		LEFT JOIN tenant_budgets b ON b.tenant_id = l.tenant_id AND b.feature = l.feature
		WHERE l.tenant_id = $1
		GROUP BY l.feature, b.budget_cents
		ORDER BY l.feature
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Usage
	for rows.Next() {
		var u Usage
		if err := rows.Scan(&u.Feature, &u.UsedCents, &u.BudgetCents); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
