package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"leadintel_backend/internal/leads/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the Postgres SnapshotStore.
type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ SnapshotStore = (*Repository)(nil)

const snapshotColumns = `
	id, tenant_id, attributes, scores, engagement_state, state_changed_at,
	last_contact_at, contact_attempts, enrichment, answered_questions,
	version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*domain.Snapshot, error) {
	var (
		s                         domain.Snapshot
		attrs, scores, enrichment []byte
		state                     string
	)
	if err := row.Scan(
		&s.ID, &s.TenantID, &attrs, &scores, &state, &s.StateChangedAt,
		&s.LastContactAt, &s.ContactAttempts, &enrichment, &s.AnsweredQuestions,
		&s.Version, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	s.EngagementState = domain.EngagementState(state)

	if err := json.Unmarshal(attrs, &s.Attributes); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	if err := json.Unmarshal(scores, &s.Scores); err != nil {
		return nil, fmt.Errorf("decode scores: %w", err)
	}
	if err := json.Unmarshal(enrichment, &s.Enrichment); err != nil {
		return nil, fmt.Errorf("decode enrichment: %w", err)
	}
	if s.Attributes == nil {
		s.Attributes = domain.Attributes{}
	}
	return &s, nil
}

type encodedSnapshot struct {
	attrs, scores, enrichment []byte
}

func encode(s *domain.Snapshot) (encodedSnapshot, error) {
	var (
		out encodedSnapshot
		err error
	)
	if out.attrs, err = json.Marshal(s.Attributes); err != nil {
		return out, err
	}
	if out.scores, err = json.Marshal(s.Scores); err != nil {
		return out, err
	}
	enrichment := s.Enrichment
	if enrichment == nil {
		enrichment = []domain.EnrichmentEntry{}
	}
	out.enrichment, err = json.Marshal(enrichment)
	return out, err
}

func answered(s *domain.Snapshot) []string {
	if s.AnsweredQuestions == nil {
		return []string{}
	}
	return s.AnsweredQuestions
}

func (r *Repository) Create(ctx context.Context, s *domain.Snapshot) error {
	enc, err := encode(s)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO lead_snapshots (
			id, tenant_id, attributes, scores, score_total, engagement_state, state_changed_at,
			last_contact_at, contact_attempts, enrichment, answered_questions, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1, $12, $13)
	`,
		s.ID, s.TenantID, enc.attrs, enc.scores, s.Scores.Total, string(s.EngagementState), s.StateChangedAt,
		s.LastContactAt, s.ContactAttempts, enc.enrichment, answered(s), s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return err
	}
	s.Version = 1
	return nil
}

func (r *Repository) Get(ctx context.Context, tenantID, leadID uuid.UUID) (*domain.Snapshot, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+snapshotColumns+`
		FROM lead_snapshots
		WHERE id = $1 AND tenant_id = $2
	`, leadID, tenantID)

	s, err := scanSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// Save relies on the version predicate for conflict detection. The
// enrichment length predicate keeps the audit trail from shrinking.
func (r *Repository) Save(ctx context.Context, s *domain.Snapshot) error {
	enc, err := encode(s)
	if err != nil {
		return err
	}

	var next int64
	err = r.pool.QueryRow(ctx, `
		UPDATE lead_snapshots SET
			attributes = $4,
			scores = $5,
			score_total = $6,
			engagement_state = $7,
			state_changed_at = $8,
			last_contact_at = $9,
			contact_attempts = $10,
			enrichment = $11,
			answered_questions = $12,
			version = version + 1,
			updated_at = $13
		WHERE id = $1 AND tenant_id = $2 AND version = $3
			AND jsonb_array_length(enrichment) <= jsonb_array_length($11::jsonb)
		RETURNING version
	`,
		s.ID, s.TenantID, s.Version,
		enc.attrs, enc.scores, s.Scores.Total, string(s.EngagementState), s.StateChangedAt,
		s.LastContactAt, s.ContactAttempts, enc.enrichment, answered(s), s.UpdatedAt,
	).Scan(&next)
	if errors.Is(err, pgx.ErrNoRows) {
		return r.missOrConflict(ctx, s.TenantID, s.ID)
	}
	if err != nil {
		return err
	}
	s.Version = next
	return nil
}

func (r *Repository) missOrConflict(ctx context.Context, tenantID, leadID uuid.UUID) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM lead_snapshots WHERE id = $1 AND tenant_id = $2)
	`, leadID, tenantID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

func (r *Repository) ListActiveOrStale(ctx context.Context, tenantID uuid.UUID) ([]*domain.Snapshot, error) {
	return r.ListByTenant(ctx, tenantID, ListFilter{States: []domain.EngagementState{domain.StateActive, domain.StateStale}})
}

func (r *Repository) ListByTenant(ctx context.Context, tenantID uuid.UUID, filter ListFilter) ([]*domain.Snapshot, error) {
	states := make([]string, 0, len(filter.States))
	for _, st := range filter.States {
		states = append(states, string(st))
	}
	var limit *int
	if filter.Limit > 0 {
		limit = &filter.Limit
	}

	rows, err := r.pool.Query(ctx, `SELECT `+snapshotColumns+`
		FROM lead_snapshots
		WHERE tenant_id = $1
			AND (cardinality($2::text[]) = 0 OR engagement_state = ANY($2::text[]))
		ORDER BY score_total DESC, id ASC
		LIMIT $3
	`, tenantID, states, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*domain.Snapshot, 0)
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}

func (r *Repository) ListTenants(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT tenant_id
		FROM lead_snapshots
		ORDER BY tenant_id
	`)
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

func (r *Repository) RecordContact(ctx context.Context, tenantID, leadID uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE lead_snapshots SET
			last_contact_at = GREATEST(COALESCE(last_contact_at, $3), $3),
			contact_attempts = contact_attempts + 1,
			version = version + 1,
			updated_at = now()
		WHERE id = $1 AND tenant_id = $2
	`, leadID, tenantID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
