package repository

import (
	"context"
	"errors"
	"time"

	"leadintel_backend/internal/leads/domain"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a snapshot does not exist for the tenant.
	ErrNotFound = errors.New("lead not found")
	// ErrConflict is returned when the stored version moved since the snapshot was read.
	ErrConflict = errors.New("lead version conflict")
)

// ListFilter narrows ListByTenant.
type ListFilter struct {
	States []domain.EngagementState
	Limit  int
}

// SnapshotStore persists lead snapshots with optimistic concurrency.
type SnapshotStore interface {
	// Create inserts a new snapshot at version 1.
	Create(ctx context.Context, s *domain.Snapshot) error
	// Get loads one snapshot.
	Get(ctx context.Context, tenantID, leadID uuid.UUID) (*domain.Snapshot, error)
	// Save writes s if the stored version equals s.Version, then bumps
	// s.Version. A moved version yields ErrConflict.
	Save(ctx context.Context, s *domain.Snapshot) error
	// ListActiveOrStale returns every lead the lifecycle sweep must examine.
	ListActiveOrStale(ctx context.Context, tenantID uuid.UUID) ([]*domain.Snapshot, error)
	// ListByTenant returns the tenant's leads ordered by total score.
	ListByTenant(ctx context.Context, tenantID uuid.UUID, filter ListFilter) ([]*domain.Snapshot, error)
	// ListTenants returns every tenant that owns at least one lead.
	ListTenants(ctx context.Context) ([]uuid.UUID, error)
	// RecordContact is the collaborator write for an external contact event.
	RecordContact(ctx context.Context, tenantID, leadID uuid.UUID, at time.Time) error
}
