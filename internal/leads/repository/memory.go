package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"leadintel_backend/internal/leads/domain"

	"github.com/google/uuid"
)

// MemoryStore is an in-process SnapshotStore for tests and single-node tools.
type MemoryStore struct {
	mu    sync.RWMutex
	leads map[uuid.UUID]*domain.Snapshot
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{leads: make(map[uuid.UUID]*domain.Snapshot)}
}

var _ SnapshotStore = (*MemoryStore)(nil)

func (m *MemoryStore) Create(_ context.Context, s *domain.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.leads[s.ID]; exists {
		return ErrConflict
	}
	s.Version = 1
	m.leads[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, tenantID, leadID uuid.UUID) (*domain.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.leads[leadID]
	if !ok || s.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, s *domain.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.leads[s.ID]
	if !ok || cur.TenantID != s.TenantID {
		return ErrNotFound
	}
	if cur.Version != s.Version {
		return ErrConflict
	}
	if !domain.ValidAuditHistory(cur.Enrichment, s.Enrichment) {
		return domain.ErrInvalidTransition
	}
	s.Version++
	m.leads[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) ListActiveOrStale(ctx context.Context, tenantID uuid.UUID) ([]*domain.Snapshot, error) {
	return m.ListByTenant(ctx, tenantID, ListFilter{States: []domain.EngagementState{domain.StateActive, domain.StateStale}})
}

func (m *MemoryStore) ListByTenant(_ context.Context, tenantID uuid.UUID, filter ListFilter) ([]*domain.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*domain.Snapshot, 0)
	for _, s := range m.leads {
		if s.TenantID != tenantID || !stateMatches(s.EngagementState, filter.States) {
			continue
		}
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Scores.Total != out[j].Scores.Total {
			return out[i].Scores.Total > out[j].Scores.Total
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStore) ListTenants(_ context.Context) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[uuid.UUID]struct{})
	for _, s := range m.leads {
		seen[s.TenantID] = struct{}{}
	}
	out := make([]uuid.UUID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (m *MemoryStore) RecordContact(_ context.Context, tenantID, leadID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.leads[leadID]
	if !ok || s.TenantID != tenantID {
		return ErrNotFound
	}
	// Same contract as the Postgres store: a backdated contact never moves
	// LastContactAt backwards.
	at = at.UTC()
	if s.LastContactAt == nil || at.After(*s.LastContactAt) {
		s.LastContactAt = &at
	}
	s.ContactAttempts++
	s.UpdatedAt = time.Now().UTC()
	s.Version++
	return nil
}

func stateMatches(state domain.EngagementState, states []domain.EngagementState) bool {
	if len(states) == 0 {
		return true
	}
	for _, st := range states {
		if st == state {
			return true
		}
	}
	return false
}
