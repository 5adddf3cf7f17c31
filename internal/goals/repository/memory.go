package repository

import (
	"context"
	"sort"
	"sync"

	"leadintel_backend/internal/goals/domain"

	"github.com/google/uuid"
)

// MemoryStore is an in-process GoalStore.
type MemoryStore struct {
	mu    sync.RWMutex
	goals map[uuid.UUID]domain.Goal
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{goals: make(map[uuid.UUID]domain.Goal)}
}

var _ GoalStore = (*MemoryStore)(nil)

func (m *MemoryStore) Create(_ context.Context, g *domain.Goal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.goals[g.ID] = *g
	return nil
}

func (m *MemoryStore) Get(_ context.Context, tenantID, goalID uuid.UUID) (*domain.Goal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.goals[goalID]
	if !ok || g.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return &g, nil
}

func (m *MemoryStore) List(_ context.Context, tenantID uuid.UUID) ([]domain.Goal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Goal, 0)
	for _, g := range m.goals {
		if g.TenantID == tenantID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Deadline.Equal(out[j].Deadline) {
			return out[i].Deadline.Before(out[j].Deadline)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (m *MemoryStore) UpdateProgress(_ context.Context, g domain.Goal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.goals[g.ID]
	if !ok || cur.TenantID != g.TenantID {
		return ErrNotFound
	}
	cur.CurrentValue = g.CurrentValue
	cur.Status = g.Status
	cur.UpdatedAt = g.UpdatedAt
	m.goals[g.ID] = cur
	return nil
}

func (m *MemoryStore) ListTenants(_ context.Context) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[uuid.UUID]struct{})
	for _, g := range m.goals {
		seen[g.TenantID] = struct{}{}
	}
	out := make([]uuid.UUID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}
