package billing

import (
	"context"
	"sort"
	"sync"

	"leadintel_backend/platform/apperr"

	"github.com/google/uuid"
)

type featureKey struct {
	tenant  uuid.UUID
	feature string
}

// MemoryStore implements Entitlements and Ledger in process. It backs tests
// and the single-binary development mode.
type MemoryStore struct {
	mu       sync.Mutex
	features map[featureKey]bool
	budgets  map[featureKey]int64
	used     map[featureKey]int64
	calls    int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		features: make(map[featureKey]bool),
		budgets:  make(map[featureKey]int64),
		used:     make(map[featureKey]int64),
	}
}

var (
	_ Entitlements = (*MemoryStore)(nil)
	_ Ledger       = (*MemoryStore)(nil)
)

// Enable toggles a feature for a tenant.
func (m *MemoryStore) Enable(tenantID uuid.UUID, feature string, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.features[featureKey{tenantID, feature}] = enabled
}

// SetBudget caps a tenant's spend on a feature.
func (m *MemoryStore) SetBudget(tenantID uuid.UUID, feature string, cents int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.budgets[featureKey{tenantID, feature}] = cents
}

func (m *MemoryStore) CheckFeature(_ context.Context, tenantID uuid.UUID, feature string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.features[featureKey{tenantID, feature}], nil
}

func (m *MemoryStore) RecordUsage(_ context.Context, tenantID uuid.UUID, feature string, cost int64) error {
	if cost < 0 {
		return apperr.Validation("usage cost must not be negative")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	k := featureKey{tenantID, feature}
	if budget, ok := m.budgets[k]; ok && m.used[k]+cost > budget {
		return apperr.BudgetExceeded(feature)
	}
	m.used[k] += cost
	return nil
}

// Used returns recorded spend.
func (m *MemoryStore) Used(tenantID uuid.UUID, feature string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used[featureKey{tenantID, feature}]
}

// RecordCalls counts RecordUsage invocations, including rejected ones.
func (m *MemoryStore) RecordCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Usage lists spend per feature for a tenant.
func (m *MemoryStore) Usage(_ context.Context, tenantID uuid.UUID) ([]Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Usage
	for k, used := range m.used {
		if k.tenant != tenantID {
			continue
		}
		u := Usage{Feature: k.feature, UsedCents: used}
		if b, ok := m.budgets[k]; ok {
			u.BudgetCents = &b
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Feature < out[j].Feature })
	return out, nil
}
