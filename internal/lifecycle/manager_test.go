package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"leadintel_backend/internal/leads/domain"
	"leadintel_backend/internal/leads/repository"
	"leadintel_backend/platform/apperr"
	"leadintel_backend/platform/events"
	"leadintel_backend/platform/lock"
	"leadintel_backend/platform/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func seedLead(t *testing.T, store *repository.MemoryStore, tenant uuid.UUID, lastContactDaysAgo, attempts int) *domain.Snapshot {
	t.Helper()
	created := now.Add(-60 * day)
	s := domain.NewSnapshot(tenant, domain.Attributes{}, created)
	contact := now.Add(-time.Duration(lastContactDaysAgo) * day)
	s.LastContactAt = &contact
	s.ContactAttempts = attempts
	if err := store.Create(context.Background(), s); err != nil {
		t.Fatalf("create: %v", err)
	}
	return s
}

func newManager(store repository.SnapshotStore, opts ...Option) *Manager {
	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)
	return NewManager(store, lock.NewKeyed[uuid.UUID](), DefaultPolicy(), logger.Nop(), nil, opts...)
}

func state(t *testing.T, store *repository.MemoryStore, s *domain.Snapshot) domain.EngagementState {
	t.Helper()
	got, err := store.Get(context.Background(), s.TenantID, s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return got.EngagementState
}

func TestSweepArchivesWorkedLeadAndHoldsUnderWorkedLead(t *testing.T) {
	store := repository.NewMemoryStore()
	tenant := uuid.New()
	worked := seedLead(t, store, tenant, 22, 3)
	underWorked := seedLead(t, store, tenant, 22, 1)

	res, err := newManager(store).Sweep(context.Background(), tenant)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if got := state(t, store, worked); got != domain.StateArchived {
		t.Fatalf("22 days and 3 attempts must archive, got %s", got)
	}
	if got := state(t, store, underWorked); got != domain.StateStale {
		t.Fatalf("22 days and 1 attempt must be stale, got %s", got)
	}
	if res.Examined != 2 || res.ArchivedCount != 1 || res.StaleCount != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestPolicyDecide(t *testing.T) {
	p := DefaultPolicy()
	contact := func(daysAgo int) *time.Time {
		c := now.Add(-time.Duration(daysAgo) * day)
		return &c
	}
	cases := []struct {
		name     string
		state    domain.EngagementState
		contact  *time.Time
		changed  time.Time
		attempts int
		want     domain.EngagementState
	}{
		{"recent contact stays active", domain.StateActive, contact(2), now.Add(-30 * day), 0, domain.StateActive},
		{"idle past stale threshold", domain.StateActive, contact(8), now.Add(-30 * day), 0, domain.StateStale},
		{"exactly at stale threshold", domain.StateActive, contact(7), now.Add(-30 * day), 0, domain.StateActive},
		{"stale and worked archives", domain.StateStale, contact(30), now.Add(-5 * day), 5, domain.StateArchived},
		{"stale and under-worked holds", domain.StateStale, contact(30), now.Add(-5 * day), 2, domain.StateStale},
		{"contact after archiving reactivates", domain.StateArchived, contact(1), now.Add(-5 * day), 3, domain.StateActive},
		{"archived without new contact stays", domain.StateArchived, contact(30), now.Add(-5 * day), 3, domain.StateArchived},
		{"contact after going stale reactivates", domain.StateStale, contact(1), now.Add(-3 * day), 1, domain.StateActive},
	}
	for _, tc := range cases {
		s := &domain.Snapshot{
			EngagementState: tc.state,
			LastContactAt:   tc.contact,
			StateChangedAt:  tc.changed,
			ContactAttempts: tc.attempts,
			CreatedAt:       now.Add(-90 * day),
		}
		if got := p.Decide(s, now); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestNeverContactedLeadUsesCreationTime(t *testing.T) {
	p := DefaultPolicy()
	fresh := &domain.Snapshot{EngagementState: domain.StateActive, CreatedAt: now.Add(-day)}
	if got := p.Decide(fresh, now); got != domain.StateActive {
		t.Fatalf("new lead must stay active, got %s", got)
	}
	old := &domain.Snapshot{EngagementState: domain.StateActive, CreatedAt: now.Add(-10 * day)}
	if got := p.Decide(old, now); got != domain.StateStale {
		t.Fatalf("untouched lead must go stale, got %s", got)
	}
}

func TestSweepReactivatesArchivedLeadAfterContact(t *testing.T) {
	store := repository.NewMemoryStore()
	tenant := uuid.New()
	lead := seedLead(t, store, tenant, 30, 3)
	m := newManager(store)

	if _, err := m.Sweep(context.Background(), tenant); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if got := state(t, store, lead); got != domain.StateArchived {
		t.Fatalf("expected archived, got %s", got)
	}

	later := now.Add(time.Hour)
	if err := store.RecordContact(context.Background(), tenant, lead.ID, later); err != nil {
		t.Fatalf("record contact: %v", err)
	}
	m.now = func() time.Time { return later.Add(time.Minute) }
	res, err := m.Sweep(context.Background(), tenant)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if got := state(t, store, lead); got != domain.StateActive || res.ReactivatedCount != 1 {
		t.Fatalf("expected reactivation, got %s %+v", got, res)
	}
}

type flakyStore struct {
	*repository.MemoryStore
	failLead uuid.UUID
}

func (f *flakyStore) Save(ctx context.Context, s *domain.Snapshot) error {
	if s.ID == f.failLead {
		return errors.New("disk full")
	}
	return f.MemoryStore.Save(ctx, s)
}

func TestSweepIsolatesPerLeadFailures(t *testing.T) {
	base := repository.NewMemoryStore()
	tenant := uuid.New()
	bad := seedLead(t, base, tenant, 30, 5)
	var good []*domain.Snapshot
	for i := 0; i < 10; i++ {
		good = append(good, seedLead(t, base, tenant, 30, 5))
	}

	res, err := newManager(&flakyStore{MemoryStore: base, failLead: bad.ID}, WithConcurrency(3)).Sweep(context.Background(), tenant)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(res.Failures) != 1 || res.Failures[0].LeadID != bad.ID {
		t.Fatalf("expected one failure for the bad lead, got %+v", res.Failures)
	}
	if res.ArchivedCount != 10 {
		t.Fatalf("expected the other leads archived, got %d", res.ArchivedCount)
	}
	for _, s := range good {
		if got := state(t, base, s); got != domain.StateArchived {
			t.Fatalf("lead %s not archived: %s", s.ID, got)
		}
	}
	if got := state(t, base, bad); got != domain.StateActive {
		t.Fatalf("failed lead must be unchanged, got %s", got)
	}
}

type blockingStore struct {
	*repository.MemoryStore
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStore) ListActiveOrStale(ctx context.Context, tenantID uuid.UUID) ([]*domain.Snapshot, error) {
	b.entered <- struct{}{}
	<-b.release
	return b.MemoryStore.ListActiveOrStale(ctx, tenantID)
}

func TestSweepsDoNotOverlap(t *testing.T) {
	store := &blockingStore{MemoryStore: repository.NewMemoryStore(), entered: make(chan struct{}), release: make(chan struct{})}
	m := newManager(store)
	tenant := uuid.New()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = m.Sweep(context.Background(), tenant)
	}()
	<-store.entered

	if _, err := m.Sweep(context.Background(), tenant); !errors.Is(err, ErrSweepRunning) {
		t.Fatalf("expected overlapping sweep to be refused, got %v", err)
	}
	close(store.release)
	wg.Wait()
}

func TestRedisGuardBlocksOtherInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := repository.NewMemoryStore()
	tenant := uuid.New()
	seedLead(t, store, tenant, 30, 5)

	// Another instance holds the lease.
	if err := mr.Set(sweepLockKey, "other"); err != nil {
		t.Fatalf("seed lease: %v", err)
	}
	m := newManager(store, WithRedisGuard(client))
	if _, err := m.Sweep(context.Background(), tenant); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict while another instance sweeps, got %v", err)
	}

	mr.Del(sweepLockKey)
	res, err := m.Sweep(context.Background(), tenant)
	if err != nil || res.ArchivedCount != 1 {
		t.Fatalf("expected sweep to run once the lease is free, res=%+v err=%v", res, err)
	}
	if mr.Exists(sweepLockKey) {
		t.Fatalf("lease must be released after the sweep")
	}
}

func TestSweepAllCoversEveryTenant(t *testing.T) {
	store := repository.NewMemoryStore()
	a, b := uuid.New(), uuid.New()
	seedLead(t, store, a, 30, 5)
	seedLead(t, store, b, 10, 0)

	res, err := newManager(store).SweepAll(context.Background())
	if err != nil {
		t.Fatalf("sweep all: %v", err)
	}
	if res.Examined != 2 || res.ArchivedCount != 1 || res.StaleCount != 1 {
		t.Fatalf("unexpected aggregate %+v", res)
	}
}

func TestOverride(t *testing.T) {
	store := repository.NewMemoryStore()
	tenant := uuid.New()
	lead := seedLead(t, store, tenant, 1, 0)
	bus := events.NewInMemoryBus(logger.Nop())
	var got []string
	var mu sync.Mutex
	bus.Subscribe("leads.engagement_changed", events.HandlerFunc(func(_ context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.EventName())
		return nil
	}))
	m := newManager(store, WithEvents(bus))

	s, err := m.Override(context.Background(), tenant, lead.ID, domain.StateArchived)
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if s.EngagementState != domain.StateArchived {
		t.Fatalf("expected archived, got %s", s.EngagementState)
	}
	bus.Wait()
	if len(got) != 1 {
		t.Fatalf("expected one engagement event, got %d", len(got))
	}

	if _, err := m.Override(context.Background(), tenant, lead.ID, "frozen"); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := m.Override(context.Background(), uuid.New(), lead.ID, domain.StateActive); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found for other tenant, got %v", err)
	}
}
