package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"leadintel_backend/internal/goals/domain"
	"leadintel_backend/internal/goals/planner"
	"leadintel_backend/internal/goals/repository"
	"leadintel_backend/internal/goals/transport"
	leaddomain "leadintel_backend/internal/leads/domain"
	leadrepo "leadintel_backend/internal/leads/repository"
	"leadintel_backend/internal/leads/scoring"
	"leadintel_backend/platform/apperr"
	"leadintel_backend/platform/logger"

	"github.com/google/uuid"
)

var now = time.Date(2026, 3, 16, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, *repository.MemoryStore, *leadrepo.MemoryStore) {
	t.Helper()
	goals := repository.NewMemoryStore()
	leads := leadrepo.NewMemoryStore()
	svc := New(goals, leads, planner.New(scoring.MustDefaultEngine(), 0), logger.Nop(), nil).
		WithClock(func() time.Time { return now })
	return svc, goals, leads
}

func seedContacted(t *testing.T, leads *leadrepo.MemoryStore, tenant uuid.UUID, at time.Time) *leaddomain.Snapshot {
	t.Helper()
	s := leaddomain.NewSnapshot(tenant, leaddomain.Attributes{}, at.Add(-time.Hour))
	if err := leads.Create(context.Background(), s); err != nil {
		t.Fatalf("create lead: %v", err)
	}
	if err := leads.RecordContact(context.Background(), tenant, s.ID, at); err != nil {
		t.Fatalf("record contact: %v", err)
	}
	return s
}

func TestCreateComputesInitialProgress(t *testing.T) {
	svc, _, leads := newService(t)
	tenant := uuid.New()
	seedContacted(t, leads, tenant, now.Add(-24*time.Hour))

	res, err := svc.Create(context.Background(), tenant, transport.CreateGoalRequest{
		Name:        "March outreach",
		Metric:      string(domain.MetricLeadsContacted),
		TargetValue: 2,
		StartDate:   "2026-03-01",
		Deadline:    "2026-03-31",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.CurrentValue != 1 || res.Gap != 1 {
		t.Fatalf("expected one contacted lead and gap 1, got %+v", res)
	}
	if res.Deadline.Day() != 31 || res.Deadline.Hour() != 23 {
		t.Fatalf("deadline must cover the whole last day, got %v", res.Deadline)
	}
}

func TestCreateRejectsBadWindow(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.Create(context.Background(), uuid.New(), transport.CreateGoalRequest{
		Name: "x", Metric: string(domain.MetricLeadsContacted), TargetValue: 1,
		StartDate: "2026-03-31", Deadline: "2026-03-01",
	})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRecommendRefreshesProgress(t *testing.T) {
	svc, goals, leads := newService(t)
	tenant := uuid.New()

	created, err := svc.Create(context.Background(), tenant, transport.CreateGoalRequest{
		Name: "contacts", Metric: string(domain.MetricLeadsContacted), TargetValue: 2,
		StartDate: "2026-03-01", Deadline: "2026-03-31",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	seedContacted(t, leads, tenant, now.Add(-time.Hour))
	uncontacted := leaddomain.NewSnapshot(tenant, leaddomain.Attributes{}, now.Add(-48*time.Hour))
	_ = leads.Create(context.Background(), uncontacted)

	res, err := svc.Recommend(context.Background(), tenant, created.ID)
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	if res.Goal.CurrentValue != 1 {
		t.Fatalf("expected refreshed progress of 1, got %v", res.Goal.CurrentValue)
	}
	if len(res.Recommendations) != 1 || res.Recommendations[0].LeadID != uncontacted.ID {
		t.Fatalf("expected the uncontacted lead, got %+v", res.Recommendations)
	}

	stored, _ := goals.Get(context.Background(), tenant, created.ID)
	if stored.CurrentValue != 1 {
		t.Fatalf("refreshed progress must be persisted, got %v", stored.CurrentValue)
	}
}

func TestGetUnknownGoal(t *testing.T) {
	svc, _, _ := newService(t)
	if _, err := svc.Get(context.Background(), uuid.New(), uuid.New()); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

type failingGoals struct {
	*repository.MemoryStore
	fail uuid.UUID
}

func (f *failingGoals) UpdateProgress(ctx context.Context, g domain.Goal) error {
	if g.ID == f.fail {
		return errors.New("write failed")
	}
	return f.MemoryStore.UpdateProgress(ctx, g)
}

func TestRecomputeAllContinuesPastFailures(t *testing.T) {
	base := repository.NewMemoryStore()
	leads := leadrepo.NewMemoryStore()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	deadline := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		tenant := uuid.New()
		seedContacted(t, leads, tenant, now.Add(-time.Hour))
		g, err := domain.NewGoal(tenant, "g", domain.MetricLeadsContacted, 0, 1, start, deadline, start)
		if err != nil {
			t.Fatalf("new goal: %v", err)
		}
		_ = base.Create(context.Background(), g)
		ids = append(ids, g.ID)
	}

	store := &failingGoals{MemoryStore: base, fail: ids[1]}
	svc := New(store, leads, planner.New(scoring.MustDefaultEngine(), 0), logger.Nop(), nil).
		WithClock(func() time.Time { return now })

	res, err := svc.RecomputeAll(context.Background())
	if err != nil {
		t.Fatalf("recompute all: %v", err)
	}
	if res.Goals != 2 || res.Failures != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	list, _ := base.List(context.Background(), mustTenant(t, base, ids[0]))
	if len(list) != 1 || list[0].Status != domain.StatusAchieved {
		t.Fatalf("expected first goal achieved, got %+v", list)
	}
}

func mustTenant(t *testing.T, store *repository.MemoryStore, goalID uuid.UUID) uuid.UUID {
	t.Helper()
	tenants, _ := store.ListTenants(context.Background())
	for _, tenant := range tenants {
		if g, err := store.Get(context.Background(), tenant, goalID); err == nil {
			return g.TenantID
		}
	}
	t.Fatalf("goal %s not found", goalID)
	return uuid.Nil
}
