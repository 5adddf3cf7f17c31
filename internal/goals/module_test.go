package goals

import (
	"context"
	"testing"
	"time"

	"leadintel_backend/internal/events"
	"leadintel_backend/internal/goals/domain"
	"leadintel_backend/internal/goals/repository"
	"leadintel_backend/internal/goals/transport"
	leaddomain "leadintel_backend/internal/leads/domain"
	leadrepo "leadintel_backend/internal/leads/repository"
	"leadintel_backend/internal/leads/scoring"
	platformevents "leadintel_backend/platform/events"
	"leadintel_backend/platform/logger"
	"leadintel_backend/platform/validator"

	"github.com/google/uuid"
)

func TestEngagementChangeRecomputesTenantGoals(t *testing.T) {
	ctx := context.Background()
	goals := repository.NewMemoryStore()
	leads := leadrepo.NewMemoryStore()
	m := NewModule(goals, leads, scoring.MustDefaultEngine(), validator.New(), logger.Nop(), nil)
	bus := platformevents.NewInMemoryBus(logger.Nop())
	m.RegisterHandlers(bus)

	tenant := uuid.New()
	now := time.Now().UTC()
	created, err := m.Service().Create(ctx, tenant, transport.CreateGoalRequest{
		Name:        "Outreach",
		Metric:      string(domain.MetricLeadsContacted),
		TargetValue: 2,
		StartDate:   now.AddDate(0, 0, -7).Format(transport.DateLayout),
		Deadline:    now.AddDate(0, 0, 7).Format(transport.DateLayout),
	})
	if err != nil {
		t.Fatalf("create goal: %v", err)
	}
	if created.CurrentValue != 0 {
		t.Fatalf("expected empty progress, got %v", created.CurrentValue)
	}

	lead := leaddomain.NewSnapshot(tenant, leaddomain.Attributes{}, now.Add(-2*time.Hour))
	if err := leads.Create(ctx, lead); err != nil {
		t.Fatalf("create lead: %v", err)
	}
	if err := leads.RecordContact(ctx, tenant, lead.ID, now.Add(-time.Hour)); err != nil {
		t.Fatalf("record contact: %v", err)
	}

	bus.Publish(ctx, events.LeadEngagementChanged{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    lead.ID,
		TenantID:  tenant,
		From:      string(leaddomain.StateStale),
		To:        string(leaddomain.StateActive),
	})
	bus.Wait()

	got, err := goals.Get(ctx, tenant, created.ID)
	if err != nil {
		t.Fatalf("get goal: %v", err)
	}
	if got.CurrentValue != 1 {
		t.Fatalf("expected progress 1 after engagement change, got %v", got.CurrentValue)
	}
}

func TestFailedEnrichmentLeavesGoalsAlone(t *testing.T) {
	ctx := context.Background()
	goals := repository.NewMemoryStore()
	m := NewModule(goals, leadrepo.NewMemoryStore(), scoring.MustDefaultEngine(), validator.New(), logger.Nop(), nil)

	err := m.Handle(ctx, events.LeadEnriched{TenantID: uuid.New(), Failed: []string{"places"}})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	tenants, _ := goals.ListTenants(ctx)
	if len(tenants) != 0 {
		t.Fatalf("expected no goal writes, got %v", tenants)
	}
}
