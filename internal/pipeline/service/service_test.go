package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"leadintel_backend/internal/billing"
	"leadintel_backend/internal/enrichment"
	"leadintel_backend/internal/events"
	goalrepo "leadintel_backend/internal/goals/repository"
	goalservice "leadintel_backend/internal/goals/service"
	goaltransport "leadintel_backend/internal/goals/transport"
	"leadintel_backend/internal/goals/planner"
	"leadintel_backend/internal/leads/domain"
	"leadintel_backend/internal/leads/repository"
	"leadintel_backend/internal/leads/scoring"
	"leadintel_backend/internal/lifecycle"
	"leadintel_backend/internal/pipeline/transport"
	"leadintel_backend/platform/apperr"
	"leadintel_backend/platform/lock"
	"leadintel_backend/platform/logger"
	"leadintel_backend/platform/retry"

	"github.com/google/uuid"
)

var now = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

type stubProvider struct {
	name   string
	fields domain.Attributes
	err    error
}

func (p *stubProvider) Name() string           { return p.name }
func (p *stubProvider) Feature() string        { return billing.FeatureAIEnrichment }
func (p *stubProvider) Cost() int64            { return 5 }
func (p *stubProvider) Timeout() time.Duration { return 0 }
func (p *stubProvider) Fetch(context.Context, domain.Attributes) (enrichment.Payload, error) {
	if p.err != nil {
		return enrichment.Payload{}, p.err
	}
	return enrichment.Payload{Fields: p.fields.Clone()}, nil
}

type fakeQueue struct {
	mu   sync.Mutex
	reqs []enrichment.Request
}

func (q *fakeQueue) EnqueueEnrichment(_ context.Context, req enrichment.Request) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reqs = append(q.reqs, req)
	return "task-1", nil
}

type scoredCounter struct {
	mu    sync.Mutex
	count int
}

func (c *scoredCounter) Handle(context.Context, events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	return nil
}

func (c *scoredCounter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

type harness struct {
	svc     *Service
	store   *repository.MemoryStore
	billing *billing.MemoryStore
	goals   *goalservice.Service
	bus     *events.InMemoryBus
	scored  *scoredCounter
	tenant  uuid.UUID
}

func newHarness(t *testing.T, providers ...enrichment.Provider) *harness {
	t.Helper()
	store := repository.NewMemoryStore()
	bill := billing.NewMemoryStore()
	locks := lock.NewKeyed[uuid.UUID]()
	engine := scoring.MustDefaultEngine()
	bus := events.NewInMemoryBus(logger.Nop())
	scored := &scoredCounter{}
	bus.Subscribe(events.LeadScored{}.EventName(), scored)

	orch := enrichment.NewOrchestrator(enrichment.Deps{
		Store:        store,
		Providers:    providers,
		Entitlements: bill,
		Ledger:       bill,
		Locks:        locks,
		Log:          logger.Nop(),
		Now:          clock,
	}, enrichment.Options{
		Policy:    retry.Policy{Timeout: 50 * time.Millisecond, MaxRetries: 0, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Freshness: 24 * time.Hour,
	})
	manager := lifecycle.NewManager(store, locks, lifecycle.DefaultPolicy(), logger.Nop(), nil, lifecycle.WithClock(clock))
	goals := goalservice.New(goalrepo.NewMemoryStore(), store, planner.New(engine, 0), logger.Nop(), nil).WithClock(clock)

	tenant := uuid.New()
	bill.Enable(tenant, billing.FeatureAIEnrichment, true)

	return &harness{
		svc: New(Deps{
			Store:     store,
			Locks:     locks,
			Engine:    engine,
			Enricher:  orch,
			Lifecycle: manager,
			Goals:     goals,
			Bus:       bus,
			Log:       logger.Nop(),
			Now:       clock,
		}),
		store:   store,
		billing: bill,
		goals:   goals,
		bus:     bus,
		scored:  scored,
		tenant:  tenant,
	}
}

func (h *harness) create(t *testing.T, attrs domain.Attributes) transport.LeadResponse {
	t.Helper()
	res, err := h.svc.CreateLead(context.Background(), h.tenant, transport.CreateLeadRequest{Attributes: attrs})
	if err != nil {
		t.Fatalf("create lead: %v", err)
	}
	return res
}

func (h *harness) reload(t *testing.T, id uuid.UUID) *domain.Snapshot {
	t.Helper()
	s, err := h.store.Get(context.Background(), h.tenant, id)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	return s
}

func baseAttrs() domain.Attributes {
	return domain.Attributes{
		domain.AttrProjectType: domain.Enum("multifamily"),
		domain.AttrCity:        domain.Text("Austin"),
	}
}

func TestCreateLeadScoresAndNormalizesContact(t *testing.T) {
	h := newHarness(t)
	attrs := baseAttrs()
	attrs[domain.AttrContactPhone] = domain.Text("650-253-0000")
	attrs[domain.AttrContactEmail] = domain.Text("  Buyer@Example.COM ")

	res := h.create(t, attrs)
	h.bus.Wait()

	if res.Scores.Stale || res.Scores.ComputedAt.IsZero() {
		t.Fatalf("new lead must be scored, got %+v", res.Scores)
	}
	if res.NextQuestion == nil {
		t.Fatalf("new lead must have a next question")
	}
	stored := h.reload(t, res.ID)
	if got, _ := stored.Attributes.TextValue(domain.AttrContactPhone); got != "+16502530000" {
		t.Fatalf("expected E.164 phone, got %q", got)
	}
	if got, _ := stored.Attributes.TextValue(domain.AttrContactEmail); got != "buyer@example.com" {
		t.Fatalf("expected normalised email, got %q", got)
	}
	if h.scored.get() != 1 {
		t.Fatalf("expected one scored event, got %d", h.scored.get())
	}
}

func TestCreateLeadRejectsInvalidAttributes(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.CreateLead(context.Background(), h.tenant, transport.CreateLeadRequest{
		Attributes: domain.Attributes{"Bad Name": domain.Text("x")},
	})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGetLeadRescoresStaleSnapshot(t *testing.T) {
	h := newHarness(t)
	created := h.create(t, baseAttrs())

	s := h.reload(t, created.ID)
	s.Scores.Stale = true
	if err := h.store.Save(context.Background(), s); err != nil {
		t.Fatalf("save: %v", err)
	}
	versionBefore := s.Version

	res, err := h.svc.GetLead(context.Background(), h.tenant, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if res.Scores.Stale {
		t.Fatalf("stale scores must be recomputed on read")
	}
	if h.reload(t, created.ID).Version != versionBefore+1 {
		t.Fatalf("recomputed scores must be persisted")
	}
}

func TestScoreLeadUpToDateDoesNotWrite(t *testing.T) {
	h := newHarness(t)
	created := h.create(t, baseAttrs())
	h.bus.Wait()
	before := h.reload(t, created.ID).Version

	if _, err := h.svc.ScoreLead(context.Background(), h.tenant, created.ID); err != nil {
		t.Fatalf("score: %v", err)
	}
	h.bus.Wait()
	if h.reload(t, created.ID).Version != before {
		t.Fatalf("up to date scores must not be rewritten")
	}
	if h.scored.get() != 1 {
		t.Fatalf("no event expected for an unchanged score, got %d", h.scored.get())
	}
}

func TestScoreLeadUnknownLead(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.ScoreLead(context.Background(), h.tenant, uuid.New())
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEnrichLeadMergesAndRescores(t *testing.T) {
	places := &stubProvider{name: "places", fields: domain.Attributes{
		domain.AttrProjectValue: domain.Number(25_000_000),
	}}
	h := newHarness(t, places)
	created := h.create(t, baseAttrs())

	res, err := h.svc.EnrichLead(context.Background(), h.tenant, created.ID, transport.EnrichLeadRequest{})
	if err != nil {
		t.Fatalf("enrich: %v", err)
	}
	if res.Partial || len(res.Results) != 1 || res.Results[0].Status != enrichment.StatusSucceeded {
		t.Fatalf("unexpected results %+v", res.Results)
	}
	if res.Lead.Scores.Stale {
		t.Fatalf("enriched lead must be rescored")
	}
	if res.Lead.Scores.Groove <= created.Scores.Groove {
		t.Fatalf("project value must raise groove: before %v after %v", created.Scores.Groove, res.Lead.Scores.Groove)
	}
	v, ok := res.Lead.Attributes[domain.AttrProjectValue]
	if !ok || v.Provenance != "places" {
		t.Fatalf("merged field must carry provider provenance, got %+v", v)
	}
}

func TestEnrichLeadPartialFailure(t *testing.T) {
	ok := &stubProvider{name: "places", fields: domain.Attributes{domain.AttrLatitude: domain.Number(30.2)}}
	broken := &stubProvider{name: "media", err: errors.New("bad request")}
	h := newHarness(t, ok, broken)
	created := h.create(t, baseAttrs())

	res, err := h.svc.EnrichLead(context.Background(), h.tenant, created.ID, transport.EnrichLeadRequest{})
	if err != nil {
		t.Fatalf("partial failure must not fail the request: %v", err)
	}
	if !res.Partial {
		t.Fatalf("expected partial flag")
	}
	if _, ok := res.Lead.Attributes[domain.AttrLatitude]; !ok {
		t.Fatalf("successful provider must be merged")
	}
}

func TestEnrichLeadAllDenied(t *testing.T) {
	h := newHarness(t, &stubProvider{name: "places", fields: domain.Attributes{}})
	created := h.create(t, baseAttrs())
	h.billing.Enable(h.tenant, billing.FeatureAIEnrichment, false)

	_, err := h.svc.EnrichLead(context.Background(), h.tenant, created.ID, transport.EnrichLeadRequest{})
	if !apperr.Is(err, apperr.KindEntitlement) {
		t.Fatalf("expected entitlement error, got %v", err)
	}
	if h.billing.RecordCalls() != 0 {
		t.Fatalf("denied enrichment must not touch the ledger")
	}
}

func TestEnqueueEnrichment(t *testing.T) {
	h := newHarness(t)
	created := h.create(t, baseAttrs())

	_, err := h.svc.EnqueueEnrichment(context.Background(), h.tenant, created.ID, transport.EnrichLeadRequest{})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error without a queue, got %v", err)
	}

	q := &fakeQueue{}
	h.svc.SetQueue(q)
	if _, err := h.svc.EnqueueEnrichment(context.Background(), h.tenant, uuid.New(), transport.EnrichLeadRequest{}); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found for unknown lead, got %v", err)
	}

	res, err := h.svc.EnqueueEnrichment(context.Background(), h.tenant, created.ID, transport.EnrichLeadRequest{Providers: []string{"places"}, Force: true})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if res.TaskID != "task-1" || len(q.reqs) != 1 || !q.reqs[0].Force || q.reqs[0].LeadID != created.ID {
		t.Fatalf("unexpected queue state %+v %+v", res, q.reqs)
	}
}

func TestAnswerQuestion(t *testing.T) {
	h := newHarness(t)
	created := h.create(t, baseAttrs())
	q := created.NextQuestion
	if q == nil {
		t.Fatalf("expected a question")
	}

	if _, err := h.svc.AnswerQuestion(context.Background(), h.tenant, created.ID, "no-such-question"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	res, err := h.svc.AnswerQuestion(context.Background(), h.tenant, created.ID, q.ID)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if res.Scores.Psychology <= created.Scores.Psychology {
		t.Fatalf("answering must raise psychology: %v -> %v", created.Scores.Psychology, res.Scores.Psychology)
	}
	if res.NextQuestion != nil && res.NextQuestion.ID == q.ID {
		t.Fatalf("answered question must not be asked again")
	}

	version := h.reload(t, created.ID).Version
	if _, err := h.svc.AnswerQuestion(context.Background(), h.tenant, created.ID, q.ID); err != nil {
		t.Fatalf("repeat answer: %v", err)
	}
	if h.reload(t, created.ID).Version != version {
		t.Fatalf("repeat answer must not write")
	}
}

func TestRankedLeads(t *testing.T) {
	h := newHarness(t)
	small := h.create(t, domain.Attributes{domain.AttrProjectValue: domain.Number(100_000)})
	big := h.create(t, domain.Attributes{domain.AttrProjectValue: domain.Number(50_000_000), domain.AttrProjectType: domain.Enum("multifamily")})
	archived := h.create(t, domain.Attributes{domain.AttrProjectValue: domain.Number(90_000_000)})
	if _, err := h.svc.OverrideState(context.Background(), h.tenant, archived.ID, transport.OverrideStateRequest{State: "archived"}); err != nil {
		t.Fatalf("override: %v", err)
	}

	res, err := h.svc.RankedLeads(context.Background(), h.tenant, transport.RankedLeadsQuery{States: []string{"active"}})
	if err != nil {
		t.Fatalf("ranked: %v", err)
	}
	if res.Total != 2 || res.Items[0].ID != big.ID || res.Items[1].ID != small.ID {
		t.Fatalf("unexpected ranking %+v", res.Items)
	}

	limited, err := h.svc.RankedLeads(context.Background(), h.tenant, transport.RankedLeadsQuery{Limit: 1})
	if err != nil {
		t.Fatalf("ranked: %v", err)
	}
	if limited.Total != 1 {
		t.Fatalf("expected limit of 1, got %d", limited.Total)
	}
}

func TestRecordContact(t *testing.T) {
	h := newHarness(t)
	created := h.create(t, baseAttrs())

	future := now.Add(time.Hour)
	if _, err := h.svc.RecordContact(context.Background(), h.tenant, created.ID, transport.RecordContactRequest{At: &future}); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for future contact, got %v", err)
	}

	res, err := h.svc.RecordContact(context.Background(), h.tenant, created.ID, transport.RecordContactRequest{})
	if err != nil {
		t.Fatalf("record contact: %v", err)
	}
	if res.ContactAttempts != 1 || res.LastContactAt == nil || !res.LastContactAt.Equal(now) {
		t.Fatalf("unexpected contact state %+v", res.Snapshot)
	}

	if _, err := h.svc.RecordContact(context.Background(), h.tenant, uuid.New(), transport.RecordContactRequest{}); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRescoreTenant(t *testing.T) {
	h := newHarness(t)
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		ids = append(ids, h.create(t, baseAttrs()).ID)
	}
	for _, id := range ids[:2] {
		s := h.reload(t, id)
		s.Scores.Stale = true
		if err := h.store.Save(context.Background(), s); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	res, err := h.svc.RescoreTenant(context.Background(), h.tenant)
	if err != nil {
		t.Fatalf("rescore: %v", err)
	}
	if res.Examined != 3 || res.Rescored != 2 || res.Failures != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	for _, id := range ids {
		if h.reload(t, id).Scores.Stale {
			t.Fatalf("lead %s still stale", id)
		}
	}
}

func TestSweepLifecycleThroughPipeline(t *testing.T) {
	h := newHarness(t)
	created := h.create(t, baseAttrs())

	s := h.reload(t, created.ID)
	contact := now.Add(-30 * 24 * time.Hour)
	s.LastContactAt = &contact
	s.ContactAttempts = 3
	if err := h.store.Save(context.Background(), s); err != nil {
		t.Fatalf("save: %v", err)
	}

	res, err := h.svc.SweepLifecycle(context.Background(), h.tenant)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.ArchivedCount != 1 {
		t.Fatalf("expected one archived lead, got %+v", res)
	}
	if h.reload(t, created.ID).EngagementState != domain.StateArchived {
		t.Fatalf("lead must be archived")
	}

	if _, err := h.svc.OverrideState(context.Background(), h.tenant, created.ID, transport.OverrideStateRequest{State: "active"}); err != nil {
		t.Fatalf("override: %v", err)
	}
	if h.reload(t, created.ID).EngagementState != domain.StateActive {
		t.Fatalf("override must reactivate the lead")
	}
}

func TestRecommendActionsDelegatesToGoals(t *testing.T) {
	h := newHarness(t)
	lead := h.create(t, baseAttrs())

	goal, err := h.goals.Create(context.Background(), h.tenant, goaltransport.CreateGoalRequest{
		Name:        "May contacts",
		Metric:      "leads_contacted",
		TargetValue: 1,
		StartDate:   "2026-05-01",
		Deadline:    "2026-05-31",
	})
	if err != nil {
		t.Fatalf("create goal: %v", err)
	}

	res, err := h.svc.RecommendActions(context.Background(), h.tenant, goal.ID)
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	if len(res.Recommendations) != 1 || res.Recommendations[0].LeadID != lead.ID {
		t.Fatalf("expected the only lead recommended, got %+v", res.Recommendations)
	}
}
