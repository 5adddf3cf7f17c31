// Package service is the pipeline facade: it scores, enriches and ranks
// lead snapshots and forwards lifecycle and goal work to their owners.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"leadintel_backend/internal/enrichment"
	"leadintel_backend/internal/events"
	goalservice "leadintel_backend/internal/goals/service"
	goaltransport "leadintel_backend/internal/goals/transport"
	"leadintel_backend/internal/leads/domain"
	"leadintel_backend/internal/leads/repository"
	"leadintel_backend/internal/leads/scoring"
	"leadintel_backend/internal/lifecycle"
	"leadintel_backend/internal/pipeline/transport"
	"leadintel_backend/platform/apperr"
	"leadintel_backend/platform/lock"
	"leadintel_backend/platform/logger"
	"leadintel_backend/platform/phone"
	"leadintel_backend/platform/sanitize"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const rescoreConcurrency = 8

// EnrichQueue hands enrichment requests to the background worker.
type EnrichQueue interface {
	EnqueueEnrichment(ctx context.Context, req enrichment.Request) (string, error)
}

// Deps groups the collaborators. Queue and Bus are optional.
type Deps struct {
	Store     repository.SnapshotStore
	Locks     *lock.Keyed[uuid.UUID]
	Engine    *scoring.Engine
	Enricher  *enrichment.Orchestrator
	Lifecycle *lifecycle.Manager
	Goals     *goalservice.Service
	Queue     EnrichQueue
	Bus       events.Bus
	Log       *logger.Logger
	Now       func() time.Time
}

// Service exposes the pipeline use cases.
type Service struct {
	store     repository.SnapshotStore
	locks     *lock.Keyed[uuid.UUID]
	engine    *scoring.Engine
	enricher  *enrichment.Orchestrator
	lifecycle *lifecycle.Manager
	goals     *goalservice.Service
	queue     EnrichQueue
	bus       events.Bus
	log       *logger.Logger
	now       func() time.Time
}

func New(deps Deps) *Service {
	s := &Service{
		store:     deps.Store,
		locks:     deps.Locks,
		engine:    deps.Engine,
		enricher:  deps.Enricher,
		lifecycle: deps.Lifecycle,
		goals:     deps.Goals,
		queue:     deps.Queue,
		bus:       deps.Bus,
		log:       deps.Log,
		now:       deps.Now,
	}
	if s.locks == nil {
		s.locks = lock.NewKeyed[uuid.UUID]()
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// SetQueue enables asynchronous enrichment once the worker client exists.
func (s *Service) SetQueue(q EnrichQueue) {
	s.queue = q
}

// CreateLead validates source attributes and stores a scored snapshot.
func (s *Service) CreateLead(ctx context.Context, tenantID uuid.UUID, req transport.CreateLeadRequest) (transport.LeadResponse, error) {
	if err := domain.ValidateAttributes(req.Attributes); err != nil {
		return transport.LeadResponse{}, err
	}
	attrs := normalizeAttributes(req.Attributes)

	now := s.now()
	lead := domain.NewSnapshot(tenantID, attrs, now)
	s.engine.Apply(lead, now)

	if err := s.store.Create(ctx, lead); err != nil {
		return transport.LeadResponse{}, err
	}
	s.log.Info("lead created", "lead_id", lead.ID, "tenant_id", tenantID, "total", lead.Scores.Total)
	s.publishScored(ctx, lead)
	return s.toResponse(lead), nil
}

// GetLead returns the snapshot, rescoring first when its scores are out of date.
func (s *Service) GetLead(ctx context.Context, tenantID, leadID uuid.UUID) (transport.LeadResponse, error) {
	lead, err := s.store.Get(ctx, tenantID, leadID)
	if err != nil {
		return transport.LeadResponse{}, leadError(err)
	}
	if s.engine.UpToDate(lead, s.now()) {
		return s.toResponse(lead), nil
	}
	return s.ScoreLead(ctx, tenantID, leadID)
}

// ScoreLead recomputes and stores the lead's scores. Scores that are
// already current are returned without a write.
func (s *Service) ScoreLead(ctx context.Context, tenantID, leadID uuid.UUID) (transport.LeadResponse, error) {
	lead, changed, err := s.rescore(ctx, tenantID, leadID)
	if err != nil {
		return transport.LeadResponse{}, err
	}
	if changed {
		s.publishScored(ctx, lead)
	}
	return s.toResponse(lead), nil
}

func (s *Service) rescore(ctx context.Context, tenantID, leadID uuid.UUID) (*domain.Snapshot, bool, error) {
	changed := false
	lead, err := repository.Mutate(ctx, s.store, s.locks, tenantID, leadID, func(snap *domain.Snapshot) error {
		changed = s.engine.Apply(snap, s.now())
		if !changed {
			return repository.ErrUnchanged
		}
		return nil
	})
	if err != nil {
		return nil, false, leadError(err)
	}
	return lead, changed, nil
}

// RankedLeads lists a tenant's leads by total, groove, timing and id.
// Out of date scores are refreshed for the ordering but not written.
func (s *Service) RankedLeads(ctx context.Context, tenantID uuid.UUID, q transport.RankedLeadsQuery) (transport.RankedLeadsResponse, error) {
	filter := repository.ListFilter{}
	for _, st := range q.States {
		filter.States = append(filter.States, domain.EngagementState(st))
	}

	leads, err := s.store.ListByTenant(ctx, tenantID, filter)
	if err != nil {
		return transport.RankedLeadsResponse{}, err
	}

	now := s.now()
	for i, lead := range leads {
		if !s.engine.UpToDate(lead, now) {
			fresh := lead.Clone()
			fresh.Scores = s.engine.Score(fresh, now)
			leads[i] = fresh
		}
	}
	ranked := scoring.Rank(leads)
	if q.Limit > 0 && len(ranked) > q.Limit {
		ranked = ranked[:q.Limit]
	}

	items := make([]transport.LeadResponse, 0, len(ranked))
	for _, lead := range ranked {
		items = append(items, s.toResponse(lead))
	}
	return transport.RankedLeadsResponse{Items: items, Total: len(items)}, nil
}

// EnrichLead runs providers for the lead and rescores it. Provider failures
// stay in the report as long as one provider succeeded or was fresh; when
// none did, the first provider error is returned.
func (s *Service) EnrichLead(ctx context.Context, tenantID, leadID uuid.UUID, req transport.EnrichLeadRequest) (transport.EnrichLeadResponse, error) {
	report, err := s.enricher.Enrich(ctx, enrichment.Request{
		TenantID:  tenantID,
		LeadID:    leadID,
		Providers: req.Providers,
		Force:     req.Force,
	})
	if err != nil {
		return transport.EnrichLeadResponse{}, err
	}
	if !report.AnySucceeded() {
		return transport.EnrichLeadResponse{}, firstError(report)
	}

	lead := report.Snapshot
	if !s.engine.UpToDate(lead, s.now()) {
		rescored, changed, err := s.rescore(ctx, tenantID, leadID)
		if err != nil {
			return transport.EnrichLeadResponse{}, err
		}
		if changed {
			s.publishScored(ctx, rescored)
		}
		lead = rescored
	}

	partial := false
	for _, r := range report.Results {
		if r.Status != enrichment.StatusSucceeded && r.Status != enrichment.StatusSkipped {
			partial = true
		}
	}
	return transport.EnrichLeadResponse{
		Lead:    s.toResponse(lead),
		Results: report.Results,
		Partial: partial,
	}, nil
}

// EnqueueEnrichment queues the request for the worker. The lead must exist
// so a bad id fails fast instead of inside the worker.
func (s *Service) EnqueueEnrichment(ctx context.Context, tenantID, leadID uuid.UUID, req transport.EnrichLeadRequest) (transport.EnrichQueuedResponse, error) {
	if s.queue == nil {
		return transport.EnrichQueuedResponse{}, apperr.Validation("asynchronous enrichment is not configured")
	}
	if _, err := s.store.Get(ctx, tenantID, leadID); err != nil {
		return transport.EnrichQueuedResponse{}, leadError(err)
	}
	id, err := s.queue.EnqueueEnrichment(ctx, enrichment.Request{
		TenantID:  tenantID,
		LeadID:    leadID,
		Providers: req.Providers,
		Force:     req.Force,
	})
	if err != nil {
		return transport.EnrichQueuedResponse{}, apperr.Wrap(apperr.KindInternal, "enqueue enrichment", err)
	}
	s.log.Info("enrichment queued", "lead_id", leadID, "tenant_id", tenantID, "task_id", id)
	return transport.EnrichQueuedResponse{TaskID: id, Status: "queued"}, nil
}

// RunEnrichment is the worker entry point for a queued request.
func (s *Service) RunEnrichment(ctx context.Context, req enrichment.Request) error {
	_, err := s.EnrichLead(ctx, req.TenantID, req.LeadID, transport.EnrichLeadRequest{
		Providers: req.Providers,
		Force:     req.Force,
	})
	return err
}

// AnswerQuestion marks a qualifying question answered and rescores the lead.
func (s *Service) AnswerQuestion(ctx context.Context, tenantID, leadID uuid.UUID, questionID string) (transport.LeadResponse, error) {
	if _, ok := s.engine.Question(questionID); !ok {
		return transport.LeadResponse{}, apperr.NotFound("question not found").
			WithDetails(map[string]string{"questionId": questionID})
	}

	changed := false
	lead, err := repository.Mutate(ctx, s.store, s.locks, tenantID, leadID, func(snap *domain.Snapshot) error {
		now := s.now()
		if !snap.AnswerQuestion(questionID, now) {
			changed = false
			return repository.ErrUnchanged
		}
		changed = true
		s.engine.Apply(snap, now)
		return nil
	})
	if err != nil {
		return transport.LeadResponse{}, leadError(err)
	}
	if changed {
		s.publishScored(ctx, lead)
	}
	return s.toResponse(lead), nil
}

// RecordContact stores an external contact event. The lifecycle sweep picks
// it up on its next run.
func (s *Service) RecordContact(ctx context.Context, tenantID, leadID uuid.UUID, req transport.RecordContactRequest) (transport.LeadResponse, error) {
	at := s.now()
	if req.At != nil {
		if req.At.After(at) {
			return transport.LeadResponse{}, apperr.Validation("contact time is in the future")
		}
		at = *req.At
	}
	if err := s.store.RecordContact(ctx, tenantID, leadID, at.UTC()); err != nil {
		return transport.LeadResponse{}, leadError(err)
	}
	lead, err := s.store.Get(ctx, tenantID, leadID)
	if err != nil {
		return transport.LeadResponse{}, leadError(err)
	}
	return s.toResponse(lead), nil
}

// SweepLifecycle reclassifies one tenant's leads.
func (s *Service) SweepLifecycle(ctx context.Context, tenantID uuid.UUID) (lifecycle.SweepResult, error) {
	return s.lifecycle.Sweep(ctx, tenantID)
}

// SweepAll reclassifies every tenant's leads.
func (s *Service) SweepAll(ctx context.Context) (lifecycle.SweepResult, error) {
	return s.lifecycle.SweepAll(ctx)
}

// OverrideState applies an operator's engagement state decision.
func (s *Service) OverrideState(ctx context.Context, tenantID, leadID uuid.UUID, req transport.OverrideStateRequest) (transport.LeadResponse, error) {
	lead, err := s.lifecycle.Override(ctx, tenantID, leadID, domain.EngagementState(req.State))
	if err != nil {
		return transport.LeadResponse{}, err
	}
	return s.toResponse(lead), nil
}

// RecommendActions ranks the leads to work next for a goal.
func (s *Service) RecommendActions(ctx context.Context, tenantID, goalID uuid.UUID) (goaltransport.RecommendationsResponse, error) {
	return s.goals.Recommend(ctx, tenantID, goalID)
}

// RecomputeGoals refreshes goal progress for every tenant.
func (s *Service) RecomputeGoals(ctx context.Context) (goalservice.RecomputeResult, error) {
	return s.goals.RecomputeAll(ctx)
}

// RescoreTenant writes fresh scores for every lead of the tenant whose
// scores are out of date. Failed leads are counted and skipped.
func (s *Service) RescoreTenant(ctx context.Context, tenantID uuid.UUID) (transport.RescoreResponse, error) {
	leads, err := s.store.ListByTenant(ctx, tenantID, repository.ListFilter{})
	if err != nil {
		return transport.RescoreResponse{}, err
	}

	var (
		mu  sync.Mutex
		res = transport.RescoreResponse{Examined: len(leads)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rescoreConcurrency)
	now := s.now()
	for _, lead := range leads {
		if s.engine.UpToDate(lead, now) {
			continue
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			rescored, changed, err := s.rescore(gctx, tenantID, lead.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failures++
				s.log.Warn("rescore failed", "lead_id", lead.ID, "tenant_id", tenantID, "error", err)
				return nil
			}
			if changed {
				res.Rescored++
				s.publishScored(gctx, rescored)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	s.log.Info("tenant rescored", "tenant_id", tenantID, "examined", res.Examined, "rescored", res.Rescored, "failures", res.Failures)
	return res, nil
}

// ListTenants exposes the tenants known to the snapshot store.
func (s *Service) ListTenants(ctx context.Context) ([]uuid.UUID, error) {
	return s.store.ListTenants(ctx)
}

// Providers lists the registered enrichment providers.
func (s *Service) Providers() []string {
	return s.enricher.Providers()
}

func (s *Service) toResponse(lead *domain.Snapshot) transport.LeadResponse {
	res := transport.LeadResponse{Snapshot: lead}
	if q, ok := s.engine.NextQuestion(lead); ok {
		res.NextQuestion = &q
	}
	return res
}

func (s *Service) publishScored(ctx context.Context, lead *domain.Snapshot) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, events.LeadScored{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    lead.ID,
		TenantID:  lead.TenantID,
		Total:     lead.Scores.Total,
	})
}

// normalizeAttributes strips markup from string values, rewrites the phone
// to E.164 and lowercases the email. Unparseable phones are kept as given;
// the groove score treats them as invalid.
func normalizeAttributes(attrs domain.Attributes) domain.Attributes {
	out := attrs.Clone()
	for name, v := range out {
		if v.Kind == domain.KindText || v.Kind == domain.KindEnum {
			v.Str = sanitize.Text(v.Str)
			out[name] = v
		}
	}
	if v, ok := out[domain.AttrContactPhone]; ok && v.Kind != domain.KindNumber && v.Kind != domain.KindTimestamp {
		v.Str = phone.NormalizeE164(v.Str)
		out[domain.AttrContactPhone] = v
	}
	if v, ok := out[domain.AttrContactEmail]; ok && v.Kind != domain.KindNumber && v.Kind != domain.KindTimestamp {
		v.Str = sanitize.Enum(v.Str)
		out[domain.AttrContactEmail] = v
	}
	return out
}

func firstError(report *enrichment.Report) error {
	for _, r := range report.Results {
		if r.Err != nil {
			return r.Err
		}
	}
	return apperr.Internal("enrichment produced no result")
}

func leadError(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("lead not found")
	}
	return err
}
