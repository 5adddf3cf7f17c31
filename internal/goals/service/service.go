// Package service ties goal storage, lead snapshots and the planner together.
package service

import (
	"context"
	"errors"
	"time"

	"leadintel_backend/internal/goals/domain"
	"leadintel_backend/internal/goals/planner"
	"leadintel_backend/internal/goals/repository"
	"leadintel_backend/internal/goals/transport"
	leaddomain "leadintel_backend/internal/leads/domain"
	leadrepo "leadintel_backend/internal/leads/repository"
	"leadintel_backend/platform/apperr"
	"leadintel_backend/platform/logger"
	"leadintel_backend/platform/metrics"

	"github.com/google/uuid"
)

// LeadSource is the read side of the snapshot store the planner needs.
type LeadSource interface {
	ListByTenant(ctx context.Context, tenantID uuid.UUID, filter leadrepo.ListFilter) ([]*leaddomain.Snapshot, error)
}

// RecomputeResult summarises a scheduled recompute across tenants.
type RecomputeResult struct {
	Goals    int `json:"goals"`
	Failures int `json:"failures"`
}

// Service provides goal use cases.
type Service struct {
	store   repository.GoalStore
	leads   LeadSource
	planner *planner.Planner
	log     *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(store repository.GoalStore, leads LeadSource, p *planner.Planner, log *logger.Logger, m *metrics.Metrics) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{store: store, leads: leads, planner: p, log: log, metrics: m, now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Create(ctx context.Context, tenantID uuid.UUID, req transport.CreateGoalRequest) (transport.GoalResponse, error) {
	start, err := time.Parse(transport.DateLayout, req.StartDate)
	if err != nil {
		return transport.GoalResponse{}, apperr.Validation("invalid startDate")
	}
	deadline, err := time.Parse(transport.DateLayout, req.Deadline)
	if err != nil {
		return transport.GoalResponse{}, apperr.Validation("invalid deadline")
	}
	// The deadline date is inclusive.
	deadline = deadline.Add(24*time.Hour - time.Nanosecond)

	now := s.now()
	g, err := domain.NewGoal(tenantID, req.Name, domain.Metric(req.Metric), req.Threshold, req.TargetValue, start, deadline, now)
	if err != nil {
		return transport.GoalResponse{}, err
	}

	leads, err := s.leads.ListByTenant(ctx, tenantID, leadrepo.ListFilter{})
	if err != nil {
		return transport.GoalResponse{}, err
	}
	*g = s.planner.Progress(*g, leads, now)

	if err := s.store.Create(ctx, g); err != nil {
		return transport.GoalResponse{}, err
	}
	s.log.Info("goal created", "goal_id", g.ID, "tenant_id", tenantID, "metric", g.Metric)
	return toResponse(*g, now), nil
}

// Get returns the goal with progress recomputed against current leads.
func (s *Service) Get(ctx context.Context, tenantID, goalID uuid.UUID) (transport.GoalResponse, error) {
	g, _, err := s.recompute(ctx, tenantID, goalID)
	if err != nil {
		return transport.GoalResponse{}, err
	}
	return toResponse(g, s.now()), nil
}

func (s *Service) List(ctx context.Context, tenantID uuid.UUID) (transport.GoalListResponse, error) {
	goals, err := s.store.List(ctx, tenantID)
	if err != nil {
		return transport.GoalListResponse{}, err
	}
	now := s.now()
	items := make([]transport.GoalResponse, 0, len(goals))
	for _, g := range goals {
		items = append(items, toResponse(g, now))
	}
	return transport.GoalListResponse{Items: items, Total: len(items)}, nil
}

// Recommend refreshes progress and ranks the leads to work next.
func (s *Service) Recommend(ctx context.Context, tenantID, goalID uuid.UUID) (transport.RecommendationsResponse, error) {
	g, leads, err := s.recompute(ctx, tenantID, goalID)
	if err != nil {
		return transport.RecommendationsResponse{}, err
	}
	now := s.now()
	recs := s.planner.Recommend(g, leads, now)
	if recs == nil {
		recs = []domain.Recommendation{}
	}
	return transport.RecommendationsResponse{Goal: toResponse(g, now), Recommendations: recs}, nil
}

// RecomputeAll refreshes every goal of every tenant. A failing goal is
// logged and counted; the rest still run.
func (s *Service) RecomputeAll(ctx context.Context) (RecomputeResult, error) {
	tenants, err := s.store.ListTenants(ctx)
	if err != nil {
		return RecomputeResult{}, err
	}

	var res RecomputeResult
	for _, tenantID := range tenants {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		n, failed, err := s.recomputeTenant(ctx, tenantID)
		res.Goals += n
		res.Failures += failed
		if err != nil {
			res.Failures++
			s.log.Error("goal recompute failed", "tenant_id", tenantID, "error", err)
		}
	}
	return res, nil
}

// RecomputeTenant refreshes the goals of one tenant after its leads changed.
func (s *Service) RecomputeTenant(ctx context.Context, tenantID uuid.UUID) (RecomputeResult, error) {
	n, failed, err := s.recomputeTenant(ctx, tenantID)
	return RecomputeResult{Goals: n, Failures: failed}, err
}

func (s *Service) recomputeTenant(ctx context.Context, tenantID uuid.UUID) (int, int, error) {
	goals, err := s.store.List(ctx, tenantID)
	if err != nil {
		return 0, 0, err
	}
	leads, err := s.leads.ListByTenant(ctx, tenantID, leadrepo.ListFilter{})
	if err != nil {
		return 0, 0, err
	}

	now := s.now()
	var done, failed int
	for _, g := range goals {
		updated := s.planner.Progress(g, leads, now)
		if err := s.store.UpdateProgress(ctx, updated); err != nil {
			failed++
			s.log.Error("goal progress update failed", "goal_id", g.ID, "error", err)
			continue
		}
		s.metrics.GoalRecomputed(string(updated.Status))
		done++
	}
	return done, failed, nil
}

func (s *Service) recompute(ctx context.Context, tenantID, goalID uuid.UUID) (domain.Goal, []*leaddomain.Snapshot, error) {
	g, err := s.store.Get(ctx, tenantID, goalID)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.Goal{}, nil, apperr.NotFound("goal not found")
	}
	if err != nil {
		return domain.Goal{}, nil, err
	}

	leads, err := s.leads.ListByTenant(ctx, tenantID, leadrepo.ListFilter{})
	if err != nil {
		return domain.Goal{}, nil, err
	}

	updated := s.planner.Progress(*g, leads, s.now())
	if updated.CurrentValue != g.CurrentValue || updated.Status != g.Status {
		if err := s.store.UpdateProgress(ctx, updated); err != nil {
			return domain.Goal{}, nil, err
		}
		s.metrics.GoalRecomputed(string(updated.Status))
	}
	return updated, leads, nil
}

func toResponse(g domain.Goal, now time.Time) transport.GoalResponse {
	return transport.GoalResponse{Goal: g, Expected: g.Expected(now), Gap: g.Gap()}
}
