// Package planner measures goal progress over lead snapshots and ranks the
// leads most likely to close the remaining gap. Everything here is pure.
package planner

import (
	"math"
	"time"

	"leadintel_backend/internal/goals/domain"
	leaddomain "leadintel_backend/internal/leads/domain"
	"leadintel_backend/internal/leads/scoring"
)

const (
	// candidateFactor is how many leads are worked per unit of gap.
	candidateFactor = 3
	// DefaultMaxRecommendations bounds a single recommendation list.
	DefaultMaxRecommendations = 25
)

// Planner evaluates goals with a scoring engine for fresh totals and
// qualifying questions.
type Planner struct {
	scoring *scoring.Engine
	max     int
}

func New(engine *scoring.Engine, maxRecommendations int) *Planner {
	if maxRecommendations <= 0 {
		maxRecommendations = DefaultMaxRecommendations
	}
	return &Planner{scoring: engine, max: maxRecommendations}
}

// scores returns up-to-date scores without touching the snapshot.
func (p *Planner) scores(s *leaddomain.Snapshot, now time.Time) leaddomain.Scores {
	if p.scoring.UpToDate(s, now) {
		return s.Scores
	}
	return p.scoring.Score(s, now)
}

// Progress recomputes CurrentValue and Status from the tenant's leads.
func (p *Planner) Progress(g domain.Goal, leads []*leaddomain.Snapshot, now time.Time) domain.Goal {
	var current float64
	for _, s := range leads {
		if s.TenantID != g.TenantID {
			continue
		}
		current += p.contribution(&g, s, now)
	}
	g.CurrentValue = current
	g.Status = g.StatusAt(now)
	g.UpdatedAt = now.UTC()
	return g
}

// contribution is what one lead adds to the goal's metric.
func (p *Planner) contribution(g *domain.Goal, s *leaddomain.Snapshot, now time.Time) float64 {
	switch g.Metric {
	case domain.MetricLeadsQualified:
		if g.InWindow(s.CreatedAt, now) && p.scores(s, now).Total >= g.Threshold {
			return 1
		}
	case domain.MetricLeadsArchived:
		if s.EngagementState == leaddomain.StateArchived && g.InWindow(s.StateChangedAt, now) {
			return 1
		}
	case domain.MetricLeadsContacted:
		if s.LastContactAt != nil && g.InWindow(*s.LastContactAt, now) {
			return 1
		}
	case domain.MetricPipelineValue:
		if s.EngagementState != leaddomain.StateArchived && g.InWindow(s.CreatedAt, now) {
			if v, ok := s.Attributes.Num(leaddomain.AttrProjectValue); ok && v > 0 {
				return v
			}
		}
	}
	return 0
}

// Recommend ranks open leads that do not yet count toward the goal by total
// score and picks an action for each. Count goals work three leads per
// missing unit; value goals take leads until their project value covers
// three times the gap. A goal with no gap or a passed deadline gets none.
func (p *Planner) Recommend(g domain.Goal, leads []*leaddomain.Snapshot, now time.Time) []domain.Recommendation {
	gap := g.Gap()
	if gap <= 0 || now.After(g.Deadline) {
		return nil
	}

	candidates := make([]*leaddomain.Snapshot, 0, len(leads))
	for _, s := range leads {
		if s.TenantID != g.TenantID || s.EngagementState == leaddomain.StateArchived {
			continue
		}
		if g.Metric.Counted() && p.contribution(&g, s, now) > 0 {
			continue
		}
		scored := *s
		scored.Scores = p.scores(s, now)
		candidates = append(candidates, &scored)
	}
	scoring.Rank(candidates)

	limit := p.max
	if g.Metric.Counted() {
		if n := int(math.Ceil(candidateFactor * gap)); n < limit {
			limit = n
		}
	}

	out := make([]domain.Recommendation, 0, min(limit, len(candidates)))
	var covered float64
	for _, s := range candidates {
		if len(out) >= limit {
			break
		}
		if !g.Metric.Counted() && covered >= candidateFactor*gap {
			break
		}
		out = append(out, p.recommendation(len(out)+1, s))
		if v, ok := s.Attributes.Num(leaddomain.AttrProjectValue); ok && v > 0 {
			covered += v
		}
	}
	return out
}

func (p *Planner) recommendation(priority int, s *leaddomain.Snapshot) domain.Recommendation {
	rec := domain.Recommendation{
		Priority:   priority,
		LeadID:     s.ID,
		Score:      s.Scores.Total,
		Psychology: s.Scores.Psychology,
		Drivers:    s.Scores.Drivers,
	}
	if q, ok := p.scoring.NextQuestion(s); ok {
		rec.Action = domain.ActionAskQuestion
		rec.QuestionID = q.ID
		rec.Question = q.Text
		return rec
	}
	if s.EngagementState == leaddomain.StateStale {
		rec.Action = domain.ActionReEngage
	} else {
		rec.Action = domain.ActionScheduleFollowUp
	}
	return rec
}
