package planner

import (
	"testing"
	"time"

	"leadintel_backend/internal/goals/domain"
	leaddomain "leadintel_backend/internal/leads/domain"
	"leadintel_backend/internal/leads/scoring"

	"github.com/google/uuid"
)

var (
	start    = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	deadline = time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	now      = time.Date(2026, 3, 16, 12, 0, 0, 0, time.UTC)
	engine   = scoring.MustDefaultEngine()
)

type leadOpt func(*leaddomain.Snapshot)

func withState(st leaddomain.EngagementState, at time.Time) leadOpt {
	return func(s *leaddomain.Snapshot) {
		s.EngagementState = st
		s.StateChangedAt = at
	}
}

func withValue(v float64) leadOpt {
	return func(s *leaddomain.Snapshot) {
		s.Attributes[leaddomain.AttrProjectValue] = leaddomain.Number(v)
	}
}

func withContact(at time.Time) leadOpt {
	return func(s *leaddomain.Snapshot) {
		s.LastContactAt = &at
		s.ContactAttempts++
	}
}

func allAnswered() leadOpt {
	return func(s *leaddomain.Snapshot) {
		for _, q := range engine.Questions() {
			s.AnsweredQuestions = append(s.AnsweredQuestions, q.ID)
		}
	}
}

// lead builds a snapshot whose stored scores the planner will trust as-is.
func lead(tenant uuid.UUID, total, groove float64, created time.Time, opts ...leadOpt) *leaddomain.Snapshot {
	s := leaddomain.NewSnapshot(tenant, leaddomain.Attributes{}, created)
	for _, opt := range opts {
		opt(s)
	}
	s.Scores = leaddomain.Scores{
		Total:          total,
		Groove:         groove,
		ProfileVersion: engine.Profile().Version,
		ComputedAt:     now,
	}
	return s
}

func goal(tenant uuid.UUID, metric domain.Metric, target float64) domain.Goal {
	g, err := domain.NewGoal(tenant, "goal", metric, 0, target, start, deadline, start)
	if err != nil {
		panic(err)
	}
	return *g
}

func TestProgressPerMetric(t *testing.T) {
	tenant := uuid.New()
	inWindow := start.Add(24 * time.Hour)
	before := start.Add(-24 * time.Hour)

	leads := []*leaddomain.Snapshot{
		lead(tenant, 80, 50, inWindow, withValue(1_000_000), withContact(now.Add(-time.Hour))),
		lead(tenant, 75, 50, inWindow, withValue(500_000)),
		lead(tenant, 40, 50, inWindow, withValue(250_000), withContact(before)),
		lead(tenant, 90, 50, before, withValue(9_000_000)),
		lead(tenant, 95, 50, inWindow, withValue(2_000_000), withState(leaddomain.StateArchived, inWindow)),
		lead(uuid.New(), 99, 99, inWindow, withValue(5_000_000)),
	}
	p := New(engine, 0)

	cases := []struct {
		metric domain.Metric
		want   float64
	}{
		{domain.MetricLeadsQualified, 3},
		{domain.MetricLeadsContacted, 1},
		{domain.MetricLeadsArchived, 1},
		{domain.MetricPipelineValue, 1_750_000},
	}
	for _, tc := range cases {
		got := p.Progress(goal(tenant, tc.metric, 10), leads, now)
		if got.CurrentValue != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.metric, tc.want, got.CurrentValue)
		}
	}
}

func TestProgressSetsStatus(t *testing.T) {
	tenant := uuid.New()
	var leads []*leaddomain.Snapshot
	for i := 0; i < 4; i++ {
		leads = append(leads, lead(tenant, 85, 50, start.Add(time.Hour)))
	}
	p := New(engine, 0)

	if got := p.Progress(goal(tenant, domain.MetricLeadsQualified, 4), leads, now); got.Status != domain.StatusAchieved {
		t.Fatalf("expected achieved, got %s", got.Status)
	}
	// Half way through a 20 target, 4 is behind the expected 10.
	if got := p.Progress(goal(tenant, domain.MetricLeadsQualified, 20), leads, now); got.Status != domain.StatusAtRisk {
		t.Fatalf("expected at_risk, got %s", got.Status)
	}
	if got := p.Progress(goal(tenant, domain.MetricLeadsQualified, 20), leads, deadline.Add(time.Hour)); got.Status != domain.StatusMissed {
		t.Fatalf("expected missed, got %s", got.Status)
	}
}

func TestRecommendLimitsCandidatesToThreeTimesGap(t *testing.T) {
	tenant := uuid.New()
	created := start.Add(time.Hour)
	qualified := lead(tenant, 90, 50, created)
	archived := lead(tenant, 69, 99, created, withState(leaddomain.StateArchived, created))
	var open []*leaddomain.Snapshot
	for _, total := range []float64{10, 60, 30, 50, 20} {
		open = append(open, lead(tenant, total, 50, created))
	}
	leads := append([]*leaddomain.Snapshot{qualified, archived}, open...)

	p := New(engine, 0)
	g := p.Progress(goal(tenant, domain.MetricLeadsQualified, 2), leads, now)
	if g.CurrentValue != 1 {
		t.Fatalf("expected one qualified lead, got %v", g.CurrentValue)
	}

	recs := p.Recommend(g, leads, now)
	if len(recs) != 3 {
		t.Fatalf("expected 3 recommendations for a gap of 1, got %d", len(recs))
	}
	wantOrder := []float64{60, 50, 30}
	for i, rec := range recs {
		if rec.Score != wantOrder[i] || rec.Priority != i+1 {
			t.Fatalf("rec %d: expected score %v priority %d, got %+v", i, wantOrder[i], i+1, rec)
		}
		if rec.LeadID == qualified.ID || rec.LeadID == archived.ID {
			t.Fatalf("counted or archived lead must not be recommended")
		}
	}
}

func TestRecommendTieBreaksOnGroove(t *testing.T) {
	tenant := uuid.New()
	created := start.Add(time.Hour)
	low := lead(tenant, 50, 40, created)
	high := lead(tenant, 50, 80, created)

	p := New(engine, 0)
	g := p.Progress(goal(tenant, domain.MetricLeadsQualified, 1), []*leaddomain.Snapshot{low, high}, now)
	recs := p.Recommend(g, []*leaddomain.Snapshot{low, high}, now)
	if len(recs) != 2 || recs[0].LeadID != high.ID {
		t.Fatalf("expected higher groove first, got %+v", recs)
	}
}

func TestRecommendActions(t *testing.T) {
	tenant := uuid.New()
	created := start.Add(time.Hour)
	asking := lead(tenant, 60, 50, created)
	following := lead(tenant, 50, 50, created, allAnswered())
	stale := lead(tenant, 40, 50, created, allAnswered(), withState(leaddomain.StateStale, created))
	leads := []*leaddomain.Snapshot{asking, following, stale}

	p := New(engine, 0)
	g := p.Progress(goal(tenant, domain.MetricLeadsContacted, 5), leads, now)
	recs := p.Recommend(g, leads, now)
	if len(recs) != 3 {
		t.Fatalf("expected 3 recommendations, got %d", len(recs))
	}

	if recs[0].Action != domain.ActionAskQuestion || recs[0].QuestionID == "" || recs[0].Question == "" {
		t.Fatalf("lead with open questions must get a question, got %+v", recs[0])
	}
	next, _ := engine.NextQuestion(asking)
	if recs[0].QuestionID != next.ID {
		t.Fatalf("expected next question %s, got %s", next.ID, recs[0].QuestionID)
	}
	if recs[1].Action != domain.ActionScheduleFollowUp {
		t.Fatalf("fully qualified active lead must get a follow up, got %s", recs[1].Action)
	}
	if recs[2].Action != domain.ActionReEngage {
		t.Fatalf("fully qualified stale lead must be re-engaged, got %s", recs[2].Action)
	}
}

func TestRecommendNothingWhenAchievedOrMissed(t *testing.T) {
	tenant := uuid.New()
	leads := []*leaddomain.Snapshot{lead(tenant, 90, 50, start.Add(time.Hour)), lead(tenant, 10, 50, start.Add(time.Hour))}
	p := New(engine, 0)

	achieved := p.Progress(goal(tenant, domain.MetricLeadsQualified, 1), leads, now)
	if recs := p.Recommend(achieved, leads, now); len(recs) != 0 {
		t.Fatalf("achieved goal needs no recommendations, got %d", len(recs))
	}

	late := deadline.Add(time.Hour)
	missed := p.Progress(goal(tenant, domain.MetricLeadsQualified, 5), leads, late)
	if recs := p.Recommend(missed, leads, late); len(recs) != 0 {
		t.Fatalf("missed goal needs no recommendations, got %d", len(recs))
	}
}

func TestRecommendValueGoalCoversThreeTimesGap(t *testing.T) {
	tenant := uuid.New()
	before := start.Add(-time.Hour)
	leads := []*leaddomain.Snapshot{
		lead(tenant, 90, 50, before, withValue(200)),
		lead(tenant, 80, 50, before, withValue(150)),
		lead(tenant, 70, 50, before, withValue(100)),
		lead(tenant, 60, 50, before, withValue(100)),
	}

	p := New(engine, 0)
	g := p.Progress(goal(tenant, domain.MetricPipelineValue, 100), leads, now)
	if g.CurrentValue != 0 {
		t.Fatalf("leads created before the window must not count, got %v", g.CurrentValue)
	}
	recs := p.Recommend(g, leads, now)
	// 200 + 150 covers 300, three times the gap.
	if len(recs) != 2 {
		t.Fatalf("expected 2 recommendations, got %d", len(recs))
	}
}

func TestRecommendCappedByMax(t *testing.T) {
	tenant := uuid.New()
	var leads []*leaddomain.Snapshot
	for i := 0; i < 10; i++ {
		leads = append(leads, lead(tenant, float64(i), 50, start.Add(time.Hour)))
	}
	p := New(engine, 4)
	g := p.Progress(goal(tenant, domain.MetricLeadsQualified, 50), leads, now)
	if recs := p.Recommend(g, leads, now); len(recs) != 4 {
		t.Fatalf("expected cap of 4, got %d", len(recs))
	}
}
