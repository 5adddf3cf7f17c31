package domain

import (
	"errors"
	"testing"
	"time"

	"leadintel_backend/platform/apperr"

	"github.com/google/uuid"
)

var (
	start    = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	deadline = time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
)

func TestStatusAt(t *testing.T) {
	mid := start.Add(deadline.Sub(start) / 2)
	cases := []struct {
		name    string
		current float64
		now     time.Time
		want    Status
	}{
		{"before start nothing expected", 0, start.Add(-time.Hour), StatusOnTrack},
		{"half way with half done", 5, mid, StatusOnTrack},
		{"half way behind", 4, mid, StatusAtRisk},
		{"target reached early", 10, mid, StatusAchieved},
		{"target reached after deadline", 12, deadline.Add(48 * time.Hour), StatusAchieved},
		{"deadline passed short", 9, deadline.Add(time.Second), StatusMissed},
	}
	for _, tc := range cases {
		g := Goal{TargetValue: 10, CurrentValue: tc.current, StartDate: start, Deadline: deadline}
		if got := g.StatusAt(tc.now); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestExpectedIsProratedAndClamped(t *testing.T) {
	g := Goal{TargetValue: 30, StartDate: start, Deadline: deadline}
	if e := g.Expected(start.Add(10 * 24 * time.Hour)); e != 10 {
		t.Fatalf("expected 10 after a third of the window, got %v", e)
	}
	if e := g.Expected(deadline.Add(time.Hour)); e != 30 {
		t.Fatalf("expected full target after deadline, got %v", e)
	}
	if e := g.Expected(start.Add(-time.Hour)); e != 0 {
		t.Fatalf("expected zero before start, got %v", e)
	}
}

func TestNewGoalValidation(t *testing.T) {
	tenant := uuid.New()
	g, err := NewGoal(tenant, "  Q1 qualified  ", MetricLeadsQualified, 0, 20, start, deadline, start)
	if err != nil {
		t.Fatalf("new goal: %v", err)
	}
	if g.Name != "Q1 qualified" || g.Threshold != DefaultQualifiedThreshold || g.Status != StatusOnTrack {
		t.Fatalf("unexpected goal %+v", g)
	}

	_, err = NewGoal(tenant, "", "revenue", 0, -1, deadline, start, start)
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		t.Fatalf("expected *apperr.Error")
	}
	details, _ := ae.Details.(map[string]string)
	for _, field := range []string{"name", "metric", "targetValue", "deadline"} {
		if _, ok := details[field]; !ok {
			t.Fatalf("expected %s in details, got %v", field, details)
		}
	}
}

func TestGapNeverNegative(t *testing.T) {
	g := Goal{TargetValue: 5, CurrentValue: 7}
	if g.Gap() != 0 {
		t.Fatalf("expected zero gap, got %v", g.Gap())
	}
}
