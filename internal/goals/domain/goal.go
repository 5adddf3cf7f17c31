// Package domain holds the goal model and its progress rules.
package domain

import (
	"strings"
	"time"

	"leadintel_backend/platform/apperr"

	"github.com/google/uuid"
)

// Metric is the lead aggregate a goal tracks.
type Metric string

const (
	// MetricLeadsQualified counts leads whose total score reached the goal threshold.
	MetricLeadsQualified Metric = "leads_qualified"
	// MetricLeadsArchived counts leads archived inside the goal window.
	MetricLeadsArchived Metric = "leads_archived"
	// MetricLeadsContacted counts leads contacted inside the goal window.
	MetricLeadsContacted Metric = "leads_contacted"
	// MetricPipelineValue sums project_value over open leads.
	MetricPipelineValue Metric = "pipeline_value"
)

// Valid reports whether m is a supported metric.
func (m Metric) Valid() bool {
	switch m {
	case MetricLeadsQualified, MetricLeadsArchived, MetricLeadsContacted, MetricPipelineValue:
		return true
	}
	return false
}

// Counted reports whether the metric counts leads rather than summing a value.
func (m Metric) Counted() bool { return m != MetricPipelineValue }

// Status is derived from progress against a prorated expectation.
type Status string

const (
	StatusOnTrack  Status = "on_track"
	StatusAtRisk   Status = "at_risk"
	StatusAchieved Status = "achieved"
	StatusMissed   Status = "missed"
)

// DefaultQualifiedThreshold is the total score a lead needs to count as qualified.
const DefaultQualifiedThreshold = 70.0

// Goal is a tenant target over a time window.
type Goal struct {
	ID           uuid.UUID `json:"id"`
	TenantID     uuid.UUID `json:"tenantId"`
	Name         string    `json:"name"`
	Metric       Metric    `json:"metric"`
	Threshold    float64   `json:"threshold,omitempty"`
	TargetValue  float64   `json:"targetValue"`
	CurrentValue float64   `json:"currentValue"`
	StartDate    time.Time `json:"startDate"`
	Deadline     time.Time `json:"deadline"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// NewGoal validates the input and returns an on-track goal with no progress.
func NewGoal(tenantID uuid.UUID, name string, metric Metric, threshold, target float64, start, deadline, now time.Time) (*Goal, error) {
	g := &Goal{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Name:        strings.TrimSpace(name),
		Metric:      metric,
		Threshold:   threshold,
		TargetValue: target,
		StartDate:   start.UTC(),
		Deadline:    deadline.UTC(),
		Status:      StatusOnTrack,
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}
	if g.Metric == MetricLeadsQualified && g.Threshold == 0 {
		g.Threshold = DefaultQualifiedThreshold
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Validate checks the fields a caller controls.
func (g *Goal) Validate() error {
	fields := map[string]string{}
	if g.Name == "" {
		fields["name"] = "required"
	}
	if !g.Metric.Valid() {
		fields["metric"] = "unsupported metric"
	}
	if g.TargetValue <= 0 {
		fields["targetValue"] = "must be positive"
	}
	if g.Threshold < 0 || g.Threshold > 100 {
		fields["threshold"] = "must be within [0,100]"
	}
	if !g.Deadline.After(g.StartDate) {
		fields["deadline"] = "must be after startDate"
	}
	if len(fields) > 0 {
		return apperr.Validation("invalid goal").WithDetails(fields)
	}
	return nil
}

// Gap is what remains to reach the target, never negative.
func (g *Goal) Gap() float64 {
	if gap := g.TargetValue - g.CurrentValue; gap > 0 {
		return gap
	}
	return 0
}

// Expected is the target prorated by elapsed time in the window.
func (g *Goal) Expected(now time.Time) float64 {
	total := g.Deadline.Sub(g.StartDate)
	if total <= 0 {
		return g.TargetValue
	}
	frac := float64(now.Sub(g.StartDate)) / float64(total)
	switch {
	case frac < 0:
		frac = 0
	case frac > 1:
		frac = 1
	}
	return g.TargetValue * frac
}

// StatusAt derives the status from CurrentValue. Reaching the target wins
// over a passed deadline.
func (g *Goal) StatusAt(now time.Time) Status {
	switch {
	case g.CurrentValue >= g.TargetValue:
		return StatusAchieved
	case now.After(g.Deadline):
		return StatusMissed
	case g.CurrentValue >= g.Expected(now):
		return StatusOnTrack
	}
	return StatusAtRisk
}

// InWindow reports whether t falls between the start date and the earlier
// of now and the deadline.
func (g *Goal) InWindow(t, now time.Time) bool {
	end := g.Deadline
	if now.Before(end) {
		end = now
	}
	return !t.Before(g.StartDate) && !t.After(end)
}
