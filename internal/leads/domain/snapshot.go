// Package domain holds the lead snapshot model and the rules that guard its
// engagement state and enrichment audit trail.
package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// EngagementState is the lifecycle position of a lead.
type EngagementState string

const (
	StateActive   EngagementState = "active"
	StateStale    EngagementState = "stale"
	StateArchived EngagementState = "archived"
)

// Valid reports whether s is a known state.
func (s EngagementState) Valid() bool {
	switch s {
	case StateActive, StateStale, StateArchived:
		return true
	}
	return false
}

// ErrInvalidTransition is returned when a state or audit change breaks the
// one-directional rules.
var ErrInvalidTransition = errors.New("invalid transition")

// Scores are derived values; nothing writes them except the scoring engine.
type Scores struct {
	Timing         float64   `json:"timing"`
	Groove         float64   `json:"groove"`
	Psychology     float64   `json:"psychology"`
	Total          float64   `json:"total"`
	Drivers        []string  `json:"drivers,omitempty"`
	ProfileVersion string    `json:"profileVersion,omitempty"`
	ComputedAt     time.Time `json:"computedAt"`
	// Stale is set when attributes changed after ComputedAt.
	Stale bool `json:"stale"`
}

// Snapshot is the unit of work of the pipeline.
type Snapshot struct {
	ID                uuid.UUID         `json:"id"`
	TenantID          uuid.UUID         `json:"tenantId"`
	Attributes        Attributes        `json:"attributes"`
	Scores            Scores            `json:"scores"`
	EngagementState   EngagementState   `json:"engagementState"`
	StateChangedAt    time.Time         `json:"stateChangedAt"`
	LastContactAt     *time.Time        `json:"lastContactAt,omitempty"`
	ContactAttempts   int               `json:"contactAttempts"`
	Enrichment        []EnrichmentEntry `json:"enrichment"`
	AnsweredQuestions []string          `json:"answeredQuestions"`
	Version           int64             `json:"version"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// NewSnapshot creates an active lead with source attributes.
func NewSnapshot(tenantID uuid.UUID, attrs Attributes, now time.Time) *Snapshot {
	now = now.UTC()
	stamped := make(Attributes, len(attrs))
	for name, v := range attrs {
		if v.Provenance == "" {
			v = v.From(ProvenanceSource, now)
		}
		stamped[name] = v
	}
	return &Snapshot{
		ID:              uuid.New(),
		TenantID:        tenantID,
		Attributes:      stamped,
		Scores:          Scores{Stale: true},
		EngagementState: StateActive,
		StateChangedAt:  now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Clone returns a deep copy safe to mutate.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Attributes = s.Attributes.Clone()
	out.Scores.Drivers = append([]string(nil), s.Scores.Drivers...)
	out.Enrichment = make([]EnrichmentEntry, len(s.Enrichment))
	for i, e := range s.Enrichment {
		out.Enrichment[i] = e.clone()
	}
	out.AnsweredQuestions = append([]string(nil), s.AnsweredQuestions...)
	if s.LastContactAt != nil {
		t := *s.LastContactAt
		out.LastContactAt = &t
	}
	return &out
}

// MergeAttributes applies last-write-wins per field, stamping provenance.
// It returns the names written and marks scores stale when anything changed.
func (s *Snapshot) MergeAttributes(fields Attributes, provenance string, now time.Time) []string {
	if s.Attributes == nil {
		s.Attributes = make(Attributes, len(fields))
	}
	written := make([]string, 0, len(fields))
	for name, v := range fields {
		s.Attributes[name] = v.From(provenance, now)
		written = append(written, name)
	}
	if len(written) > 0 {
		s.Scores.Stale = true
		s.UpdatedAt = now.UTC()
	}
	return written
}

// AnswerQuestion records a qualifying question as answered. It reports
// false when the question was already answered.
func (s *Snapshot) AnswerQuestion(id string, now time.Time) bool {
	for _, q := range s.AnsweredQuestions {
		if q == id {
			return false
		}
	}
	s.AnsweredQuestions = append(s.AnsweredQuestions, id)
	s.Scores.Stale = true
	s.UpdatedAt = now.UTC()
	return true
}

// CanTransition reports whether the sweep may move a lead from one state to
// another. Returning to active is only valid as a reactivation.
func CanTransition(from, to EngagementState) bool {
	switch from {
	case StateActive:
		return to == StateStale || to == StateArchived
	case StateStale:
		return to == StateArchived || to == StateActive
	case StateArchived:
		return to == StateActive
	}
	return false
}

// Transition moves the engagement state under the lifecycle rules.
func (s *Snapshot) Transition(to EngagementState, now time.Time) error {
	if !CanTransition(s.EngagementState, to) {
		return ErrInvalidTransition
	}
	s.EngagementState = to
	s.StateChangedAt = now.UTC()
	s.UpdatedAt = now.UTC()
	return nil
}

// Override sets any valid state. It is reserved for explicit operator action.
func (s *Snapshot) Override(to EngagementState, now time.Time) error {
	if !to.Valid() {
		return ErrInvalidTransition
	}
	s.EngagementState = to
	s.StateChangedAt = now.UTC()
	s.UpdatedAt = now.UTC()
	return nil
}
