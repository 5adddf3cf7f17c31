package domain

import (
	"time"

	"github.com/google/uuid"
)

// EnrichmentStatus is the state of one audit entry.
type EnrichmentStatus string

const (
	EnrichmentPending   EnrichmentStatus = "pending"
	EnrichmentSucceeded EnrichmentStatus = "succeeded"
	EnrichmentFailed    EnrichmentStatus = "failed"
)

// EnrichmentEntry is one provider attempt in the append-only audit trail.
type EnrichmentEntry struct {
	ID        uuid.UUID        `json:"id"`
	Provider  string           `json:"provider"`
	Status    EnrichmentStatus `json:"status"`
	StartedAt time.Time        `json:"startedAt"`
	FetchedAt *time.Time       `json:"fetchedAt,omitempty"`
	CostCents int64            `json:"costCents"`
	Attempts  int              `json:"attempts,omitempty"`
	ErrorKind string           `json:"errorKind,omitempty"`
	Fields    []string         `json:"fields,omitempty"`
	// PayloadKey points at the archived raw provider response, if any.
	PayloadKey string `json:"payloadKey,omitempty"`
}

func (e EnrichmentEntry) clone() EnrichmentEntry {
	out := e
	out.Fields = append([]string(nil), e.Fields...)
	if e.FetchedAt != nil {
		t := *e.FetchedAt
		out.FetchedAt = &t
	}
	return out
}

// EnrichmentResult is the terminal outcome of one provider call.
type EnrichmentResult struct {
	Provider   string
	Status     EnrichmentStatus
	CostCents  int64
	Attempts   int
	ErrorKind  string
	Fields     []string
	PayloadKey string
}

// BeginEnrichment appends a pending entry for a charged provider call and
// returns its id.
func (s *Snapshot) BeginEnrichment(provider string, costCents int64, now time.Time) uuid.UUID {
	now = now.UTC()
	id := uuid.New()
	s.Enrichment = append(s.Enrichment, EnrichmentEntry{
		ID:        id,
		Provider:  provider,
		Status:    EnrichmentPending,
		StartedAt: now,
		CostCents: costCents,
	})
	s.UpdatedAt = now
	return id
}

// FinishEnrichment finalises the pending entry with the given id. When that
// entry is missing or already final, a finalised entry is appended instead so
// the outcome is never lost.
func (s *Snapshot) FinishEnrichment(id uuid.UUID, res EnrichmentResult, now time.Time) error {
	if res.Status != EnrichmentSucceeded && res.Status != EnrichmentFailed {
		return ErrInvalidTransition
	}
	now = now.UTC()
	for i := range s.Enrichment {
		e := &s.Enrichment[i]
		if e.ID != id {
			continue
		}
		if e.Status != EnrichmentPending {
			break
		}
		e.complete(res, now)
		s.UpdatedAt = now
		return nil
	}
	s.appendFinished(res, now)
	return nil
}

// RecordEnrichment finalises the newest pending entry for the provider, or
// appends a new finalised entry when none is pending. Finalised entries are
// never touched again.
func (s *Snapshot) RecordEnrichment(res EnrichmentResult, now time.Time) error {
	if res.Status != EnrichmentSucceeded && res.Status != EnrichmentFailed {
		return ErrInvalidTransition
	}
	now = now.UTC()

	for i := len(s.Enrichment) - 1; i >= 0; i-- {
		e := &s.Enrichment[i]
		if e.Provider != res.Provider || e.Status != EnrichmentPending {
			continue
		}
		e.complete(res, now)
		s.UpdatedAt = now
		return nil
	}
	s.appendFinished(res, now)
	return nil
}

func (s *Snapshot) appendFinished(res EnrichmentResult, now time.Time) {
	entry := EnrichmentEntry{ID: uuid.New(), Provider: res.Provider, Status: EnrichmentPending, StartedAt: now}
	entry.complete(res, now)
	s.Enrichment = append(s.Enrichment, entry)
	s.UpdatedAt = now
}

func (e *EnrichmentEntry) complete(res EnrichmentResult, now time.Time) {
	e.Status = res.Status
	e.FetchedAt = &now
	e.CostCents = res.CostCents
	e.Attempts = res.Attempts
	e.ErrorKind = res.ErrorKind
	e.Fields = append([]string(nil), res.Fields...)
	e.PayloadKey = res.PayloadKey
}

// LatestSucceeded returns the newest succeeded entry for the provider.
func (s *Snapshot) LatestSucceeded(provider string) (EnrichmentEntry, bool) {
	for i := len(s.Enrichment) - 1; i >= 0; i-- {
		e := s.Enrichment[i]
		if e.Provider == provider && e.Status == EnrichmentSucceeded {
			return e, true
		}
	}
	return EnrichmentEntry{}, false
}

// FreshFor reports whether the provider succeeded within window of now.
func (s *Snapshot) FreshFor(provider string, window time.Duration, now time.Time) bool {
	e, ok := s.LatestSucceeded(provider)
	if !ok || e.FetchedAt == nil || window <= 0 {
		return false
	}
	return now.Sub(*e.FetchedAt) < window
}

// ValidAuditHistory checks that, compared with prev, no finalised entry was
// rewritten and no entry disappeared. Stores call it before persisting.
func ValidAuditHistory(prev, next []EnrichmentEntry) bool {
	if len(next) < len(prev) {
		return false
	}
	for i, old := range prev {
		cur := next[i]
		if cur.ID != old.ID {
			return false
		}
		if old.Status == EnrichmentPending {
			continue
		}
		if cur.Status != old.Status || !sameTime(cur.FetchedAt, old.FetchedAt) || cur.CostCents != old.CostCents {
			return false
		}
	}
	return true
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
