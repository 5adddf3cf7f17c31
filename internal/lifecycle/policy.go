// Package lifecycle reclassifies lead engagement state on a schedule:
// active leads go stale when nobody has touched them, stale leads are
// archived once they were worked enough, and a fresh contact brings any
// lead back to active.
package lifecycle

import (
	"time"

	"leadintel_backend/internal/leads/domain"
	"leadintel_backend/platform/config"
)

const day = 24 * time.Hour

// Policy holds the sweep thresholds.
type Policy struct {
	// StaleAfter is the idle time after which an active lead goes stale.
	StaleAfter time.Duration
	// ArchiveAfter is the idle time after which a worked lead is archived.
	ArchiveAfter time.Duration
	// MinContactAttempts keeps under-worked leads in stale instead of archiving them.
	MinContactAttempts int
}

// DefaultPolicy is 7 days to stale, 21 days and 3 attempts to archive.
func DefaultPolicy() Policy {
	return Policy{StaleAfter: 7 * day, ArchiveAfter: 21 * day, MinContactAttempts: 3}
}

// PolicyFromConfig reads thresholds in days, falling back to the defaults.
func PolicyFromConfig(cfg config.LifecycleConfig) Policy {
	p := DefaultPolicy()
	if d := cfg.GetStaleThresholdDays(); d > 0 {
		p.StaleAfter = time.Duration(d) * day
	}
	if d := cfg.GetArchiveThresholdDays(); d > 0 {
		p.ArchiveAfter = time.Duration(d) * day
	}
	if n := cfg.GetMinContactAttempts(); n >= 0 {
		p.MinContactAttempts = n
	}
	return p
}

// Decide returns the state a lead should be in at now. It is a pure
// function of the snapshot, so sweeps are order-independent.
func (p Policy) Decide(s *domain.Snapshot, now time.Time) domain.EngagementState {
	// An external contact after the last transition reactivates the lead.
	if s.EngagementState != domain.StateActive && s.LastContactAt != nil && s.LastContactAt.After(s.StateChangedAt) {
		return domain.StateActive
	}
	if s.EngagementState == domain.StateArchived {
		return domain.StateArchived
	}

	ref := s.CreatedAt
	if s.LastContactAt != nil {
		ref = *s.LastContactAt
	}
	idle := now.Sub(ref)

	switch {
	case idle > p.ArchiveAfter && s.ContactAttempts >= p.MinContactAttempts:
		return domain.StateArchived
	case idle > p.StaleAfter || idle > p.ArchiveAfter:
		return domain.StateStale
	}
	return s.EngagementState
}
