// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"github.com/google/uuid"

	"leadintel_backend/platform/events"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// LeadScored is published after scores are recomputed and saved.
type LeadScored struct {
	BaseEvent
	LeadID   uuid.UUID `json:"leadId"`
	TenantID uuid.UUID `json:"tenantId"`
	Total    float64   `json:"total"`
}

func (e LeadScored) EventName() string { return "leads.scored" }

// LeadEnriched is published once per enrichment request, after all providers finished.
type LeadEnriched struct {
	BaseEvent
	LeadID    uuid.UUID `json:"leadId"`
	TenantID  uuid.UUID `json:"tenantId"`
	Succeeded []string  `json:"succeeded"`
	Failed    []string  `json:"failed"`
	Skipped   []string  `json:"skipped"`
}

func (e LeadEnriched) EventName() string { return "leads.enriched" }

// LeadEngagementChanged is published when a lead moves between active, stale and archived.
type LeadEngagementChanged struct {
	BaseEvent
	LeadID   uuid.UUID `json:"leadId"`
	TenantID uuid.UUID `json:"tenantId"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	Manual   bool      `json:"manual"`
}

func (e LeadEngagementChanged) EventName() string { return "leads.engagement_changed" }
