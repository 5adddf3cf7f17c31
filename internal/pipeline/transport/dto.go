package transport

import (
	"time"

	"leadintel_backend/internal/enrichment"
	"leadintel_backend/internal/leads/domain"
	"leadintel_backend/internal/leads/scoring"
)

type CreateLeadRequest struct {
	Attributes domain.Attributes `json:"attributes" validate:"required,min=1"`
}

type EnrichLeadRequest struct {
	Providers []string `json:"providers" validate:"omitempty,max=16,dive,required,max=64"`
	Force     bool     `json:"force"`
	// Async queues the request on the worker instead of waiting for providers.
	Async bool `json:"async"`
}

type RecordContactRequest struct {
	At *time.Time `json:"at,omitempty"`
}

type OverrideStateRequest struct {
	State string `json:"state" validate:"required,oneof=active stale archived"`
}

type RankedLeadsQuery struct {
	States []string `form:"state" validate:"omitempty,dive,oneof=active stale archived"`
	Limit  int      `form:"limit" validate:"omitempty,min=1,max=500"`
}

type SweepRequest struct {
	// AllTenants sweeps every tenant instead of the caller's own.
	AllTenants bool `json:"allTenants"`
}

type LeadResponse struct {
	*domain.Snapshot
	NextQuestion *scoring.Question `json:"nextQuestion,omitempty"`
}

type RankedLeadsResponse struct {
	Items []LeadResponse `json:"items"`
	Total int            `json:"total"`
}

type EnrichLeadResponse struct {
	Lead    LeadResponse                `json:"lead"`
	Results []enrichment.ProviderResult `json:"results"`
	// Partial is set when at least one provider did not succeed.
	Partial bool `json:"partial"`
}

type EnrichQueuedResponse struct {
	TaskID string `json:"taskId"`
	Status string `json:"status"`
}

type RescoreResponse struct {
	Examined int `json:"examined"`
	Rescored int `json:"rescored"`
	Failures int `json:"failures"`
}
