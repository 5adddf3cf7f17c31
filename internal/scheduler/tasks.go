package scheduler

import (
	"encoding/json"
	"fmt"

	"leadintel_backend/internal/enrichment"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const TaskEnrichLead = "leads.enrich"

const TaskLifecycleSweep = "lifecycle.sweep"

const TaskGoalsRecompute = "goals.recompute"

type EnrichLeadPayload struct {
	TenantID  string   `json:"tenantId"`
	LeadID    string   `json:"leadId"`
	Providers []string `json:"providers,omitempty"`
	Force     bool     `json:"force,omitempty"`
}

func NewEnrichLeadTask(payload EnrichLeadPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskEnrichLead, data), nil
}

func ParseEnrichLeadPayload(task *asynq.Task) (EnrichLeadPayload, error) {
	var payload EnrichLeadPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return EnrichLeadPayload{}, err
	}
	return payload, nil
}

// Request converts the payload back into an orchestrator request.
func (p EnrichLeadPayload) Request() (enrichment.Request, error) {
	tenantID, err := uuid.Parse(p.TenantID)
	if err != nil {
		return enrichment.Request{}, fmt.Errorf("tenant id: %w", err)
	}
	leadID, err := uuid.Parse(p.LeadID)
	if err != nil {
		return enrichment.Request{}, fmt.Errorf("lead id: %w", err)
	}
	return enrichment.Request{TenantID: tenantID, LeadID: leadID, Providers: p.Providers, Force: p.Force}, nil
}

func NewLifecycleSweepTask() *asynq.Task {
	return asynq.NewTask(TaskLifecycleSweep, nil)
}

func NewGoalsRecomputeTask() *asynq.Task {
	return asynq.NewTask(TaskGoalsRecompute, nil)
}
