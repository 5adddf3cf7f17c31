package domain

import "github.com/google/uuid"

// Action is the next step suggested for a lead.
type Action string

const (
	ActionAskQuestion      Action = "ask_question"
	ActionScheduleFollowUp Action = "schedule_follow_up"
	ActionReEngage         Action = "re_engage"
)

// Recommendation is one ranked lead with the action most likely to move it.
type Recommendation struct {
	Priority   int       `json:"priority"`
	LeadID     uuid.UUID `json:"leadId"`
	Action     Action    `json:"action"`
	Score      float64   `json:"score"`
	Psychology float64   `json:"psychology"`
	QuestionID string    `json:"questionId,omitempty"`
	Question   string    `json:"question,omitempty"`
	Drivers    []string  `json:"drivers,omitempty"`
}
