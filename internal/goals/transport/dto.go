package transport

import (
	"leadintel_backend/internal/goals/domain"
)

// DateLayout is the calendar date format used for goal windows.
const DateLayout = "2006-01-02"

type CreateGoalRequest struct {
	Name        string  `json:"name" validate:"required,min=1,max=200"`
	Metric      string  `json:"metric" validate:"required,oneof=leads_qualified leads_archived leads_contacted pipeline_value"`
	Threshold   float64 `json:"threshold,omitempty" validate:"omitempty,gte=0,lte=100"`
	TargetValue float64 `json:"targetValue" validate:"required,gt=0"`
	StartDate   string  `json:"startDate" validate:"required,datetime=2006-01-02"`
	Deadline    string  `json:"deadline" validate:"required,datetime=2006-01-02"`
}

type GoalResponse struct {
	domain.Goal
	Expected float64 `json:"expected"`
	Gap      float64 `json:"gap"`
}

type GoalListResponse struct {
	Items []GoalResponse `json:"items"`
	Total int            `json:"total"`
}

type RecommendationsResponse struct {
	Goal            GoalResponse            `json:"goal"`
	Recommendations []domain.Recommendation `json:"recommendations"`
}
