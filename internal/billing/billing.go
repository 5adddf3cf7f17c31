// Package billing answers whether a tenant may use a paid feature and records
// what each use cost against the tenant's budget.
package billing

import (
	"context"

	"github.com/google/uuid"
)

// Features tracked by the usage ledger.
const (
	FeatureAIEnrichment      = "ai_enrichment"
	FeatureAIEmailGeneration = "ai_email_generation"
	FeatureVideoGeneration   = "video_generation"
	FeatureEmailSent         = "email_sent"
	FeatureAPICall           = "api_call"
	FeatureProjectScraped    = "project_scraped"
)

// costCents is the default price per unit of each feature.
var costCents = map[string]int64{
	FeatureAIEmailGeneration: 2,
	FeatureAIEnrichment:      5,
	FeatureVideoGeneration:   100,
	FeatureEmailSent:         1,
	FeatureAPICall:           0,
	FeatureProjectScraped:    0,
}

// CostOf returns the default unit cost of feature in cents. Unknown features are free.
func CostOf(feature string) int64 {
	return costCents[feature]
}

// Entitlements decides plan membership.
type Entitlements interface {
	CheckFeature(ctx context.Context, tenantID uuid.UUID, feature string) (bool, error)
}

// Ledger records spend. RecordUsage returns an apperr.BudgetExceeded error
// and records nothing when the cost would push the tenant over its budget.
// A tenant without a budget row for the feature is unlimited.
type Ledger interface {
	RecordUsage(ctx context.Context, tenantID uuid.UUID, feature string, cost int64) error
}

// Usage summarises a tenant's spend on one feature.
type Usage struct {
	Feature     string `json:"feature"`
	UsedCents   int64  `json:"usedCents"`
	BudgetCents *int64 `json:"budgetCents,omitempty"`
}
