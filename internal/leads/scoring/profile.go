// Package scoring computes timing, groove, psychology and total scores for a
// lead snapshot. Every function here is pure; tuning values come from a
// Profile that can be loaded from YAML.
package scoring

import (
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// weightTolerance is how far total weights may drift from 1.
const weightTolerance = 1e-9

// TotalWeights combine the three sub-scores. They must sum to 1.
type TotalWeights struct {
	Timing     float64 `yaml:"timing"`
	Groove     float64 `yaml:"groove"`
	Psychology float64 `yaml:"psychology"`
}

// TimingStep maps "starts within MaxMonths" to a score.
type TimingStep struct {
	MaxMonths float64 `yaml:"max_months"`
	Score     float64 `yaml:"score"`
}

// TimingProfile tunes the timing score.
type TimingProfile struct {
	Steps    []TimingStep `yaml:"steps"`
	Fallback float64      `yaml:"fallback"`
	// PastHalfLifeDays halves the score for every period the start date lies in the past.
	PastHalfLifeDays float64 `yaml:"past_half_life_days"`
	// RecencyHalfLifeDays decays the score as last_updated_at ages.
	RecencyHalfLifeDays float64 `yaml:"recency_half_life_days"`
	// RecencyFloor bounds the recency factor from below.
	RecencyFloor float64 `yaml:"recency_floor"`
}

// Tier maps a numeric minimum to a score.
type Tier struct {
	Min   float64 `yaml:"min"`
	Score float64 `yaml:"score"`
}

// SizeTier matches on square footage or unit count, whichever is higher.
type SizeTier struct {
	MinSqft  float64 `yaml:"min_sqft"`
	MinUnits float64 `yaml:"min_units"`
	Score    float64 `yaml:"score"`
}

// GrooveWeights weight each groove sub-score. They are normalised at load.
type GrooveWeights struct {
	ProjectType  float64 `yaml:"project_type"`
	Stage        float64 `yaml:"stage"`
	Value        float64 `yaml:"value"`
	Size         float64 `yaml:"size"`
	Location     float64 `yaml:"location"`
	DataSource   float64 `yaml:"data_source"`
	Stakeholders float64 `yaml:"stakeholders"`
	Signals      float64 `yaml:"signals"`
}

func (w GrooveWeights) sum() float64 {
	return w.ProjectType + w.Stage + w.Value + w.Size + w.Location + w.DataSource + w.Stakeholders + w.Signals
}

// GrooveProfile tunes the quality score.
type GrooveProfile struct {
	Weights          GrooveWeights      `yaml:"weights"`
	TypeTiers        map[string]float64 `yaml:"type_tiers"`
	StageScores      map[string]float64 `yaml:"stage_scores"`
	UnknownStage     float64            `yaml:"unknown_stage"`
	ValueTiers       []Tier             `yaml:"value_tiers"`
	SizeTiers        []SizeTier         `yaml:"size_tiers"`
	PriorityStates   []string           `yaml:"priority_states"`
	PriorityCities   []string           `yaml:"priority_cities"`
	SourceScores     map[string]float64 `yaml:"source_scores"`
	UnknownSource    float64            `yaml:"unknown_source"`
	ContactQualities map[string]float64 `yaml:"contact_qualities"`
	Signals          map[string]float64 `yaml:"signals"`
}

// Question is one entry of the qualifying question sequence.
type Question struct {
	ID       string   `yaml:"id" json:"id"`
	Category string   `yaml:"category" json:"category"`
	Text     string   `yaml:"text" json:"text"`
	Weight   float64  `yaml:"weight" json:"weight"`
	Stages   []string `yaml:"stages" json:"stages,omitempty"`
}

// Profile bundles every tuning value used by the engine.
type Profile struct {
	Version   string        `yaml:"version"`
	Weights   TotalWeights  `yaml:"weights"`
	Timing    TimingProfile `yaml:"timing"`
	Groove    GrooveProfile `yaml:"groove"`
	Questions []Question    `yaml:"questions"`
}

// LoadProfile reads a YAML profile layered over the defaults. An empty path
// returns the defaults.
func LoadProfile(path string) (Profile, error) {
	p := DefaultProfile()
	if strings.TrimSpace(path) == "" {
		return p, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read scoring profile: %w", err)
	}
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Profile{}, fmt.Errorf("parse scoring profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Validate checks weight sums and question weights.
func (p Profile) Validate() error {
	w := p.Weights
	if w.Timing < 0 || w.Groove < 0 || w.Psychology < 0 {
		return fmt.Errorf("scoring profile: total weights must be non-negative")
	}
	if math.Abs(w.Timing+w.Groove+w.Psychology-1) > weightTolerance {
		return fmt.Errorf("scoring profile: total weights must sum to 1, got %.6f", w.Timing+w.Groove+w.Psychology)
	}
	if p.Groove.Weights.sum() <= 0 {
		return fmt.Errorf("scoring profile: groove weights must be positive")
	}
	seen := make(map[string]struct{}, len(p.Questions))
	for _, q := range p.Questions {
		if q.ID == "" || q.Weight <= 0 {
			return fmt.Errorf("scoring profile: question %q needs an id and a positive weight", q.ID)
		}
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("scoring profile: duplicate question %q", q.ID)
		}
		seen[q.ID] = struct{}{}
	}
	return nil
}

// DefaultProfile returns the compiled-in tuning.
func DefaultProfile() Profile {
	return Profile{
		Version: "2026-v1",
		Weights: TotalWeights{Timing: 0.3, Groove: 0.5, Psychology: 0.2},
		Timing: TimingProfile{
			Steps: []TimingStep{
				{MaxMonths: 2, Score: 100},
				{MaxMonths: 4, Score: 80},
				{MaxMonths: 6, Score: 60},
				{MaxMonths: 9, Score: 40},
				{MaxMonths: 12, Score: 20},
			},
			Fallback:            10,
			PastHalfLifeDays:    60,
			RecencyHalfLifeDays: 90,
			RecencyFloor:        0.5,
		},
		Groove: GrooveProfile{
			Weights: GrooveWeights{
				ProjectType:  0.20,
				Stage:        0.20,
				Value:        0.15,
				Size:         0.10,
				Location:     0.05,
				DataSource:   0.10,
				Stakeholders: 0.10,
				Signals:      0.10,
			},
			TypeTiers: map[string]float64{
				"hotel": 100, "senior_living": 100, "multifamily": 100, "student_housing": 100,
				"rv_park": 67, "restaurant": 67, "arena": 67, "healthcare": 67, "campground": 67,
				"retail": 33, "office": 33, "warehouse": 33,
			},
			StageScores: map[string]float64{
				"planning": 100, "design": 88, "pre_construction": 80, "bidding": 56,
				"construction": 32, "renovation": 72, "operating": 60,
				"completed": 0, "cancelled": 0, "retired": 0,
			},
			UnknownStage: 20,
			ValueTiers: []Tier{
				{Min: 20_000_000, Score: 100},
				{Min: 10_000_000, Score: 85},
				{Min: 5_000_000, Score: 70},
				{Min: 2_000_000, Score: 50},
				{Min: 1_000_000, Score: 35},
				{Min: 500_000, Score: 20},
			},
			SizeTiers: []SizeTier{
				{MinSqft: 100_000, MinUnits: 200, Score: 100},
				{MinSqft: 50_000, MinUnits: 100, Score: 80},
				{MinSqft: 25_000, MinUnits: 50, Score: 60},
				{MinSqft: 10_000, MinUnits: 20, Score: 40},
				{MinSqft: 5_000, MinUnits: 10, Score: 20},
			},
			PriorityStates: []string{"UT", "CA", "TX", "FL", "NY", "IL"},
			PriorityCities: []string{"Salt Lake City", "Las Vegas", "Phoenix", "Denver", "Seattle"},
			SourceScores: map[string]float64{
				"referral": 100, "construction_wire": 85, "manual": 70, "import": 60, "scraper": 50,
			},
			UnknownSource: 30,
			ContactQualities: map[string]float64{
				"verified": 30, "partial": 15, "unverified": 5,
			},
			Signals: map[string]float64{
				"amenities": 20, "technologies": 20, "property improvement plan": 30,
				"garden style": 15, "leed": 15, "concrete": 10, "steel": 10,
			},
		},
		Questions: defaultQuestions(),
	}
}

// Question weights follow intensity: soft 1, medium 2, hard 3.
func defaultQuestions() []Question {
	return []Question{
		{ID: "cc_inspection_failure", Category: "code_compliance", Weight: 3, Stages: []string{"pre_construction", "construction"},
			Text: "What happens to your opening timeline if the fire marshal flags radio coverage two weeks before opening?"},
		{ID: "cc_erces_oversight", Category: "code_compliance", Weight: 2, Stages: []string{"planning", "design", "pre_construction"},
			Text: "Have you seen projects where ERCES was overlooked until final inspection?"},
		{ID: "cc_retrofit_nightmare", Category: "code_compliance", Weight: 2, Stages: []string{"design", "pre_construction"},
			Text: "What would retrofitting life safety systems after occupancy cost you?"},
		{ID: "td_daily_cost", Category: "timeline_delay", Weight: 3, Stages: []string{"construction"},
			Text: "What is the cost per day of a delayed certificate of occupancy?"},
		{ID: "td_opening_ripple", Category: "timeline_delay", Weight: 2, Stages: []string{"pre_construction", "construction"},
			Text: "If technology delays your opening by two weeks, what is the ripple effect?"},
		{ID: "fe_change_order_cascade", Category: "financial_exposure", Weight: 2, Stages: []string{"planning", "design"},
			Text: "How do late technology decisions show up in change orders?"},
		{ID: "fe_vendor_finger_pointing", Category: "financial_exposure", Weight: 1, Stages: []string{"planning", "design", "pre_construction", "construction"},
			Text: "When several vendors touch the network, who owns the problem when it fails?"},
		{ID: "rd_first_reviews", Category: "reputation_damage", Weight: 3, Stages: []string{"pre_construction", "construction"},
			Text: "What would the first online reviews say if connectivity fails in week one?"},
		{ID: "cr_who_takes_blame", Category: "career_risk", Weight: 3, Stages: []string{"design", "pre_construction", "construction"},
			Text: "If the systems underperform after opening, who takes the blame?"},
		{ID: "of_leasing_impact", Category: "operational_failure", Weight: 2, Stages: []string{"pre_construction", "construction"},
			Text: "How would poor connectivity affect leasing velocity?"},
		{ID: "cd_market_expectations", Category: "competitive_disadvantage", Weight: 1, Stages: []string{"planning", "design"},
			Text: "What do guests and residents in your market now expect as standard?"},
		{ID: "si_team_stress", Category: "staff_impact", Weight: 1, Stages: []string{"operating", "renovation"},
			Text: "How much of your team's week goes to technology complaints?"},
	}
}
