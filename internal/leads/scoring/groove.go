package scoring

import (
	"math"
	"sort"
	"strings"

	"leadintel_backend/internal/leads/domain"
	"leadintel_backend/platform/phone"
)

// GrooveBreakdown holds each clamped sub-score before weighting.
type GrooveBreakdown struct {
	ProjectType  float64 `json:"projectType"`
	Stage        float64 `json:"stage"`
	Value        float64 `json:"value"`
	Size         float64 `json:"size"`
	Location     float64 `json:"location"`
	DataSource   float64 `json:"dataSource"`
	Stakeholders float64 `json:"stakeholders"`
	Signals      float64 `json:"signals"`
}

// Groove is the weighted quality score in [0,100].
func Groove(attrs domain.Attributes, p GrooveProfile) float64 {
	return GrooveParts(attrs, p).weighted(p.Weights)
}

// GrooveParts computes every sub-score. Missing attributes score 0.
func GrooveParts(attrs domain.Attributes, p GrooveProfile) GrooveBreakdown {
	return GrooveBreakdown{
		ProjectType:  clamp(projectTypeScore(attrs, p)),
		Stage:        clamp(stageScore(attrs, p)),
		Value:        clamp(valueScore(attrs, p)),
		Size:         clamp(sizeScore(attrs, p)),
		Location:     clamp(locationScore(attrs, p)),
		DataSource:   clamp(dataSourceScore(attrs, p)),
		Stakeholders: clamp(stakeholderScore(attrs, p)),
		Signals:      clamp(signalScore(attrs, p)),
	}
}

func (b GrooveBreakdown) weighted(w GrooveWeights) float64 {
	sum := w.sum()
	if sum <= 0 {
		return 0
	}
	total := b.ProjectType*w.ProjectType +
		b.Stage*w.Stage +
		b.Value*w.Value +
		b.Size*w.Size +
		b.Location*w.Location +
		b.DataSource*w.DataSource +
		b.Stakeholders*w.Stakeholders +
		b.Signals*w.Signals
	return clamp(total / sum)
}

func projectTypeScore(attrs domain.Attributes, p GrooveProfile) float64 {
	raw, ok := attrs.TextValue(domain.AttrProjectType)
	if !ok {
		return 0
	}
	best := 0.0
	for _, t := range strings.Split(raw, ",") {
		key := strings.ToLower(strings.TrimSpace(t))
		best = math.Max(best, p.TypeTiers[key])
	}
	return best
}

// NormalizeStage folds the many stage spellings into canonical names.
func NormalizeStage(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case s == "":
		return ""
	case strings.Contains(s, "planning") || strings.Contains(s, "permit"):
		return "planning"
	case strings.Contains(s, "design"):
		return "design"
	case strings.Contains(s, "pre") || strings.Contains(s, "shell") || strings.Contains(s, "foundation") || strings.Contains(s, "groundbreak"):
		return "pre_construction"
	case strings.Contains(s, "bid"):
		return "bidding"
	case strings.Contains(s, "construct") || strings.Contains(s, "fit-out"):
		return "construction"
	case strings.Contains(s, "reno") || strings.Contains(s, "upgrade"):
		return "renovation"
	case strings.Contains(s, "complete"):
		return "completed"
	case strings.Contains(s, "operat") || strings.Contains(s, "existing"):
		return "operating"
	}
	return s
}

func stageScore(attrs domain.Attributes, p GrooveProfile) float64 {
	raw, ok := attrs.TextValue(domain.AttrStage)
	if !ok {
		return 0
	}
	if score, known := p.StageScores[NormalizeStage(raw)]; known {
		return score
	}
	return p.UnknownStage
}

func valueScore(attrs domain.Attributes, p GrooveProfile) float64 {
	v, ok := attrs.Num(domain.AttrProjectValue)
	if !ok {
		return 0
	}
	best := 0.0
	for _, t := range p.ValueTiers {
		if v >= t.Min {
			best = math.Max(best, t.Score)
		}
	}
	return best
}

func sizeScore(attrs domain.Attributes, p GrooveProfile) float64 {
	sqft, _ := attrs.Num(domain.AttrSizeSqft)
	units, _ := attrs.Num(domain.AttrUnits)
	best := 0.0
	for _, t := range p.SizeTiers {
		if (t.MinSqft > 0 && sqft >= t.MinSqft) || (t.MinUnits > 0 && units >= t.MinUnits) {
			best = math.Max(best, t.Score)
		}
	}
	return best
}

func locationScore(attrs domain.Attributes, p GrooveProfile) float64 {
	score := 0.0
	if state, ok := attrs.TextValue(domain.AttrState); ok && containsFold(p.PriorityStates, state) {
		score += 60
	}
	if city, ok := attrs.TextValue(domain.AttrCity); ok && containsFold(p.PriorityCities, city) {
		score += 40
	}
	return score
}

func dataSourceScore(attrs domain.Attributes, p GrooveProfile) float64 {
	src, ok := attrs.EnumValue(domain.AttrDataSource)
	if !ok {
		return 0
	}
	if score, known := p.SourceScores[src]; known {
		return score
	}
	return p.UnknownSource
}

func stakeholderScore(attrs domain.Attributes, p GrooveProfile) float64 {
	score := 0.0
	if n, ok := attrs.Num(domain.AttrContactCount); ok && n > 0 {
		score += math.Min(n, 3) / 3 * 40
	}
	if q, ok := attrs.EnumValue(domain.AttrContactQuality); ok {
		score += p.ContactQualities[q]
	}
	if raw, ok := attrs.TextValue(domain.AttrContactPhone); ok && phone.IsValid(raw) {
		score += 15
	}
	if email, ok := attrs.TextValue(domain.AttrContactEmail); ok && strings.Contains(email, "@") {
		score += 15
	}
	return score
}

func signalScore(attrs domain.Attributes, p GrooveProfile) float64 {
	text := signalText(attrs)
	if text == "" {
		return 0
	}
	keywords := make([]string, 0, len(p.Signals))
	for keyword := range p.Signals {
		keywords = append(keywords, keyword)
	}
	// Fixed order keeps the float sum identical across runs.
	sort.Strings(keywords)

	score := 0.0
	for _, keyword := range keywords {
		if strings.Contains(text, strings.ToLower(keyword)) {
			score += p.Signals[keyword]
		}
	}
	return score
}

func signalText(attrs domain.Attributes) string {
	var parts []string
	for _, name := range []string{domain.AttrNotes, domain.AttrDescription, domain.AttrServicesNeeded} {
		if v, ok := attrs.TextValue(name); ok {
			parts = append(parts, v)
		}
	}
	return strings.ToLower(strings.Join(parts, " "))
}

func containsFold(list []string, v string) bool {
	v = strings.TrimSpace(v)
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
