package scoring

import (
	"math"
	"sort"
	"time"

	"leadintel_backend/internal/leads/domain"
)

const (
	hoursPerDay  = 24
	daysPerMonth = 30.4375
)

// Timing scores urgency from the project start date and decays it as
// last_updated_at ages. Time is taken at day granularity so repeated
// computation on the same day is stable. A lead without any date scores 0.
func Timing(attrs domain.Attributes, p TimingProfile, now time.Time) float64 {
	start, ok := attrs.TimeValue(domain.AttrStartDate)
	if !ok {
		start, ok = attrs.TimeValue(domain.AttrTimeline)
	}
	if !ok {
		return 0
	}

	today := truncateDay(now)
	daysOut := truncateDay(start).Sub(today).Hours() / hoursPerDay

	var score float64
	if daysOut >= 0 {
		score = stepScore(daysOut/daysPerMonth, p)
	} else {
		score = stepScore(0, p) * halfLifeFactor(-daysOut, p.PastHalfLifeDays)
	}

	return clamp(score * recencyFactor(attrs, p, today))
}

// MonthsToStart returns whole months until the start date, floored at 0.
// The second result is false when the lead carries no date.
func MonthsToStart(attrs domain.Attributes, now time.Time) (float64, bool) {
	start, ok := attrs.TimeValue(domain.AttrStartDate)
	if !ok {
		start, ok = attrs.TimeValue(domain.AttrTimeline)
	}
	if !ok {
		return 0, false
	}
	days := truncateDay(start).Sub(truncateDay(now)).Hours() / hoursPerDay
	return math.Max(0, math.Floor(days/daysPerMonth)), true
}

func stepScore(months float64, p TimingProfile) float64 {
	steps := append([]TimingStep(nil), p.Steps...)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].MaxMonths < steps[j].MaxMonths })
	for _, s := range steps {
		if months <= s.MaxMonths {
			return s.Score
		}
	}
	return p.Fallback
}

func recencyFactor(attrs domain.Attributes, p TimingProfile, today time.Time) float64 {
	floor := math.Min(math.Max(p.RecencyFloor, 0), 1)
	updated, ok := attrs.TimeValue(domain.AttrLastUpdated)
	if !ok {
		return floor
	}
	days := math.Max(0, today.Sub(truncateDay(updated)).Hours()/hoursPerDay)
	return math.Max(floor, halfLifeFactor(days, p.RecencyHalfLifeDays))
}

func halfLifeFactor(days, halfLife float64) float64 {
	if halfLife <= 0 {
		return 1
	}
	return math.Pow(0.5, days/halfLife)
}

func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
