package scoring

import (
	"sort"
	"strings"

	"leadintel_backend/internal/leads/domain"
)

// Total combines the sub-scores with fixed weights.
func Total(timing, groove, psychology float64, w TotalWeights) float64 {
	return clamp(w.Timing*timing + w.Groove*groove + w.Psychology*psychology)
}

// Less orders leads for ranking: total, then groove, then timing, all
// descending, then id ascending so the order is total.
func Less(a, b *domain.Snapshot) bool {
	as, bs := a.Scores, b.Scores
	if as.Total != bs.Total {
		return as.Total > bs.Total
	}
	if as.Groove != bs.Groove {
		return as.Groove > bs.Groove
	}
	if as.Timing != bs.Timing {
		return as.Timing > bs.Timing
	}
	return strings.Compare(a.ID.String(), b.ID.String()) < 0
}

// Rank sorts leads in place by Less and returns them.
func Rank(leads []*domain.Snapshot) []*domain.Snapshot {
	sort.SliceStable(leads, func(i, j int) bool { return Less(leads[i], leads[j]) })
	return leads
}
