package scoring

// Psychology is answeredWeight / totalWeight * 100 over the question
// catalogue. Answers to unknown question ids are ignored.
func Psychology(answered []string, questions []Question) float64 {
	total := 0.0
	for _, q := range questions {
		total += q.Weight
	}
	if total <= 0 {
		return 0
	}

	done := answeredSet(answered)
	got := 0.0
	for _, q := range questions {
		if _, ok := done[q.ID]; ok {
			got += q.Weight
		}
	}
	return clamp(got / total * 100)
}

// NextQuestion returns the highest-weight unanswered question, preferring
// questions tagged for the lead's stage. Ties go to catalogue order.
func NextQuestion(answered []string, stage string, questions []Question) (Question, bool) {
	done := answeredSet(answered)
	stage = NormalizeStage(stage)

	var (
		best, fallback         Question
		haveBest, haveFallback bool
	)
	for _, q := range questions {
		if _, ok := done[q.ID]; ok {
			continue
		}
		if !haveFallback || q.Weight > fallback.Weight {
			fallback, haveFallback = q, true
		}
		if stage != "" && appliesTo(q, stage) && (!haveBest || q.Weight > best.Weight) {
			best, haveBest = q, true
		}
	}
	if haveBest {
		return best, true
	}
	return fallback, haveFallback
}

func appliesTo(q Question, stage string) bool {
	if len(q.Stages) == 0 {
		return true
	}
	for _, s := range q.Stages {
		if s == stage {
			return true
		}
	}
	return false
}

func answeredSet(answered []string) map[string]struct{} {
	set := make(map[string]struct{}, len(answered))
	for _, id := range answered {
		set[id] = struct{}{}
	}
	return set
}
