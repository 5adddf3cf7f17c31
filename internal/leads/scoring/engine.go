package scoring

import (
	"time"

	"leadintel_backend/internal/leads/domain"
)

// Engine applies a validated Profile to snapshots.
type Engine struct {
	profile   Profile
	questions map[string]Question
}

// NewEngine validates the profile and builds an engine.
func NewEngine(p Profile) (*Engine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	index := make(map[string]Question, len(p.Questions))
	for _, q := range p.Questions {
		index[q.ID] = q
	}
	return &Engine{profile: p, questions: index}, nil
}

// MustDefaultEngine returns an engine over DefaultProfile.
func MustDefaultEngine() *Engine {
	e, err := NewEngine(DefaultProfile())
	if err != nil {
		panic(err)
	}
	return e
}

// Profile returns the active profile.
func (e *Engine) Profile() Profile { return e.profile }

// Questions returns the catalogue in order.
func (e *Engine) Questions() []Question { return e.profile.Questions }

// Question looks up a catalogue entry.
func (e *Engine) Question(id string) (Question, bool) {
	q, ok := e.questions[id]
	return q, ok
}

// Score computes all four scores. It never fails: missing data only lowers
// the result.
func (e *Engine) Score(s *domain.Snapshot, now time.Time) domain.Scores {
	timing := Timing(s.Attributes, e.profile.Timing, now)
	groove := Groove(s.Attributes, e.profile.Groove)
	psych := Psychology(s.AnsweredQuestions, e.profile.Questions)

	return domain.Scores{
		Timing:         timing,
		Groove:         groove,
		Psychology:     psych,
		Total:          Total(timing, groove, psych, e.profile.Weights),
		Drivers:        Drivers(s.Attributes, now),
		ProfileVersion: e.profile.Version,
		ComputedAt:     now.UTC(),
	}
}

// UpToDate reports whether the snapshot's scores can be reused as-is:
// nothing changed since they were computed, on the same day, with the same
// profile.
func (e *Engine) UpToDate(s *domain.Snapshot, now time.Time) bool {
	sc := s.Scores
	if sc.Stale || sc.ComputedAt.IsZero() || sc.ProfileVersion != e.profile.Version {
		return false
	}
	return truncateDay(sc.ComputedAt).Equal(truncateDay(now))
}

// Apply refreshes s.Scores unless they are up to date. It reports whether
// anything changed.
func (e *Engine) Apply(s *domain.Snapshot, now time.Time) bool {
	if e.UpToDate(s, now) {
		return false
	}
	s.Scores = e.Score(s, now)
	return true
}

// NextQuestion picks the next qualifying question for the lead.
func (e *Engine) NextQuestion(s *domain.Snapshot) (Question, bool) {
	stage, _ := s.Attributes.TextValue(domain.AttrStage)
	return NextQuestion(s.AnsweredQuestions, stage, e.profile.Questions)
}
