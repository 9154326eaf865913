package flowgraph

// ScoreWeights are the contributions of each flow signal to its priority.
type ScoreWeights struct {
	Base            int            `yaml:"base" json:"base"`
	FormSubmission  int            `yaml:"form_submission" json:"form_submission"`
	CriticalJourney int            `yaml:"critical_journey" json:"critical_journey"`
	Verified        int            `yaml:"verified" json:"verified"`
	Interaction     map[string]int `yaml:"interaction" json:"interaction"`
}

// DefaultScoreWeights returns the stock weights.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		Base:            30,
		FormSubmission:  20,
		CriticalJourney: 40,
		Verified:        10,
		Interaction: map[string]int{
			InteractionFormSubmit:  5,
			InteractionNavigate:    0,
			InteractionClick:       0,
			InteractionStateChange: -5,
		},
	}
}

// Scorer computes a flow's importance in [0,100].
type Scorer struct {
	w ScoreWeights
}

// NewScorer creates a Scorer. Flag bonuses below zero are raised to zero so
// the score never decreases when a flag is set.
func NewScorer(w ScoreWeights) *Scorer {
	w.FormSubmission = max(w.FormSubmission, 0)
	w.CriticalJourney = max(w.CriticalJourney, 0)
	w.Verified = max(w.Verified, 0)
	interaction := make(map[string]int, len(w.Interaction))
	for k, v := range w.Interaction {
		interaction[k] = v
	}
	w.Interaction = interaction
	return &Scorer{w: w}
}

// Score returns the priority of f. It only reads f.
func (s *Scorer) Score(f UserFlow) int {
	score := s.w.Base + s.w.Interaction[f.InteractionType]
	if f.FormSubmission {
		score += s.w.FormSubmission
	}
	if f.CriticalJourney {
		score += s.w.CriticalJourney
	}
	if f.Verified {
		score += s.w.Verified
	}
	return ClampScore(score)
}

// ClampScore bounds v to [0,100].
func ClampScore(v int) int {
	return min(max(v, 0), 100)
}
