package fingerprint

import (
	"cmp"
	"slices"
	"strings"
	"sync"
)

// Store owns the canonical set of known fingerprints. It is safe for
// concurrent use; every read returns independent copies.
type Store struct {
	mu      sync.RWMutex
	items   map[string]Fingerprint
	weights Weights
}

// Option configures a Store.
type Option func(*Store)

// WithWeights overrides the matching weights.
func WithWeights(w Weights) Option {
	return func(s *Store) { s.weights = w.orDefault() }
}

// NewStore creates an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		items:   make(map[string]Fingerprint),
		weights: DefaultWeights(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Weights returns the weights used by the matching operations.
func (s *Store) Weights() Weights {
	return s.weights
}

// Add upserts f by ID.
func (s *Store) Add(f Fingerprint) error {
	if f.ID == "" {
		return ErrMissingID
	}
	c := f.Clone()
	s.mu.Lock()
	s.items[c.ID] = c
	s.mu.Unlock()
	return nil
}

// Update upserts f by ID. It is an alias of Add kept for callers that
// re-match an element they already know.
func (s *Store) Update(f Fingerprint) error {
	return s.Add(f)
}

// Delete removes the fingerprint with the given ID. Absent IDs are ignored.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
}

// FindByID returns the fingerprint with the given ID.
func (s *Store) FindByID(id string) (Fingerprint, bool) {
	s.mu.RLock()
	f, ok := s.items[id]
	s.mu.RUnlock()
	if !ok {
		return Fingerprint{}, false
	}
	return f.Clone(), true
}

// FindByType returns fingerprints whose ElementType equals t (case-insensitive).
func (s *Store) FindByType(t string) []Fingerprint {
	if t == "" {
		return nil
	}
	return s.filter(func(f Fingerprint) bool { return strings.EqualFold(f.ElementType, t) })
}

// FindByTextExact returns fingerprints whose text equals text exactly.
func (s *Store) FindByTextExact(text string) []Fingerprint {
	if text == "" {
		return nil
	}
	return s.filter(func(f Fingerprint) bool { return f.ElementText == text })
}

// FindByTextContaining returns fingerprints whose text contains fragment,
// ignoring case.
func (s *Store) FindByTextContaining(fragment string) []Fingerprint {
	frag := strings.ToLower(fragment)
	if strings.TrimSpace(frag) == "" {
		return nil
	}
	return s.filter(func(f Fingerprint) bool {
		return strings.Contains(strings.ToLower(f.ElementText), frag)
	})
}

// All returns every stored fingerprint ordered by ID.
func (s *Store) All() []Fingerprint {
	return s.filter(func(Fingerprint) bool { return true })
}

// Len returns the number of stored fingerprints.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// FindMostSimilar returns the best match for target with a confidence of at
// least minConfidence. Equal scores are broken by most recent LastSeen, then
// by smallest ID, so repeated calls on an unchanged store agree.
// An empty target never matches.
func (s *Store) FindMostSimilar(target Fingerprint, minConfidence float64) (Fingerprint, float64, bool) {
	matches := s.FindSimilar(target, minConfidence)
	if len(matches) == 0 {
		return Fingerprint{}, 0, false
	}
	return matches[0].Fingerprint, matches[0].Confidence, true
}

// FindSimilar returns every match with a confidence of at least
// minConfidence, best first.
func (s *Store) FindSimilar(target Fingerprint, minConfidence float64) []Match {
	if target.IsEmpty() {
		return nil
	}
	minConfidence = clamp01(minConfidence)

	s.mu.RLock()
	var matches []Match
	for _, f := range s.items {
		c := Confidence(target, f, s.weights)
		if c >= minConfidence {
			matches = append(matches, Match{Fingerprint: f.Clone(), Confidence: c})
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(matches, compareMatches)
	return matches
}

func compareMatches(a, b Match) int {
	if c := cmp.Compare(b.Confidence, a.Confidence); c != 0 {
		return c
	}
	if c := b.Fingerprint.LastSeen.Compare(a.Fingerprint.LastSeen); c != 0 {
		return c
	}
	return cmp.Compare(a.Fingerprint.ID, b.Fingerprint.ID)
}

func (s *Store) filter(keep func(Fingerprint) bool) []Fingerprint {
	s.mu.RLock()
	var out []Fingerprint
	for _, f := range s.items {
		if keep(f) {
			out = append(out, f.Clone())
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Fingerprint) int { return cmp.Compare(a.ID, b.ID) })
	return out
}
