package flowgraph

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/flowkeeper/idgen"
)

// Store owns the canonical flows and pages. It is safe for concurrent use;
// every read returns independent copies.
type Store struct {
	mu       sync.RWMutex
	flows    map[string]UserFlow
	bySource map[string]map[string]struct{}
	byTarget map[string]map[string]struct{}
	pages    map[string]Page

	scorer *Scorer
	newID  idgen.Generator
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithScorer sets the scorer used for flows saved without a priority.
func WithScorer(sc *Scorer) Option { return func(s *Store) { s.scorer = sc } }

// WithIDGenerator sets the generator used for flows saved without an ID.
func WithIDGenerator(gen idgen.Generator) Option { return func(s *Store) { s.newID = gen } }

// WithClock overrides time.Now for DiscoveredAt defaults.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// NewStore creates an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		flows:    make(map[string]UserFlow),
		bySource: make(map[string]map[string]struct{}),
		byTarget: make(map[string]map[string]struct{}),
		pages:    make(map[string]Page),
		scorer:   NewScorer(DefaultScoreWeights()),
		newID:    idgen.Prefixed("flow_", idgen.Default),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SaveFlow validates and stores f, returning the stored copy.
//
// A missing ID is assigned. A brand-new flow saved with a zero
// PriorityScore is scored by the scorer. Replacing a flow with a zero
// PriorityScore keeps the stored score, whatever its value. The primary map
// and both indices change in one critical section.
func (s *Store) SaveFlow(f UserFlow) (UserFlow, error) {
	return s.UpsertFlow(f, nil)
}

// MergeFunc combines the stored flow with its replacement. It runs under the
// store's write lock and must not change the flow ID.
type MergeFunc func(old, f UserFlow) UserFlow

// UpsertFlow is SaveFlow with merge applied when a flow with the same ID is
// already stored. Reading the old flow and writing the merged one happen in
// a single critical section, so concurrent mutations are never lost.
func (s *Store) UpsertFlow(f UserFlow, merge MergeFunc) (UserFlow, error) {
	f, err := s.prepare(f)
	if err != nil {
		return UserFlow{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, exists := s.flows[f.ID]
	switch {
	case exists:
		if f.PriorityScore == 0 {
			f.PriorityScore = old.PriorityScore
		}
		if merge != nil {
			id := f.ID
			f = merge(old, f)
			f.ID = id
			if err := validate(f); err != nil {
				return UserFlow{}, err
			}
			f.PriorityScore = ClampScore(f.PriorityScore)
		}
		s.unindexLocked(old)
	case f.PriorityScore == 0:
		f.PriorityScore = s.scorer.Score(f)
	}

	s.putLocked(f)
	return f, nil
}

// LoadFlow stores f exactly as given, without scoring: a zero PriorityScore
// stays zero. It is meant for restoring persisted flows.
func (s *Store) LoadFlow(f UserFlow) (UserFlow, error) {
	f, err := s.prepare(f)
	if err != nil {
		return UserFlow{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.flows[f.ID]; ok {
		s.unindexLocked(old)
	}
	s.putLocked(f)
	return f, nil
}

func (s *Store) prepare(f UserFlow) (UserFlow, error) {
	f.SourcePageID = strings.TrimSpace(f.SourcePageID)
	f.TargetPageID = strings.TrimSpace(f.TargetPageID)
	if err := validate(f); err != nil {
		return UserFlow{}, err
	}
	if f.ID == "" {
		f.ID = s.newID()
	}
	if f.DiscoveredAt.IsZero() {
		f.DiscoveredAt = s.now()
	}
	f.PriorityScore = ClampScore(f.PriorityScore)
	return f, nil
}

func validate(f UserFlow) error {
	if strings.TrimSpace(f.SourcePageID) == "" {
		return fmt.Errorf("%w: missing source page id", ErrInvalidFlow)
	}
	if strings.TrimSpace(f.TargetPageID) == "" {
		return fmt.Errorf("%w: missing target page id", ErrInvalidFlow)
	}
	return nil
}

func (s *Store) putLocked(f UserFlow) {
	s.flows[f.ID] = f
	addIndex(s.bySource, f.SourcePageID, f.ID)
	addIndex(s.byTarget, f.TargetPageID, f.ID)
}

// GetFlow returns the flow with the given ID.
func (s *Store) GetFlow(id string) (UserFlow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flows[id]
	return f, ok
}

// GetAllFlows returns every flow ordered by ID.
func (s *Store) GetAllFlows() []UserFlow {
	s.mu.RLock()
	out := make([]UserFlow, 0, len(s.flows))
	for _, f := range s.flows {
		out = append(out, f)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, byID)
	return out
}

// GetFlowsFromPage returns the flows leaving pageID ordered by ID.
func (s *Store) GetFlowsFromPage(pageID string) []UserFlow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(s.bySource[pageID])
}

// GetFlowsToPage returns the flows entering pageID ordered by ID.
func (s *Store) GetFlowsToPage(pageID string) []UserFlow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectLocked(s.byTarget[pageID])
}

// DeleteFlow removes a flow from all structures. Absent IDs are ignored.
func (s *Store) DeleteFlow(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flows[id]
	if !ok {
		return
	}
	s.unindexLocked(f)
	delete(s.flows, id)
}

// SetVerified records human confirmation of a flow. The priority is left
// untouched; use SetPriority to change it.
func (s *Store) SetVerified(id string, verified bool) (UserFlow, error) {
	return s.Update(id, func(f *UserFlow) { f.Verified = verified })
}

// SetPriority overrides a flow's priority, clamped to [0,100].
func (s *Store) SetPriority(id string, score int) (UserFlow, error) {
	return s.Update(id, func(f *UserFlow) { f.PriorityScore = score })
}

// FindImportantFlows returns flows by descending priority, ties by ID.
// A limit <= 0 returns all flows.
func (s *Store) FindImportantFlows(limit int) []UserFlow {
	all := s.GetAllFlows()
	slices.SortStableFunc(all, func(a, b UserFlow) int {
		return cmp.Compare(b.PriorityScore, a.PriorityScore)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}

// Len returns the number of flows.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.flows)
}

// SavePage upserts a page. Pages and flows are independent: a flow may
// reference a page that was never saved.
func (s *Store) SavePage(p Page) (Page, error) {
	if strings.TrimSpace(p.ID) == "" {
		return Page{}, ErrMissingPageID
	}
	p = p.Clone()
	slices.Sort(p.FingerprintIDs)
	p.FingerprintIDs = slices.Compact(p.FingerprintIDs)
	if p.DiscoveredAt.IsZero() {
		p.DiscoveredAt = s.now()
	}
	s.mu.Lock()
	s.pages[p.ID] = p
	s.mu.Unlock()
	return p.Clone(), nil
}

// GetPage returns the page with the given ID.
func (s *Store) GetPage(id string) (Page, bool) {
	s.mu.RLock()
	p, ok := s.pages[id]
	s.mu.RUnlock()
	if !ok {
		return Page{}, false
	}
	return p.Clone(), true
}

// GetAllPages returns every page ordered by ID.
func (s *Store) GetAllPages() []Page {
	s.mu.RLock()
	out := make([]Page, 0, len(s.pages))
	for _, p := range s.pages {
		out = append(out, p.Clone())
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b Page) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// DeletePage removes a page record. Flows touching it are kept.
func (s *Store) DeletePage(id string) {
	s.mu.Lock()
	delete(s.pages, id)
	s.mu.Unlock()
}

// Update applies fn to the stored flow in one critical section. fn may only
// change flags, priority and description; endpoint and ID changes are
// discarded. The priority is clamped afterwards.
func (s *Store) Update(id string, fn func(*UserFlow)) (UserFlow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.flows[id]
	if !ok {
		return UserFlow{}, fmt.Errorf("%w: %s", ErrFlowNotFound, id)
	}
	f := old
	fn(&f)
	f.ID, f.SourcePageID, f.TargetPageID = old.ID, old.SourcePageID, old.TargetPageID
	f.PriorityScore = ClampScore(f.PriorityScore)
	s.flows[id] = f
	return f, nil
}

func (s *Store) collectLocked(ids map[string]struct{}) []UserFlow {
	out := make([]UserFlow, 0, len(ids))
	for id := range ids {
		out = append(out, s.flows[id])
	}
	slices.SortFunc(out, byID)
	return out
}

func (s *Store) unindexLocked(f UserFlow) {
	removeIndex(s.bySource, f.SourcePageID, f.ID)
	removeIndex(s.byTarget, f.TargetPageID, f.ID)
}

func addIndex(idx map[string]map[string]struct{}, pageID, flowID string) {
	set, ok := idx[pageID]
	if !ok {
		set = make(map[string]struct{})
		idx[pageID] = set
	}
	set[flowID] = struct{}{}
}

func removeIndex(idx map[string]map[string]struct{}, pageID, flowID string) {
	set, ok := idx[pageID]
	if !ok {
		return
	}
	delete(set, flowID)
	if len(set) == 0 {
		delete(idx, pageID)
	}
}

func byID(a, b UserFlow) int {
	return cmp.Compare(a.ID, b.ID)
}
