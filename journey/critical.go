package journey

import (
	"cmp"
	"slices"
	"strings"

	"github.com/hazyhaar/flowkeeper/flowgraph"
)

// FindCriticalJourneys discovers multi-step journeys worth testing first.
//
// Seeds are authentication form submissions, or the outgoing flows of entry
// pages (pages nothing links to), as chosen by Config.SeedPolicy. From each
// seed the search follows qualifying flows, critical or with a priority at
// or above Config.PriorityThreshold, highest priority first. A journey is
// recorded when it reaches Config.MaxJourneyDepth flows with at least three
// flows, or when it cannot continue with at least two. Every returned
// journey has at least two flows.
func (e *Engine) FindCriticalJourneys() []Journey {
	snap := e.src.Snapshot()
	seeds := e.seeds(snap)

	w := &journeyWalker{
		snap:      snap,
		maxDepth:  e.cfg.MaxJourneyDepth,
		threshold: *e.cfg.PriorityThreshold,
		maxOut:    e.cfg.MaxExploredPaths,
		maxSteps:  e.cfg.MaxExpansions,
	}
	for _, seed := range seeds {
		if w.truncated {
			break
		}
		w.visited = map[string]bool{seed.SourcePageID: true, seed.TargetPageID: true}
		w.path = append(w.path[:0], seed)
		w.walk(seed.TargetPageID)
	}

	out := w.out
	windows := 0
	if *e.cfg.Dedupe {
		out, windows = dedupe(out)
	}
	if w.truncated {
		e.logger.Warn("journey: critical journey search truncated",
			"seeds", len(seeds), "journeys", len(w.out), "expanded", w.steps)
	}
	e.logger.Debug("journey: critical journeys found",
		"seeds", len(seeds), "journeys", len(out), "dedupe_windows", windows,
		"policy", string(e.cfg.SeedPolicy))
	return out
}

type journeyWalker struct {
	snap      flowgraph.Snapshot
	maxDepth  int
	threshold int
	maxOut    int
	maxSteps  int

	visited   map[string]bool
	path      []flowgraph.UserFlow
	out       []Journey
	steps     int
	truncated bool
}

func (w *journeyWalker) walk(page string) {
	if len(w.path) >= w.maxDepth {
		if len(w.path) >= 3 {
			w.record()
		}
		return
	}

	next := w.candidates(page)
	if len(next) == 0 {
		if len(w.path) >= 2 {
			w.record()
		}
		return
	}
	for _, f := range next {
		if w.truncated {
			return
		}
		if w.steps >= w.maxSteps {
			w.truncated = true
			return
		}
		w.steps++

		w.visited[f.TargetPageID] = true
		w.path = append(w.path, f)
		w.walk(f.TargetPageID)
		w.path = w.path[:len(w.path)-1]
		delete(w.visited, f.TargetPageID)
	}
}

// candidates returns the qualifying flows leaving page toward unvisited
// pages, highest priority first.
func (w *journeyWalker) candidates(page string) []flowgraph.UserFlow {
	var out []flowgraph.UserFlow
	for _, f := range w.snap.Outgoing(page) {
		if w.visited[f.TargetPageID] {
			continue
		}
		if f.CriticalJourney || f.PriorityScore >= w.threshold {
			out = append(out, f)
		}
	}
	slices.SortStableFunc(out, byPriority)
	return out
}

func (w *journeyWalker) record() {
	if len(w.out) >= w.maxOut {
		w.truncated = true
		return
	}
	w.out = append(w.out, newJourney(w.path))
}

// seeds returns the starting flows for the configured policy, highest
// priority first.
func (e *Engine) seeds(snap flowgraph.Snapshot) []flowgraph.UserFlow {
	var auth, entry []flowgraph.UserFlow
	policy := e.cfg.SeedPolicy
	if policy != SeedEntryOnly {
		auth = e.authSeeds(snap)
	}
	if policy == SeedEntryOnly || policy == SeedBoth || (policy == SeedAuthThenEntry && len(auth) == 0) {
		entry = entrySeeds(snap)
	}

	seen := make(map[string]bool, len(auth)+len(entry))
	var out []flowgraph.UserFlow
	for _, f := range slices.Concat(auth, entry) {
		if !seen[f.ID] {
			seen[f.ID] = true
			out = append(out, f)
		}
	}
	slices.SortStableFunc(out, byPriority)
	return out
}

func (e *Engine) authSeeds(snap flowgraph.Snapshot) []flowgraph.UserFlow {
	var out []flowgraph.UserFlow
	for _, f := range snap.SortedFlows() {
		if f.FormSubmission && e.isAuth(f) {
			out = append(out, f)
		}
	}
	return out
}

func (e *Engine) isAuth(f flowgraph.UserFlow) bool {
	it := strings.ToLower(f.InteractionType)
	desc := strings.ToLower(f.Description)
	for _, kw := range e.cfg.AuthKeywords {
		if strings.Contains(it, kw) || strings.Contains(desc, kw) {
			return true
		}
	}
	return false
}

// entrySeeds returns the outgoing flows of pages with no incoming flow.
func entrySeeds(snap flowgraph.Snapshot) []flowgraph.UserFlow {
	var out []flowgraph.UserFlow
	for _, page := range snap.PageIDs() {
		if len(snap.ByTarget[page]) == 0 {
			out = append(out, snap.Outgoing(page)...)
		}
	}
	return out
}

func byPriority(a, b flowgraph.UserFlow) int {
	if c := cmp.Compare(b.PriorityScore, a.PriorityScore); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// dedupe drops journeys whose flow sequence appears contiguously inside
// another journey. Of two identical journeys the first is kept.
//
// Every proper contiguous window of every journey goes into one set, and a
// journey is dropped when its full key is in that set. The work is linear in
// the number of journeys and quadratic only in journey length. windows
// reports the number of window keys built.
func dedupe(in []Journey) (out []Journey, windows int) {
	inner := make(map[string]struct{})
	for _, j := range in {
		ids := j.FlowIDs()
		for size := 1; size < len(ids); size++ {
			for from := 0; from+size <= len(ids); from++ {
				inner[strings.Join(ids[from:from+size], keySep)] = struct{}{}
				windows++
			}
		}
	}

	seen := make(map[string]struct{}, len(in))
	out = make([]Journey, 0, len(in))
	for _, j := range in {
		key := j.key()
		if _, ok := inner[key]; ok {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, j)
	}
	return out, windows
}
