package journey

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/hazyhaar/flowkeeper/flowgraph"
)

// PathsResult is the outcome of a path enumeration.
type PathsResult struct {
	Paths []Journey `json:"paths"`
	// Truncated is set when a cap stopped the search before it finished.
	Truncated bool `json:"truncated"`
	// Expanded is the number of edges followed.
	Expanded int `json:"expanded"`
}

// FindFlowPaths returns every simple path from source to target using at most
// maxDepth flows. Paths never revisit a page. A path from a page to itself is
// empty, so source == target yields no paths.
func (e *Engine) FindFlowPaths(source, target string, maxDepth int) ([]Journey, error) {
	res, err := e.FindFlowPathsResult(source, target, maxDepth)
	return res.Paths, err
}

// FindFlowPathsResult is FindFlowPaths with truncation details. Paths are
// ordered by length, then by flow IDs.
func (e *Engine) FindFlowPathsResult(source, target string, maxDepth int) (PathsResult, error) {
	if maxDepth < 1 {
		return PathsResult{}, fmt.Errorf("%w: got %d", ErrInvalidDepth, maxDepth)
	}
	maxDepth = min(maxDepth, e.cfg.MaxDepthLimit)
	if source == "" || target == "" || source == target {
		return PathsResult{}, nil
	}

	w := &pathWalker{
		snap:     e.src.Snapshot(),
		target:   target,
		maxDepth: maxDepth,
		maxPaths: e.cfg.MaxExploredPaths,
		maxSteps: e.cfg.MaxExpansions,
		visited:  map[string]bool{source: true},
	}
	w.walk(source)

	slices.SortFunc(w.out, compareJourneys)
	if w.truncated {
		e.logger.Warn("journey: path search truncated",
			"source", source, "target", target, "max_depth", maxDepth,
			"paths", len(w.out), "expanded", w.steps)
	}
	return PathsResult{Paths: w.out, Truncated: w.truncated, Expanded: w.steps}, nil
}

type pathWalker struct {
	snap     flowgraph.Snapshot
	target   string
	maxDepth int
	maxPaths int
	maxSteps int

	visited   map[string]bool
	path      []flowgraph.UserFlow
	out       []Journey
	steps     int
	truncated bool
}

// walk extends the current path from page. Recursion depth is bounded by
// maxDepth.
func (w *pathWalker) walk(page string) {
	if page == w.target {
		if len(w.out) >= w.maxPaths {
			w.truncated = true
			return
		}
		w.out = append(w.out, newJourney(w.path))
		return
	}
	if len(w.path) >= w.maxDepth {
		return
	}
	for _, f := range w.snap.Outgoing(page) {
		if w.truncated {
			return
		}
		if w.visited[f.TargetPageID] {
			continue
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

func compareJourneys(a, b Journey) int {
	if c := cmp.Compare(a.Len(), b.Len()); c != 0 {
		return c
	}
	return strings.Compare(a.key(), b.key())
}
