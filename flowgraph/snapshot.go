package flowgraph

import (
	"maps"
	"slices"
)

// Snapshot is a point-in-time copy of the graph. It is never updated after
// it is taken: flows saved later are not visible through it.
type Snapshot struct {
	Flows    map[string]UserFlow `json:"flows"`
	BySource map[string][]string `json:"by_source"`
	ByTarget map[string][]string `json:"by_target"`
}

// Snapshot copies the flows and both indices under one read lock. Index
// entries are sorted flow IDs.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Flows:    maps.Clone(s.flows),
		BySource: make(map[string][]string, len(s.bySource)),
		ByTarget: make(map[string][]string, len(s.byTarget)),
	}
	if snap.Flows == nil {
		snap.Flows = make(map[string]UserFlow)
	}
	for page, set := range s.bySource {
		snap.BySource[page] = slices.Sorted(maps.Keys(set))
	}
	for page, set := range s.byTarget {
		snap.ByTarget[page] = slices.Sorted(maps.Keys(set))
	}
	return snap
}

// Outgoing returns the flows leaving pageID ordered by ID.
func (s Snapshot) Outgoing(pageID string) []UserFlow {
	return s.resolve(s.BySource[pageID])
}

// Incoming returns the flows entering pageID ordered by ID.
func (s Snapshot) Incoming(pageID string) []UserFlow {
	return s.resolve(s.ByTarget[pageID])
}

// PageIDs returns every page that is the endpoint of at least one flow.
func (s Snapshot) PageIDs() []string {
	set := make(map[string]struct{}, len(s.BySource)+len(s.ByTarget))
	for p := range s.BySource {
		set[p] = struct{}{}
	}
	for p := range s.ByTarget {
		set[p] = struct{}{}
	}
	return slices.Sorted(maps.Keys(set))
}

// SortedFlows returns every flow in the snapshot ordered by ID.
func (s Snapshot) SortedFlows() []UserFlow {
	out := make([]UserFlow, 0, len(s.Flows))
	for _, id := range slices.Sorted(maps.Keys(s.Flows)) {
		out = append(out, s.Flows[id])
	}
	return out
}

func (s Snapshot) resolve(ids []string) []UserFlow {
	out := make([]UserFlow, 0, len(ids))
	for _, id := range ids {
		if f, ok := s.Flows[id]; ok {
			out = append(out, f)
		}
	}
	return out
}
