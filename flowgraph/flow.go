// Package flowgraph stores the directed graph of pages connected by user
// interactions.
//
// Edges (UserFlow) are kept in a primary map plus two adjacency indices, by
// source page and by target page. All three structures are mutated under a
// single write lock so readers never observe a flow present in one and absent
// from another. Traversals should take a Snapshot and work on it.
package flowgraph

import (
	"slices"
	"time"
)

// Interaction types reported by the crawler. Other strings are accepted.
const (
	InteractionClick       = "click"
	InteractionNavigate    = "navigate"
	InteractionFormSubmit  = "form_submit"
	InteractionStateChange = "state_change"
)

// UserFlow is one observed transition between two pages.
type UserFlow struct {
	ID              string    `json:"id"`
	SourcePageID    string    `json:"source_page_id"`
	TargetPageID    string    `json:"target_page_id"`
	InteractionType string    `json:"interaction_type"`
	FormSubmission  bool      `json:"form_submission"`
	CriticalJourney bool      `json:"critical_journey"`
	Verified        bool      `json:"verified"`
	PriorityScore   int       `json:"priority_score"`
	DiscoveredAt    time.Time `json:"discovered_at"`

	// Trigger is the fingerprint ID of the element that caused the transition.
	Trigger     string `json:"trigger,omitempty"`
	Description string `json:"description,omitempty"`
}

// Page is a crawled page.
type Page struct {
	ID             string    `json:"id"`
	URL            string    `json:"url"`
	Title          string    `json:"title,omitempty"`
	FingerprintIDs []string  `json:"fingerprint_ids,omitempty"`
	DiscoveredAt   time.Time `json:"discovered_at"`
}

// Clone returns a copy of p that shares no memory with it.
func (p Page) Clone() Page {
	c := p
	c.FingerprintIDs = slices.Clone(p.FingerprintIDs)
	return c
}
