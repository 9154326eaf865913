// Package fingerprint stores structured descriptors of UI elements and
// re-identifies them under partial, fuzzy evidence.
//
// A Fingerprint records what identified an element the last time the crawler
// saw it: markup id, tag or role, visible text and a stable subset of its
// attributes. When a recorded locator stops working, the healing layer asks
// the Store for the most similar known element.
//
// Lookups are full scans under a read lock.
package fingerprint

import (
	"maps"
	"time"
)

// Fingerprint describes one UI element.
type Fingerprint struct {
	ID          string            `json:"id"`
	ElementID   string            `json:"element_id,omitempty"`
	ElementType string            `json:"element_type,omitempty"`
	ElementText string            `json:"element_text,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	LastSeen    time.Time         `json:"last_seen"`

	// PageID and Selector are informational and take no part in matching.
	PageID   string `json:"page_id,omitempty"`
	Selector string `json:"selector,omitempty"`
}

// Clone returns a copy that shares no memory with f.
func (f Fingerprint) Clone() Fingerprint {
	c := f
	if f.Attributes != nil {
		c.Attributes = maps.Clone(f.Attributes)
	}
	return c
}

// IsEmpty reports whether f carries no matching signal at all.
func (f Fingerprint) IsEmpty() bool {
	return f.ElementID == "" && f.ElementType == "" &&
		normalizeText(f.ElementText) == "" && len(f.Attributes) == 0
}

// Match is a stored fingerprint together with its confidence against a target.
type Match struct {
	Fingerprint Fingerprint `json:"fingerprint"`
	Confidence  float64     `json:"confidence"`
}
