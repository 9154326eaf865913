package journey

import (
	"strings"

	"github.com/hazyhaar/flowkeeper/flowgraph"
)

// SeedPolicy selects where critical journeys start.
type SeedPolicy string

const (
	// SeedAuthThenEntry uses authentication seeds, or entry pages when
	// there are none.
	SeedAuthThenEntry SeedPolicy = "auth_then_entry"
	SeedAuthOnly      SeedPolicy = "auth_only"
	SeedEntryOnly     SeedPolicy = "entry_only"
	// SeedBoth uses the union of authentication seeds and entry pages.
	SeedBoth SeedPolicy = "both"
)

// Valid reports whether p is a known policy.
func (p SeedPolicy) Valid() bool {
	switch p {
	case SeedAuthThenEntry, SeedAuthOnly, SeedEntryOnly, SeedBoth:
		return true
	}
	return false
}

// DefaultAuthKeywords mark a form submission as an authentication step.
var DefaultAuthKeywords = []string{"login", "log_in", "signin", "sign_in", "auth", "signup", "register"}

// Config bounds and tunes journey discovery.
type Config struct {
	// MaxDepthLimit caps the maxDepth argument of FindFlowPaths.
	MaxDepthLimit int `yaml:"max_depth_limit" json:"max_depth_limit"`
	// MaxExploredPaths caps the number of paths or journeys one call returns.
	MaxExploredPaths int `yaml:"max_explored_paths" json:"max_explored_paths"`
	// MaxExpansions caps the number of edges one call may follow.
	MaxExpansions int `yaml:"max_expansions" json:"max_expansions"`
	// MaxJourneyDepth is the edge count at which a critical journey stops.
	MaxJourneyDepth int `yaml:"max_journey_depth" json:"max_journey_depth"`
	// PriorityThreshold is the score from which a flow qualifies for a
	// journey. Nil means 70; 0 lets every flow qualify.
	PriorityThreshold *int       `yaml:"priority_threshold" json:"priority_threshold"`
	SeedPolicy        SeedPolicy `yaml:"seed_policy" json:"seed_policy"`
	AuthKeywords      []string   `yaml:"auth_keywords" json:"auth_keywords"`
	// Dedupe drops journeys contained in another returned journey.
	// Nil means true.
	Dedupe *bool `yaml:"dedupe" json:"dedupe"`
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	var c Config
	c.defaults()
	return c
}

func (c *Config) defaults() {
	if c.MaxDepthLimit <= 0 {
		c.MaxDepthLimit = 50
	}
	if c.MaxExploredPaths <= 0 {
		c.MaxExploredPaths = 10000
	}
	if c.MaxExpansions <= 0 {
		c.MaxExpansions = 1_000_000
	}
	if c.MaxJourneyDepth <= 0 {
		c.MaxJourneyDepth = 5
	}
	threshold := 70
	if c.PriorityThreshold != nil {
		threshold = flowgraph.ClampScore(*c.PriorityThreshold)
	}
	c.PriorityThreshold = &threshold
	if !c.SeedPolicy.Valid() {
		c.SeedPolicy = SeedAuthThenEntry
	}
	if len(c.AuthKeywords) == 0 {
		c.AuthKeywords = DefaultAuthKeywords
	}
	kw := make([]string, 0, len(c.AuthKeywords))
	for _, k := range c.AuthKeywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			kw = append(kw, k)
		}
	}
	c.AuthKeywords = kw
	if c.Dedupe == nil {
		on := true
		c.Dedupe = &on
	}
}
