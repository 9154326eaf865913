// Package journey enumerates paths and discovers critical user journeys over
// a flow graph.
//
// Every query takes one Snapshot of the graph and works on it alone. Flows
// saved while a query runs are not seen by it; the next query picks them up.
package journey

import (
	"errors"
	"log/slog"
	"slices"
	"strings"

	"github.com/hazyhaar/flowkeeper/flowgraph"
)

// ErrInvalidDepth is returned when a traversal is asked for fewer than one edge.
var ErrInvalidDepth = errors.New("journey: max depth must be at least 1")

// FlowSource provides point-in-time copies of the flow graph.
// *flowgraph.Store implements it.
type FlowSource interface {
	Snapshot() flowgraph.Snapshot
}

// Journey is an ordered sequence of flows where each flow starts on the page
// the previous one ended on.
type Journey struct {
	Flows []flowgraph.UserFlow `json:"flows"`
	Pages []string             `json:"pages"`
}

func newJourney(flows []flowgraph.UserFlow) Journey {
	j := Journey{Flows: slices.Clone(flows)}
	if len(flows) > 0 {
		j.Pages = make([]string, 0, len(flows)+1)
		j.Pages = append(j.Pages, flows[0].SourcePageID)
		for _, f := range flows {
			j.Pages = append(j.Pages, f.TargetPageID)
		}
	}
	return j
}

// Len returns the number of flows (edges) in the journey.
func (j Journey) Len() int { return len(j.Flows) }

// FlowIDs returns the flow IDs in order.
func (j Journey) FlowIDs() []string {
	ids := make([]string, len(j.Flows))
	for i, f := range j.Flows {
		ids[i] = f.ID
	}
	return ids
}

func (j Journey) key() string {
	return strings.Join(j.FlowIDs(), keySep)
}

const keySep = "\x1f"

// Engine runs journey queries against a FlowSource. It holds no traversal
// state between calls and is safe for concurrent use.
type Engine struct {
	src    FlowSource
	cfg    Config
	logger *slog.Logger
}

// New creates an Engine. Zero config fields take their defaults.
func New(src FlowSource, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.defaults()
	return &Engine{src: src, cfg: cfg, logger: logger}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	c := e.cfg
	c.AuthKeywords = slices.Clone(e.cfg.AuthKeywords)
	threshold, dedupe := *e.cfg.PriorityThreshold, *e.cfg.Dedupe
	c.PriorityThreshold, c.Dedupe = &threshold, &dedupe
	return c
}
