package flowkeeper

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/flowkeeper/kit"
)

// RegisterMCP registers flowkeeper tools on an MCP server.
func (k *Keeper) RegisterMCP(srv *mcp.Server) {
	ep := k.endpoints()

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "flowkeeper_important_flows",
		Description: "List recorded user flows by descending priority score.",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Max flows (default 20)"},
		}, nil),
	}, ep.importantFlows, kit.DecodeJSON[importantFlowsRequest]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "flowkeeper_critical_journeys",
		Description: "Discover multi-step critical user journeys, starting from login flows or entry pages.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, ep.criticalJourneys, kit.DecodeJSON[criticalJourneysRequest]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "flowkeeper_find_paths",
		Description: "Enumerate every simple path of flows between two pages.",
		InputSchema: inputSchema(map[string]any{
			"from":      map[string]any{"type": "string", "description": "Source page ID"},
			"to":        map[string]any{"type": "string", "description": "Target page ID"},
			"max_depth": map[string]any{"type": "integer", "description": "Max flows per path (default 6)"},
		}, []string{"from", "to"}),
	}, ep.findPaths, kit.DecodeJSON[findPathsRequest]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "flowkeeper_heal",
		Description: "Find the known elements most similar to one whose locator broke.",
		InputSchema: inputSchema(map[string]any{
			"fingerprint_id": map[string]any{"type": "string", "description": "ID of the stored fingerprint to re-locate"},
			"target": map[string]any{
				"type":        "object",
				"description": "Element as last known, when no fingerprint_id is given",
				"properties": map[string]any{
					"id":           map[string]any{"type": "string"},
					"element_id":   map[string]any{"type": "string"},
					"element_type": map[string]any{"type": "string"},
					"element_text": map[string]any{"type": "string"},
					"attributes":   map[string]any{"type": "object", "additionalProperties": map[string]any{"type": "string"}},
				},
			},
			"page_id":        map[string]any{"type": "string", "description": "Restrict candidates to one page"},
			"min_confidence": map[string]any{"type": "number", "description": "Minimum confidence in [0,1]"},
			"limit":          map[string]any{"type": "integer", "description": "Max candidates (default 5)"},
		}, nil),
	}, ep.heal, kit.DecodeJSON[HealRequest]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "flowkeeper_stats",
		Description: "Counts of fingerprints, pages and flows, and the last snapshot.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, ep.stats, kit.DecodeJSON[statsRequest]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "flowkeeper_verify_flow",
		Description: "Mark a flow as human-verified and optionally override its priority.",
		InputSchema: inputSchema(map[string]any{
			"id":             map[string]any{"type": "string", "description": "Flow ID"},
			"verified":       map[string]any{"type": "boolean", "description": "Verified flag (default true)"},
			"priority_score": map[string]any{"type": "integer", "description": "New priority in [0,100]"},
		}, []string{"id"}),
	}, ep.verifyFlow, kit.DecodeJSON[verifyFlowRequest]())
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
