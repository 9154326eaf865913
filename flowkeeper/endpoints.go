package flowkeeper

import (
	"context"

	"github.com/hazyhaar/flowkeeper/flowgraph"
	"github.com/hazyhaar/flowkeeper/journey"
	"github.com/hazyhaar/flowkeeper/kit"
)

// Requests shared by the HTTP and MCP surfaces.

type importantFlowsRequest struct {
	Limit int `json:"limit,omitempty"`
}

type criticalJourneysRequest struct{}

type findPathsRequest struct {
	From     string `json:"from"`
	To       string `json:"to"`
	// MaxDepth defaults to 6 when absent; explicit values are validated.
	MaxDepth *int `json:"max_depth,omitempty"`
}

type statsRequest struct{}

type verifyFlowRequest struct {
	ID       string `json:"id"`
	Verified *bool  `json:"verified,omitempty"`
	Priority *int   `json:"priority_score,omitempty"`
}

type flowsResponse struct {
	Flows []flowgraph.UserFlow `json:"flows"`
}

type journeysResponse struct {
	Journeys []journey.Journey `json:"journeys"`
	Count    int               `json:"count"`
}

const (
	defaultImportantLimit = 20
	defaultPathDepth      = 6
)

type endpoints struct {
	importantFlows   kit.Endpoint
	criticalJourneys kit.Endpoint
	findPaths        kit.Endpoint
	heal             kit.Endpoint
	stats            kit.Endpoint
	recordPage       kit.Endpoint
	verifyFlow       kit.Endpoint
}

func (k *Keeper) endpoints() endpoints {
	wrap := func(name string, e kit.Endpoint) kit.Endpoint {
		return kit.Chain(kit.Logging(k.logger, name))(e)
	}
	return endpoints{
		importantFlows: wrap("important_flows", func(_ context.Context, req any) (any, error) {
			r := req.(*importantFlowsRequest)
			limit := r.Limit
			if limit <= 0 {
				limit = defaultImportantLimit
			}
			return flowsResponse{Flows: k.ImportantFlows(limit)}, nil
		}),
		criticalJourneys: wrap("critical_journeys", func(context.Context, any) (any, error) {
			js := k.CriticalJourneys()
			if js == nil {
				js = []journey.Journey{}
			}
			return journeysResponse{Journeys: js, Count: len(js)}, nil
		}),
		findPaths: wrap("find_paths", func(_ context.Context, req any) (any, error) {
			r := req.(*findPathsRequest)
			depth := defaultPathDepth
			if r.MaxDepth != nil {
				depth = *r.MaxDepth
			}
			res, err := k.FindPaths(r.From, r.To, depth)
			if err != nil {
				return nil, err
			}
			if res.Paths == nil {
				res.Paths = []journey.Journey{}
			}
			return res, nil
		}),
		heal: wrap("heal", func(_ context.Context, req any) (any, error) {
			return k.Heal(*req.(*HealRequest))
		}),
		stats: wrap("stats", func(ctx context.Context, _ any) (any, error) {
			return k.Stats(ctx)
		}),
		recordPage: wrap("record_page", func(ctx context.Context, req any) (any, error) {
			return k.RecordPage(ctx, *req.(*CrawledPage))
		}),
		verifyFlow: wrap("verify_flow", func(_ context.Context, req any) (any, error) {
			r := req.(*verifyFlowRequest)
			verified := true
			if r.Verified != nil {
				verified = *r.Verified
			}
			return k.VerifyFlow(r.ID, verified, r.Priority)
		}),
	}
}
