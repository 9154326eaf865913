package flowgraph

import "errors"

var (
	// ErrInvalidFlow is returned by SaveFlow for a flow missing an endpoint.
	ErrInvalidFlow = errors.New("flowgraph: invalid flow")

	// ErrFlowNotFound is returned by explicit mutations on an unknown flow.
	ErrFlowNotFound = errors.New("flowgraph: flow not found")

	// ErrMissingPageID is returned by SavePage for a page without an ID.
	ErrMissingPageID = errors.New("flowgraph: missing page id")
)
