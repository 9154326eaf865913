package flowkeeper

import (
	"fmt"

	"github.com/hazyhaar/flowkeeper/fingerprint"
)

// HealRequest describes an element whose recorded locator stopped working.
// Either FingerprintID names a stored fingerprint, or Target describes the
// element as it was last known.
type HealRequest struct {
	FingerprintID string                  `json:"fingerprint_id,omitempty"`
	Target        fingerprint.Fingerprint `json:"target,omitzero"`
	// PageID restricts candidates to one page.
	PageID string `json:"page_id,omitempty"`
	// MinConfidence defaults to Match.MinConfidence.
	MinConfidence float64 `json:"min_confidence,omitempty"`
	// Limit caps Candidates. Default 5.
	Limit int `json:"limit,omitempty"`
}

// HealResult holds the best replacement, if any, and the runners-up.
type HealResult struct {
	Best       *fingerprint.Match  `json:"best,omitempty"`
	Candidates []fingerprint.Match `json:"candidates"`
}

// Heal looks for the known elements most similar to the request's target.
// The target's own fingerprint is never proposed. An empty target yields no
// candidates.
func (k *Keeper) Heal(req HealRequest) (HealResult, error) {
	target := req.Target
	if req.FingerprintID != "" {
		f, ok := k.fps.FindByID(req.FingerprintID)
		if !ok {
			return HealResult{}, fmt.Errorf("%w: %s", ErrUnknownFingerprint, req.FingerprintID)
		}
		target = f
	}
	minConf := req.MinConfidence
	if minConf <= 0 {
		minConf = k.config.Match.MinConfidence
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 5
	}

	res := HealResult{Candidates: []fingerprint.Match{}}
	for _, m := range k.fps.FindSimilar(target, minConf) {
		if target.ID != "" && m.Fingerprint.ID == target.ID {
			continue
		}
		if req.PageID != "" && m.Fingerprint.PageID != req.PageID {
			continue
		}
		res.Candidates = append(res.Candidates, m)
		if len(res.Candidates) == limit {
			break
		}
	}

	if len(res.Candidates) > 0 {
		best := res.Candidates[0]
		res.Best = &best
		k.metrics.HealRequests.WithLabelValues("matched").Inc()
	} else {
		k.metrics.HealRequests.WithLabelValues("unmatched").Inc()
	}
	k.logger.Debug("flowkeeper: heal",
		"target", target.ID, "candidates", len(res.Candidates), "min_confidence", minConf)
	return res, nil
}
