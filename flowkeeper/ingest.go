package flowkeeper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/flowkeeper/fingerprint"
	"github.com/hazyhaar/flowkeeper/flowgraph"
	"github.com/hazyhaar/flowkeeper/idgen"
)

// CrawledPage is one page as reported by the crawler driver.
type CrawledPage struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
	// Elements are descriptors extracted by the driver.
	Elements []fingerprint.ElementDescriptor `json:"elements,omitempty"`
	// HTML, when set, is parsed for further interactive elements.
	HTML         string       `json:"html,omitempty"`
	Transitions  []Transition `json:"transitions,omitempty"`
	DiscoveredAt time.Time    `json:"discovered_at,omitzero"`
}

// Transition is an interaction observed to lead from the page to another.
type Transition struct {
	TargetPageID    string `json:"target_page_id"`
	InteractionType string `json:"interaction_type"`
	FormSubmission  bool   `json:"form_submission,omitempty"`
	CriticalJourney bool   `json:"critical_journey,omitempty"`
	// TriggerSelector locates the element that was interacted with. It is
	// resolved to a fingerprint of the same page when possible.
	TriggerSelector string `json:"trigger_selector,omitempty"`
	Description     string `json:"description,omitempty"`
}

// RecordResult reports what one page contributed.
type RecordResult struct {
	PageID             string   `json:"page_id"`
	Fingerprints       int      `json:"fingerprints"`
	FlowIDs            []string `json:"flow_ids"`
	SkippedTransitions int      `json:"skipped_transitions,omitempty"`
}

// RecordPage fingerprints the page's elements and saves its transitions as
// flows. Re-recording a page updates the same fingerprints and flows: IDs
// are derived from the page and the element or transition.
func (k *Keeper) RecordPage(ctx context.Context, p CrawledPage) (RecordResult, error) {
	if err := ctx.Err(); err != nil {
		return RecordResult{}, err
	}
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		return RecordResult{}, fmt.Errorf("%w: missing id (url %q)", ErrInvalidPage, p.URL)
	}
	now := k.now()
	if p.DiscoveredAt.IsZero() {
		p.DiscoveredAt = now
	}

	descs := p.Elements
	if p.HTML != "" {
		parsed, err := fingerprint.ParseHTML([]byte(p.HTML), p.ID)
		if err != nil {
			return RecordResult{}, fmt.Errorf("flowkeeper: page %s: %w", p.ID, err)
		}
		descs = append(descs[:len(descs):len(descs)], parsed...)
	}

	res := RecordResult{PageID: p.ID, FlowIDs: []string{}}
	bySelector := make(map[string]string, len(descs))
	fpIDs := make([]string, 0, len(descs))
	for _, d := range descs {
		if d.PageID == "" {
			d.PageID = p.ID
		}
		fp := fingerprint.Build(d, now)
		if fp.IsEmpty() {
			continue
		}
		if err := k.fps.Update(fp); err != nil {
			return res, fmt.Errorf("flowkeeper: page %s: %w", p.ID, err)
		}
		fpIDs = append(fpIDs, fp.ID)
		if fp.Selector != "" {
			bySelector[fp.Selector] = fp.ID
		}
		if fp.ElementID != "" {
			bySelector["#"+fp.ElementID] = fp.ID
		}
	}
	res.Fingerprints = len(fpIDs)

	if _, err := k.flows.SavePage(flowgraph.Page{
		ID:             p.ID,
		URL:            p.URL,
		Title:          p.Title,
		FingerprintIDs: fpIDs,
		DiscoveredAt:   p.DiscoveredAt,
	}); err != nil {
		return res, fmt.Errorf("flowkeeper: page %s: %w", p.ID, err)
	}

	for _, t := range p.Transitions {
		f := flowgraph.UserFlow{
			ID:              idgen.Derive("flow_", p.ID, t.TargetPageID, t.InteractionType, t.TriggerSelector),
			SourcePageID:    p.ID,
			TargetPageID:    t.TargetPageID,
			InteractionType: t.InteractionType,
			FormSubmission:  t.FormSubmission || t.InteractionType == flowgraph.InteractionFormSubmit,
			CriticalJourney: t.CriticalJourney,
			DiscoveredAt:    p.DiscoveredAt,
			Trigger:         bySelector[t.TriggerSelector],
			Description:     t.Description,
		}
		saved, err := k.flows.UpsertFlow(f, keepRecorded)
		if err != nil {
			k.logger.Warn("flowkeeper: transition skipped",
				"page_id", p.ID, "target", t.TargetPageID, "error", err)
			k.metrics.TransitionsSkipped.Inc()
			res.SkippedTransitions++
			continue
		}
		res.FlowIDs = append(res.FlowIDs, saved.ID)
	}

	k.metrics.PagesRecorded.Inc()
	k.metrics.FlowsRecorded.Add(float64(len(res.FlowIDs)))
	k.logger.Debug("flowkeeper: page recorded",
		"page_id", p.ID, "fingerprints", res.Fingerprints, "flows", len(res.FlowIDs))
	return res, nil
}

// keepRecorded keeps what a human or an earlier crawl set on a re-crawled
// flow: verification, the critical mark and the first discovery time.
func keepRecorded(old, f flowgraph.UserFlow) flowgraph.UserFlow {
	f.Verified = old.Verified
	f.CriticalJourney = f.CriticalJourney || old.CriticalJourney
	f.DiscoveredAt = old.DiscoveredAt
	return f
}

// RecordPages records pages concurrently with at most Ingest.Workers in
// flight. Results are in input order. The first error cancels the pages not
// yet started.
func (k *Keeper) RecordPages(ctx context.Context, pages []CrawledPage) ([]RecordResult, error) {
	results := make([]RecordResult, len(pages))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(k.config.Ingest.Workers)
	for i, p := range pages {
		g.Go(func() error {
			res, err := k.RecordPage(ctx, p)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	k.logger.Info("flowkeeper: pages recorded", "pages", len(pages))
	return results, nil
}
