// Package snapshot persists the in-memory stores to SQLite on a schedule and
// restores them at startup.
//
// A save replaces the previous snapshot in a single transaction, so the
// database always holds one complete, consistent-per-store image. The stores
// never wait on the database: Save copies them under their own read locks
// and writes afterwards.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/flowkeeper/dbopen"
	"github.com/hazyhaar/flowkeeper/fingerprint"
	"github.com/hazyhaar/flowkeeper/flowgraph"
)

// FingerprintStore is the part of fingerprint.Store the snapshotter uses.
type FingerprintStore interface {
	All() []fingerprint.Fingerprint
	Add(fingerprint.Fingerprint) error
}

// FlowStore is the part of flowgraph.Store the snapshotter uses.
type FlowStore interface {
	GetAllFlows() []flowgraph.UserFlow
	GetAllPages() []flowgraph.Page
	LoadFlow(flowgraph.UserFlow) (flowgraph.UserFlow, error)
	SavePage(flowgraph.Page) (flowgraph.Page, error)
}

// Stats counts the rows written or read by one operation.
type Stats struct {
	Fingerprints int       `json:"fingerprints"`
	Pages        int       `json:"pages"`
	Flows        int       `json:"flows"`
	SavedAt      time.Time `json:"saved_at,omitzero"`
}

// Observer is called after every Save.
type Observer func(st Stats, took time.Duration, err error)

// Snapshotter writes and reads snapshots.
type Snapshotter struct {
	db       *sql.DB
	fps      FingerprintStore
	flows    FlowStore
	interval time.Duration
	observe  Observer
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Snapshotter.
type Option func(*Snapshotter)

// WithInterval sets the period of Run. Default 1 minute.
func WithInterval(d time.Duration) Option { return func(s *Snapshotter) { s.interval = d } }

// WithObserver registers a callback invoked after every Save.
func WithObserver(o Observer) Option { return func(s *Snapshotter) { s.observe = o } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Snapshotter) { s.logger = l } }

// New creates a Snapshotter. db must already carry Schema.
func New(db *sql.DB, fps FingerprintStore, flows FlowStore, opts ...Option) *Snapshotter {
	s := &Snapshotter{
		db:       db,
		fps:      fps,
		flows:    flows,
		interval: time.Minute,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.interval <= 0 {
		s.interval = time.Minute
	}
	return s
}

// Run saves every interval until ctx is cancelled, then saves once more.
// Failures are logged and retried on the next tick.
func (s *Snapshotter) Run(ctx context.Context) {
	s.logger.Info("snapshot: started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final save on a fresh context: ctx is already done.
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			s.saveAndLog(fctx)
			cancel()
			s.logger.Info("snapshot: stopped")
			return
		case <-ticker.C:
			s.saveAndLog(ctx)
		}
	}
}

func (s *Snapshotter) saveAndLog(ctx context.Context) {
	st, err := s.Save(ctx)
	if err != nil {
		s.logger.Warn("snapshot: save failed", "error", err)
		return
	}
	s.logger.Debug("snapshot: saved",
		"fingerprints", st.Fingerprints, "pages", st.Pages, "flows", st.Flows)
}

// Save replaces the stored snapshot with the current store contents.
func (s *Snapshotter) Save(ctx context.Context) (Stats, error) {
	start := time.Now()
	fps := s.fps.All()
	pages := s.flows.GetAllPages()
	flows := s.flows.GetAllFlows()
	st := Stats{Fingerprints: len(fps), Pages: len(pages), Flows: len(flows), SavedAt: s.now()}

	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, table := range []string{"fingerprints", "pages", "flows"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		if err := insertFingerprints(ctx, tx, fps); err != nil {
			return err
		}
		if err := insertPages(ctx, tx, pages); err != nil {
			return err
		}
		if err := insertFlows(ctx, tx, flows); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO snapshot_meta (id, saved_at, fingerprints, pages, flows) VALUES (1, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET saved_at = excluded.saved_at,
			   fingerprints = excluded.fingerprints, pages = excluded.pages, flows = excluded.flows`,
			st.SavedAt.UnixMilli(), st.Fingerprints, st.Pages, st.Flows)
		return err
	})
	if err != nil {
		err = fmt.Errorf("snapshot: save: %w", err)
	}
	if s.observe != nil {
		s.observe(st, time.Since(start), err)
	}
	if err != nil {
		return Stats{}, err
	}
	return st, nil
}

// Last returns the stats of the most recent save. ok is false when nothing
// was ever saved.
func (s *Snapshotter) Last(ctx context.Context) (st Stats, ok bool, err error) {
	var savedAt int64
	err = s.db.QueryRowContext(ctx,
		`SELECT saved_at, fingerprints, pages, flows FROM snapshot_meta WHERE id = 1`,
	).Scan(&savedAt, &st.Fingerprints, &st.Pages, &st.Flows)
	if err == sql.ErrNoRows {
		return Stats{}, false, nil
	}
	if err != nil {
		return Stats{}, false, fmt.Errorf("snapshot: last: %w", err)
	}
	st.SavedAt = time.UnixMilli(savedAt)
	return st, true, nil
}

// Restore loads the stored snapshot into the stores. Existing entries with
// the same IDs are replaced; others are kept.
func (s *Snapshotter) Restore(ctx context.Context) (Stats, error) {
	var st Stats

	fps, err := s.readFingerprints(ctx)
	if err != nil {
		return st, err
	}
	for _, f := range fps {
		if err := s.fps.Add(f); err != nil {
			return st, fmt.Errorf("snapshot: restore fingerprint %s: %w", f.ID, err)
		}
		st.Fingerprints++
	}

	pages, err := s.readPages(ctx)
	if err != nil {
		return st, err
	}
	for _, p := range pages {
		if _, err := s.flows.SavePage(p); err != nil {
			return st, fmt.Errorf("snapshot: restore page %s: %w", p.ID, err)
		}
		st.Pages++
	}

	flows, err := s.readFlows(ctx)
	if err != nil {
		return st, err
	}
	for _, f := range flows {
		if _, err := s.flows.LoadFlow(f); err != nil {
			return st, fmt.Errorf("snapshot: restore flow %s: %w", f.ID, err)
		}
		st.Flows++
	}

	s.logger.Info("snapshot: restored",
		"fingerprints", st.Fingerprints, "pages", st.Pages, "flows", st.Flows)
	return st, nil
}

func insertFingerprints(ctx context.Context, tx *sql.Tx, fps []fingerprint.Fingerprint) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO fingerprints (id, element_id, element_type, element_text, attributes, page_id, selector, last_seen)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare fingerprints: %w", err)
	}
	defer stmt.Close()

	for _, f := range fps {
		attrs, err := json.Marshal(f.Attributes)
		if err != nil {
			return fmt.Errorf("marshal attributes %s: %w", f.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, f.ID, f.ElementID, f.ElementType, f.ElementText,
			string(attrs), f.PageID, f.Selector, f.LastSeen.UnixMilli()); err != nil {
			return fmt.Errorf("insert fingerprint %s: %w", f.ID, err)
		}
	}
	return nil
}

func insertPages(ctx context.Context, tx *sql.Tx, pages []flowgraph.Page) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO pages (id, url, title, fingerprint_ids, discovered_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare pages: %w", err)
	}
	defer stmt.Close()

	for _, p := range pages {
		ids, err := json.Marshal(p.FingerprintIDs)
		if err != nil {
			return fmt.Errorf("marshal fingerprint ids %s: %w", p.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, p.ID, p.URL, p.Title, string(ids), p.DiscoveredAt.UnixMilli()); err != nil {
			return fmt.Errorf("insert page %s: %w", p.ID, err)
		}
	}
	return nil
}

func insertFlows(ctx context.Context, tx *sql.Tx, flows []flowgraph.UserFlow) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO flows (id, source_page_id, target_page_id, interaction_type, form_submission,
		   critical_journey, verified, priority_score, trigger_id, description, discovered_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare flows: %w", err)
	}
	defer stmt.Close()

	for _, f := range flows {
		if _, err := stmt.ExecContext(ctx, f.ID, f.SourcePageID, f.TargetPageID, f.InteractionType,
			boolInt(f.FormSubmission), boolInt(f.CriticalJourney), boolInt(f.Verified),
			f.PriorityScore, f.Trigger, f.Description, f.DiscoveredAt.UnixMilli()); err != nil {
			return fmt.Errorf("insert flow %s: %w", f.ID, err)
		}
	}
	return nil
}

func (s *Snapshotter) readFingerprints(ctx context.Context) ([]fingerprint.Fingerprint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, element_id, element_type, element_text, attributes, page_id, selector, last_seen
		 FROM fingerprints ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("snapshot: read fingerprints: %w", err)
	}
	defer rows.Close()

	var out []fingerprint.Fingerprint
	for rows.Next() {
		var (
			f        fingerprint.Fingerprint
			attrs    string
			lastSeen int64
		)
		if err := rows.Scan(&f.ID, &f.ElementID, &f.ElementType, &f.ElementText,
			&attrs, &f.PageID, &f.Selector, &lastSeen); err != nil {
			return nil, fmt.Errorf("snapshot: scan fingerprint: %w", err)
		}
		if err := json.Unmarshal([]byte(attrs), &f.Attributes); err != nil {
			return nil, fmt.Errorf("snapshot: attributes of %s: %w", f.ID, err)
		}
		f.LastSeen = time.UnixMilli(lastSeen)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Snapshotter) readPages(ctx context.Context) ([]flowgraph.Page, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, title, fingerprint_ids, discovered_at FROM pages ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("snapshot: read pages: %w", err)
	}
	defer rows.Close()

	var out []flowgraph.Page
	for rows.Next() {
		var (
			p          flowgraph.Page
			ids        string
			discovered int64
		)
		if err := rows.Scan(&p.ID, &p.URL, &p.Title, &ids, &discovered); err != nil {
			return nil, fmt.Errorf("snapshot: scan page: %w", err)
		}
		if err := json.Unmarshal([]byte(ids), &p.FingerprintIDs); err != nil {
			return nil, fmt.Errorf("snapshot: fingerprint ids of %s: %w", p.ID, err)
		}
		p.DiscoveredAt = time.UnixMilli(discovered)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Snapshotter) readFlows(ctx context.Context) ([]flowgraph.UserFlow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_page_id, target_page_id, interaction_type, form_submission,
		   critical_journey, verified, priority_score, trigger_id, description, discovered_at
		 FROM flows ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("snapshot: read flows: %w", err)
	}
	defer rows.Close()

	var out []flowgraph.UserFlow
	for rows.Next() {
		var (
			f                    flowgraph.UserFlow
			form, crit, verified int
			discovered           int64
		)
		if err := rows.Scan(&f.ID, &f.SourcePageID, &f.TargetPageID, &f.InteractionType,
			&form, &crit, &verified, &f.PriorityScore, &f.Trigger, &f.Description, &discovered); err != nil {
			return nil, fmt.Errorf("snapshot: scan flow: %w", err)
		}
		f.FormSubmission = form != 0
		f.CriticalJourney = crit != 0
		f.Verified = verified != 0
		f.DiscoveredAt = time.UnixMilli(discovered)
		out = append(out, f)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
