// Package flowkeeper records how the pages of a web application connect and
// answers the questions test tooling asks of that record.
//
// The crawler driver feeds pages in:
//
//	crawler → RecordPage → fingerprint.Store + flowgraph.Store → snapshot (SQLite)
//
// and consumers query out:
//
//	ImportantFlows / CriticalJourneys / FindPaths   test generation
//	Heal                                            broken locators
//
// Usage:
//
//	k, err := flowkeeper.New(cfg, logger)
//	defer k.Close()
//	k.RegisterMCP(mcpServer)
//	http.ListenAndServe(cfg.ListenAddr, k.Handler())
//	k.Start(ctx)
package flowkeeper

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hazyhaar/flowkeeper/dbopen"
	"github.com/hazyhaar/flowkeeper/fingerprint"
	"github.com/hazyhaar/flowkeeper/flowgraph"
	"github.com/hazyhaar/flowkeeper/flowkeeper/internal/snapshot"
	"github.com/hazyhaar/flowkeeper/journey"
)

// Keeper is the main flowkeeper orchestrator.
type Keeper struct {
	fps      *fingerprint.Store
	flows    *flowgraph.Store
	journeys *journey.Engine
	db       *sql.DB
	snap     *snapshot.Snapshotter
	registry *prometheus.Registry
	metrics  *Metrics
	logger   *slog.Logger
	config   *Config
	now      func() time.Time

	stop context.CancelFunc
	done chan struct{}
}

// New creates a Keeper. When snapshots are enabled it opens the SQLite
// database and restores the last snapshot.
func New(cfg *Config, logger *slog.Logger) (*Keeper, error) {
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	flows := flowgraph.NewStore(flowgraph.WithScorer(flowgraph.NewScorer(cfg.Scoring.Weights())))
	k := &Keeper{
		fps:      fingerprint.NewStore(fingerprint.WithWeights(cfg.Match.Weights)),
		flows:    flows,
		journeys: journey.New(flows, cfg.Journey, logger),
		registry: prometheus.NewRegistry(),
		logger:   logger,
		config:   cfg,
		now:      time.Now,
	}
	k.metrics = NewMetrics(k.registry, k)

	if !*cfg.Snapshot.Enabled {
		return k, nil
	}

	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll(), dbopen.WithSchema(snapshot.Schema))
	if err != nil {
		return nil, err
	}
	if cfg.DBPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	k.db = db
	k.snap = snapshot.New(db, k.fps, k.flows,
		snapshot.WithInterval(cfg.Snapshot.Interval),
		snapshot.WithLogger(logger),
		snapshot.WithObserver(func(_ snapshot.Stats, took time.Duration, err error) {
			k.metrics.SnapshotDuration.Observe(took.Seconds())
			if err != nil {
				k.metrics.SnapshotErrors.Inc()
			}
		}),
	)

	if *cfg.Snapshot.Restore {
		if _, err := k.snap.Restore(context.Background()); err != nil {
			db.Close()
			return nil, fmt.Errorf("flowkeeper: restore: %w", err)
		}
	}
	return k, nil
}

// Start launches the periodic snapshot loop. It is a no-op when snapshots
// are disabled.
func (k *Keeper) Start(ctx context.Context) {
	if k.snap == nil || k.done != nil {
		return
	}
	ctx, k.stop = context.WithCancel(ctx)
	k.done = make(chan struct{})
	go func() {
		defer close(k.done)
		k.snap.Run(ctx)
	}()
	k.logger.Info("flowkeeper: started", "db", k.config.DBPath, "snapshot_interval", k.config.Snapshot.Interval)
}

// Close stops the snapshot loop, which saves a last time, and closes the
// database.
func (k *Keeper) Close() error {
	if k.stop != nil {
		k.stop()
		<-k.done
	}
	if k.db != nil {
		return k.db.Close()
	}
	return nil
}

// SaveSnapshot writes a snapshot now.
func (k *Keeper) SaveSnapshot(ctx context.Context) (snapshot.Stats, error) {
	if k.snap == nil {
		return snapshot.Stats{}, fmt.Errorf("flowkeeper: snapshots disabled")
	}
	return k.snap.Save(ctx)
}

// Fingerprints returns the fingerprint store.
func (k *Keeper) Fingerprints() *fingerprint.Store { return k.fps }

// Flows returns the flow graph store.
func (k *Keeper) Flows() *flowgraph.Store { return k.flows }

// Journeys returns the journey engine.
func (k *Keeper) Journeys() *journey.Engine { return k.journeys }

// Registry returns the Prometheus registry holding the keeper's metrics.
func (k *Keeper) Registry() *prometheus.Registry { return k.registry }

// ImportantFlows returns up to limit flows by descending priority.
func (k *Keeper) ImportantFlows(limit int) []flowgraph.UserFlow {
	defer k.metrics.observeQuery("important_flows", time.Now())
	return k.flows.FindImportantFlows(limit)
}

// CriticalJourneys discovers the journeys worth testing first.
func (k *Keeper) CriticalJourneys() []journey.Journey {
	defer k.metrics.observeQuery("critical_journeys", time.Now())
	return k.journeys.FindCriticalJourneys()
}

// FindPaths enumerates the simple paths between two pages.
func (k *Keeper) FindPaths(from, to string, maxDepth int) (journey.PathsResult, error) {
	defer k.metrics.observeQuery("find_paths", time.Now())
	res, err := k.journeys.FindFlowPathsResult(from, to, maxDepth)
	if res.Truncated {
		k.metrics.PathsTruncated.Inc()
	}
	return res, err
}

// VerifyFlow records human confirmation of a flow and optionally overrides
// its priority, in one store mutation.
func (k *Keeper) VerifyFlow(id string, verified bool, priority *int) (flowgraph.UserFlow, error) {
	f, err := k.flows.Update(id, func(f *flowgraph.UserFlow) {
		f.Verified = verified
		if priority != nil {
			f.PriorityScore = *priority
		}
	})
	if err != nil {
		return flowgraph.UserFlow{}, err
	}
	k.logger.Info("flowkeeper: flow verified", "flow_id", id, "verified", verified, "priority", f.PriorityScore)
	return f, nil
}

// Stats summarises the stores.
type Stats struct {
	Fingerprints  int             `json:"fingerprints"`
	Pages         int             `json:"pages"`
	Flows         int             `json:"flows"`
	VerifiedFlows int             `json:"verified_flows"`
	CriticalFlows int             `json:"critical_flows"`
	LastSnapshot  *snapshot.Stats `json:"last_snapshot,omitempty"`
}

// Stats returns store counters and the last snapshot, if any.
func (k *Keeper) Stats(ctx context.Context) (Stats, error) {
	st := Stats{
		Fingerprints: k.fps.Len(),
		Pages:        len(k.flows.GetAllPages()),
	}
	for _, f := range k.flows.GetAllFlows() {
		st.Flows++
		if f.Verified {
			st.VerifiedFlows++
		}
		if f.CriticalJourney {
			st.CriticalFlows++
		}
	}
	if k.snap != nil {
		last, ok, err := k.snap.Last(ctx)
		if err != nil {
			return st, err
		}
		if ok {
			st.LastSnapshot = &last
		}
	}
	return st, nil
}
