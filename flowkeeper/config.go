package flowkeeper

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/flowkeeper/fingerprint"
	"github.com/hazyhaar/flowkeeper/flowgraph"
	"github.com/hazyhaar/flowkeeper/journey"
)

// Config holds all flowkeeper configuration.
type Config struct {
	DBPath     string                 `yaml:"db_path"`
	ListenAddr string                 `yaml:"listen_addr"`
	Match      MatchConfig            `yaml:"match"`
	Scoring    ScoringConfig          `yaml:"scoring"`
	Journey    journey.Config         `yaml:"journey"`
	Snapshot   SnapshotConfig         `yaml:"snapshot"`
	Ingest     IngestConfig           `yaml:"ingest"`
}

// MatchConfig controls fingerprint matching.
type MatchConfig struct {
	Weights fingerprint.Weights `yaml:"weights"`
	// MinConfidence is the healing threshold when a request sets none.
	MinConfidence float64 `yaml:"min_confidence"`
}

// ScoringConfig sets the priority scorer weights. Nil fields take the stock
// value; an explicit 0 disables a bonus.
type ScoringConfig struct {
	Base            *int `yaml:"base"`
	FormSubmission  *int `yaml:"form_submission"`
	CriticalJourney *int `yaml:"critical_journey"`
	Verified        *int `yaml:"verified"`
	// Interaction replaces the stock per-type bonuses when set.
	Interaction map[string]int `yaml:"interaction"`
}

// Weights resolves the configured weights against the stock ones.
func (c ScoringConfig) Weights() flowgraph.ScoreWeights {
	w := flowgraph.DefaultScoreWeights()
	set := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}
	set(&w.Base, c.Base)
	set(&w.FormSubmission, c.FormSubmission)
	set(&w.CriticalJourney, c.CriticalJourney)
	set(&w.Verified, c.Verified)
	if c.Interaction != nil {
		w.Interaction = c.Interaction
	}
	return w
}

// SnapshotConfig controls SQLite persistence.
type SnapshotConfig struct {
	// Enabled defaults to true.
	Enabled  *bool         `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	// Restore loads the last snapshot at startup. Defaults to true.
	Restore *bool `yaml:"restore"`
}

// IngestConfig controls crawl ingestion.
type IngestConfig struct {
	// Workers bounds RecordPages concurrency.
	Workers int `yaml:"workers"`
}

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = "flowkeeper.db"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8087"
	}
	if c.Match.Weights == (fingerprint.Weights{}) {
		c.Match.Weights = fingerprint.DefaultWeights()
	}
	if c.Match.MinConfidence <= 0 || c.Match.MinConfidence > 1 {
		c.Match.MinConfidence = 0.7
	}

	if c.Snapshot.Enabled == nil {
		on := true
		c.Snapshot.Enabled = &on
	}
	if c.Snapshot.Restore == nil {
		on := true
		c.Snapshot.Restore = &on
	}
	if c.Snapshot.Interval <= 0 {
		c.Snapshot.Interval = time.Minute
	}
	if c.Ingest.Workers <= 0 {
		c.Ingest.Workers = 4
	}
}

func (c *Config) validate() error {
	if c.Journey.SeedPolicy != "" && !c.Journey.SeedPolicy.Valid() {
		return fmt.Errorf("flowkeeper: unknown journey seed_policy %q", c.Journey.SeedPolicy)
	}
	return nil
}

// LoadConfigFile reads a YAML config file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
