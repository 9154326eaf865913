package snapshot

// Schema contains the DDL for the snapshot tables. Timestamps are unix
// milliseconds.
const Schema = `
-- Element fingerprints
CREATE TABLE IF NOT EXISTS fingerprints (
    id           TEXT PRIMARY KEY,
    element_id   TEXT NOT NULL DEFAULT '',
    element_type TEXT NOT NULL DEFAULT '',
    element_text TEXT NOT NULL DEFAULT '',
    attributes   TEXT NOT NULL DEFAULT '{}',
    page_id      TEXT NOT NULL DEFAULT '',
    selector     TEXT NOT NULL DEFAULT '',
    last_seen    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fingerprints_page ON fingerprints(page_id);

-- Crawled pages
CREATE TABLE IF NOT EXISTS pages (
    id              TEXT PRIMARY KEY,
    url             TEXT NOT NULL DEFAULT '',
    title           TEXT NOT NULL DEFAULT '',
    fingerprint_ids TEXT NOT NULL DEFAULT '[]',
    discovered_at   INTEGER NOT NULL
);

-- Flow graph edges
CREATE TABLE IF NOT EXISTS flows (
    id               TEXT PRIMARY KEY,
    source_page_id   TEXT NOT NULL,
    target_page_id   TEXT NOT NULL,
    interaction_type TEXT NOT NULL DEFAULT '',
    form_submission  INTEGER NOT NULL DEFAULT 0,
    critical_journey INTEGER NOT NULL DEFAULT 0,
    verified         INTEGER NOT NULL DEFAULT 0,
    priority_score   INTEGER NOT NULL DEFAULT 0,
    trigger_id       TEXT NOT NULL DEFAULT '',
    description      TEXT NOT NULL DEFAULT '',
    discovered_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_flows_source ON flows(source_page_id);
CREATE INDEX IF NOT EXISTS idx_flows_target ON flows(target_page_id);

-- One row per completed save
CREATE TABLE IF NOT EXISTS snapshot_meta (
    id           INTEGER PRIMARY KEY CHECK (id = 1),
    saved_at     INTEGER NOT NULL,
    fingerprints INTEGER NOT NULL,
    pages        INTEGER NOT NULL,
    flows        INTEGER NOT NULL
);
`
