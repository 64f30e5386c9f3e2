package observability

import "database/sql"

// Schema contains the DDL for the delivery log and heartbeats.
const Schema = `
CREATE TABLE IF NOT EXISTS delivery_log (
    delivery_id TEXT PRIMARY KEY,
    url TEXT NOT NULL,
    channel_id TEXT NOT NULL,
    requester_id TEXT NOT NULL,
    requester_name TEXT,
    outcome TEXT NOT NULL,
    final_state TEXT NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    reason TEXT,
    notified INTEGER NOT NULL DEFAULT 0,
    started_at INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_delivery_started ON delivery_log(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_delivery_outcome ON delivery_log(outcome, started_at DESC);

CREATE TABLE IF NOT EXISTS heartbeats (
    worker TEXT NOT NULL,
    host TEXT NOT NULL,
    pid INTEGER NOT NULL,
    beat_at INTEGER NOT NULL,
    in_flight INTEGER NOT NULL DEFAULT 0,
    handled INTEGER NOT NULL DEFAULT 0,
    goroutines INTEGER NOT NULL DEFAULT 0,
    heap_mb REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_heartbeats_worker_time ON heartbeats(worker, beat_at DESC);
`

// Init applies the observability schema to the given database.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
