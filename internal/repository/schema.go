package repository

// Schema definitions for Kestrel database.
// Compatible with both SQLite and PostgreSQL.

// schemaEvents stores simulated transactions. Timestamps are unix
// nanoseconds so a reloaded dataset is bit-identical to the simulated one.
const schemaEvents = `
CREATE TABLE IF NOT EXISTS events (
    dataset TEXT NOT NULL,
    event_id BIGINT NOT NULL,
    ts_unix_nano BIGINT NOT NULL,
    customer_id BIGINT NOT NULL,
    terminal_id BIGINT NOT NULL,
    amount DOUBLE PRECISION NOT NULL,
    fraud INTEGER NOT NULL DEFAULT 0,
    scenario INTEGER NOT NULL DEFAULT 0,
    time_seconds BIGINT NOT NULL,
    time_days INTEGER NOT NULL,
    PRIMARY KEY (dataset, event_id)
);

CREATE INDEX IF NOT EXISTS idx_events_dataset ON events(dataset);
`

const schemaRuns = `
CREATE TABLE IF NOT EXISTS training_runs (
    id TEXT PRIMARY KEY,
    algorithm TEXT NOT NULL,
    data_source TEXT NOT NULL,
    data_hash TEXT NOT NULL,
    scores TEXT NOT NULL,
    estimator_params TEXT NOT NULL,
    train_rows INTEGER NOT NULL,
    test_rows INTEGER NOT NULL,
    duration_ms BIGINT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_training_runs_algorithm ON training_runs(algorithm);
CREATE INDEX IF NOT EXISTS idx_training_runs_created ON training_runs(created_at);
`

// schemaArtifacts holds the JSON blobs of a trained bundle, one row per
// algorithm and blob kind.
const schemaArtifacts = `
CREATE TABLE IF NOT EXISTS artifacts (
    algorithm TEXT NOT NULL,
    kind TEXT NOT NULL,
    blob TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (algorithm, kind)
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaEvents,
		schemaRuns,
		schemaArtifacts,
	}
}
