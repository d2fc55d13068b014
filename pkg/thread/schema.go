package thread

// SchemaVersion is the current turns schema version.
const SchemaVersion = 1

// Schema is the SQLite schema for turn storage.
// The (thread_id, seq) primary key makes duplicate sequence numbers within a
// thread impossible at the storage layer, independent of the store's locking.
const Schema = `
CREATE TABLE IF NOT EXISTS turns (
    thread_id  TEXT    NOT NULL,
    seq        INTEGER NOT NULL,
    role       TEXT    NOT NULL,
    content    TEXT    NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (thread_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_turns_thread_created
    ON turns(thread_id, created_at);

CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at INTEGER NOT NULL
);
`

// InsertSchemaVersion records the schema version on first initialization.
const InsertSchemaVersion = `
INSERT OR IGNORE INTO schema_version (version, applied_at)
VALUES (?, strftime('%s', 'now'))
`

// GetSchemaVersion reads the highest applied schema version.
const GetSchemaVersion = `
SELECT COALESCE(MAX(version), 0) FROM schema_version
`
