package database

// Migration represents a database migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// migrations contains all database migrations in order
var migrations = []Migration{
	{
		Version: "001_init",
		Up: `
-- Backup destinations (local paths and remote services)
CREATE TABLE destinations (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    type TEXT NOT NULL,
    enabled BOOLEAN NOT NULL DEFAULT 1,
    path TEXT NOT NULL DEFAULT '',
    credentials TEXT NOT NULL DEFAULT '{}',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX idx_destinations_enabled ON destinations(enabled);

-- Append-only ledger of produced archives, consumed by the retention pruner
CREATE TABLE manifest_entries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    schedule_id TEXT NOT NULL,
    account TEXT NOT NULL,
    filename TEXT NOT NULL,
    db_filename TEXT NOT NULL DEFAULT '',
    size_bytes INTEGER NOT NULL DEFAULT 0,
    destination_id TEXT NOT NULL,
    retention_count INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX idx_manifest_schedule_account ON manifest_entries(schedule_id, account);
CREATE INDEX idx_manifest_destination ON manifest_entries(destination_id);

-- Durable audit trail of every backup/restore attempt
CREATE TABLE operation_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
    user TEXT NOT NULL,
    operation TEXT NOT NULL,
    accounts TEXT NOT NULL DEFAULT '[]',
    success BOOLEAN NOT NULL,
    detail TEXT NOT NULL DEFAULT '',
    requestor TEXT NOT NULL DEFAULT '',
    job_id TEXT NOT NULL DEFAULT ''
);

CREATE INDEX idx_operation_log_user ON operation_log(user);
CREATE INDEX idx_operation_log_timestamp ON operation_log(timestamp);

-- Pending cancellation requests keyed by job id
CREATE TABLE job_cancellations (
    job_id TEXT PRIMARY KEY,
    requested_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`,
		Down: `
DROP TABLE job_cancellations;
DROP TABLE operation_log;
DROP TABLE manifest_entries;
DROP TABLE destinations;
`,
	},
}
