// Copyright 2025 Mediamirror Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"database/sql"
	"fmt"
	"strings"
)

const SchemaVersion = "1"

// Default busy_timeout in milliseconds (30 seconds)
const DefaultBusyTimeout = 30000

// SnapshotGenerations is the number of snapshot generations retained per
// (population, project) pair. Two are required for incremental diffs.
const SnapshotGenerations = 2

// BuildDSN builds the SQLite DSN for the state database.
func BuildDSN(path string) string {
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d",
		path, DefaultBusyTimeout)
}

// Schema SQL for the sync state database
const stateSchema = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Remote listing snapshots, two generations retained per pair
CREATE TABLE IF NOT EXISTS snapshots (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    project TEXT NOT NULL,
    population TEXT NOT NULL,
    captured_at INTEGER NOT NULL,
    file_count INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_pair ON snapshots(project, population, seq DESC);

CREATE TABLE IF NOT EXISTS snapshot_files (
    snapshot_seq INTEGER NOT NULL,
    rel_path TEXT NOT NULL,
    size INTEGER NOT NULL DEFAULT 0,
    remote_timestamp INTEGER,
    PRIMARY KEY (snapshot_seq, rel_path)
);

-- Monotonic run counter, one row per attempted sync run
CREATE TABLE IF NOT EXISTS sync_runs (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL UNIQUE,
    project TEXT NOT NULL,
    mode TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    finished_at INTEGER,
    added INTEGER NOT NULL DEFAULT 0,
    removed INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_project ON sync_runs(project, seq DESC);

-- Per-file retry state, survives process restarts
CREATE TABLE IF NOT EXISTS retry_ledger (
    project TEXT NOT NULL,
    population TEXT NOT NULL,
    rel_path TEXT NOT NULL,
    consecutive_failures INTEGER NOT NULL DEFAULT 0,
    nonexistent_failures INTEGER NOT NULL DEFAULT 0,
    last_attempt_at INTEGER NOT NULL,
    last_failed_run INTEGER NOT NULL,
    suppressed_until_run INTEGER,
    PRIMARY KEY (project, population, rel_path)
);

-- Run checkpoints; items are marked done one by one and the whole
-- checkpoint is deleted on clean completion
CREATE TABLE IF NOT EXISTS checkpoints (
    run_id TEXT PRIMARY KEY,
    project TEXT NOT NULL,
    mode TEXT NOT NULL,
    run_seq INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_project ON checkpoints(project);

CREATE TABLE IF NOT EXISTS checkpoint_items (
    run_id TEXT NOT NULL,
    population TEXT NOT NULL,
    rel_path TEXT NOT NULL,
    action TEXT NOT NULL CHECK (action IN ('download', 'delete')),
    size INTEGER NOT NULL DEFAULT 0,
    remote_timestamp INTEGER,
    done INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, population, rel_path, action)
);

-- Persisted local inventory, the cheap reconstruction path
CREATE TABLE IF NOT EXISTS local_inventory (
    project TEXT NOT NULL,
    rel_path TEXT NOT NULL,
    population TEXT NOT NULL DEFAULT '',
    present INTEGER NOT NULL DEFAULT 1,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (project, rel_path)
);
`

const initState = `
INSERT OR IGNORE INTO schema_info (key, value) VALUES ('version', ?);
INSERT OR IGNORE INTO schema_info (key, value) VALUES ('type', 'mediamirror-state');
INSERT OR IGNORE INTO schema_info (key, value) VALUES ('created_at', datetime('now'));
`

// execStatements executes multiple SQL statements separated by semicolons.
// libsql driver doesn't support multi-statement Exec, so we split and execute individually.
func execStatements(db *sql.DB, sqlScript string, args ...interface{}) error {
	statements := splitStatements(sqlScript)
	argIdx := 0
	for _, stmt := range statements {
		if stmt == "" {
			continue
		}
		placeholders := strings.Count(stmt, "?")
		stmtArgs := args[argIdx : argIdx+placeholders]
		argIdx += placeholders
		if _, err := db.Exec(stmt, stmtArgs...); err != nil {
			return err
		}
	}
	return nil
}

// splitStatements splits a SQL script into individual statements
func splitStatements(script string) []string {
	var statements []string
	var current strings.Builder

	lines := strings.Split(script, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			statements = append(statements, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}
	if current.Len() > 0 {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}
