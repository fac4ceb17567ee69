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
	"time"

	"github.com/uptrace/bun"
)

// Bun ORM models for the sync state database tables.

// SchemaInfoModel represents the schema_info table
type SchemaInfoModel struct {
	bun.BaseModel `bun:"table:schema_info"`

	Key   string `bun:"key,pk"`
	Value string `bun:"value,notnull"`
}

// SnapshotModel represents the snapshots table
type SnapshotModel struct {
	bun.BaseModel `bun:"table:snapshots"`

	Seq        int64  `bun:"seq,pk,autoincrement"`
	ID         string `bun:"id,notnull"`
	Project    string `bun:"project,notnull"`
	Population string `bun:"population,notnull"`
	CapturedAt int64  `bun:"captured_at,notnull"` // Unix timestamp
	FileCount  int64  `bun:"file_count,notnull"`
}

// SnapshotFileModel represents the snapshot_files table
type SnapshotFileModel struct {
	bun.BaseModel `bun:"table:snapshot_files"`

	SnapshotSeq     int64  `bun:"snapshot_seq,pk"`
	RelPath         string `bun:"rel_path,pk"`
	Size            int64  `bun:"size,notnull"`
	RemoteTimestamp *int64 `bun:"remote_timestamp"` // nil for the foreign-repo population
}

// ToFileRecord converts a SnapshotFileModel to a FileRecord.
func (m *SnapshotFileModel) ToFileRecord(project string, pop Population) FileRecord {
	rec := FileRecord{
		Project:    project,
		Population: pop,
		RelPath:    m.RelPath,
		Size:       m.Size,
	}
	if m.RemoteTimestamp != nil {
		rec.Timestamp = time.Unix(*m.RemoteTimestamp, 0).UTC()
	}
	return rec
}

// SyncRunModel represents the sync_runs table
type SyncRunModel struct {
	bun.BaseModel `bun:"table:sync_runs"`

	Seq        int64  `bun:"seq,pk,autoincrement"`
	RunID      string `bun:"run_id,notnull"`
	Project    string `bun:"project,notnull"`
	Mode       string `bun:"mode,notnull"`
	StartedAt  int64  `bun:"started_at,notnull"`
	FinishedAt *int64 `bun:"finished_at"`
	Added      int64  `bun:"added,notnull"`
	Removed    int64  `bun:"removed,notnull"`
	Failed     int64  `bun:"failed,notnull"`
}

// RetryModel represents the retry_ledger table
type RetryModel struct {
	bun.BaseModel `bun:"table:retry_ledger"`

	Project             string `bun:"project,pk"`
	Population          string `bun:"population,pk"`
	RelPath             string `bun:"rel_path,pk"`
	ConsecutiveFailures int64  `bun:"consecutive_failures,notnull"`
	NonexistentFailures int64  `bun:"nonexistent_failures,notnull"`
	LastAttemptAt       int64  `bun:"last_attempt_at,notnull"`
	LastFailedRun       int64  `bun:"last_failed_run,notnull"`
	SuppressedUntilRun  *int64 `bun:"suppressed_until_run"`
}

// CheckpointModel represents the checkpoints table
type CheckpointModel struct {
	bun.BaseModel `bun:"table:checkpoints"`

	RunID     string `bun:"run_id,pk"`
	Project   string `bun:"project,notnull"`
	Mode      string `bun:"mode,notnull"`
	RunSeq    int64  `bun:"run_seq,notnull"`
	CreatedAt int64  `bun:"created_at,notnull"`
}

// CheckpointItemModel represents the checkpoint_items table
type CheckpointItemModel struct {
	bun.BaseModel `bun:"table:checkpoint_items"`

	RunID           string `bun:"run_id,pk"`
	Population      string `bun:"population,pk"`
	RelPath         string `bun:"rel_path,pk"`
	Action          string `bun:"action,pk"` // "download" or "delete"
	Size            int64  `bun:"size,notnull"`
	RemoteTimestamp *int64 `bun:"remote_timestamp"`
	Done            int64  `bun:"done,notnull"`
}

// InventoryModel represents the local_inventory table
type InventoryModel struct {
	bun.BaseModel `bun:"table:local_inventory"`

	Project    string `bun:"project,pk"`
	RelPath    string `bun:"rel_path,pk"`
	Population string `bun:"population,notnull"`
	Present    int64  `bun:"present,notnull"`
	UpdatedAt  int64  `bun:"updated_at,notnull"`
}
