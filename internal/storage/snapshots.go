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
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"mediamirror/internal/common"
)

// RecordSnapshot persists a new remote listing snapshot for a
// (population, project) pair and prunes generations beyond the retained
// window. The insert is a single transaction: a reader never observes a
// half-written snapshot, and nothing is recorded on failure.
func (s *StateDB) RecordSnapshot(ctx context.Context, pop Population, project string, records []FileRecord) (*Snapshot, error) {
	if !pop.Valid() {
		return nil, fmt.Errorf("unknown population %q", pop)
	}

	// Within one snapshot rel_path is unique per population.
	snap := NewSnapshot(pop, project, records)
	snap.ID = uuid.New().String()
	snap.CapturedAt = s.clock.Now().UTC()
	deduped := snap.Records

	err := s.bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		model := &SnapshotModel{
			ID:         snap.ID,
			Project:    project,
			Population: string(pop),
			CapturedAt: snap.CapturedAt.Unix(),
			FileCount:  int64(len(deduped)),
		}
		if _, err := tx.NewInsert().Model(model).Returning("seq").Exec(ctx); err != nil {
			return err
		}
		snap.Seq = model.Seq

		if len(deduped) > 0 {
			files := make([]SnapshotFileModel, 0, len(deduped))
			for _, rec := range deduped {
				fm := SnapshotFileModel{
					SnapshotSeq: model.Seq,
					RelPath:     rec.RelPath,
					Size:        rec.Size,
				}
				if rec.HasTimestamp() {
					ts := rec.Timestamp.Unix()
					fm.RemoteTimestamp = &ts
				}
				files = append(files, fm)
			}
			if _, err := tx.NewInsert().Model(&files).Exec(ctx); err != nil {
				return err
			}
		}

		return pruneSnapshots(ctx, tx, pop, project)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: record snapshot: %v", common.ErrStorageUnavailable, err)
	}
	return snap, nil
}

// pruneSnapshots removes generations beyond SnapshotGenerations for the pair.
func pruneSnapshots(ctx context.Context, tx bun.Tx, pop Population, project string) error {
	var stale []int64
	err := tx.NewRaw(`
		SELECT seq FROM snapshots
		WHERE project = ? AND population = ?
		ORDER BY seq DESC LIMIT -1 OFFSET ?`,
		project, string(pop), SnapshotGenerations).Scan(ctx, &stale)
	if err != nil {
		return err
	}
	for _, seq := range stale {
		if _, err := tx.NewDelete().Model((*SnapshotFileModel)(nil)).Where("snapshot_seq = ?", seq).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().Model((*SnapshotModel)(nil)).Where("seq = ?", seq).Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// LatestSnapshot returns the newest snapshot for the pair, or nil if none
// has been recorded.
func (s *StateDB) LatestSnapshot(ctx context.Context, pop Population, project string) (*Snapshot, error) {
	return s.snapshotAt(ctx, pop, project, 0)
}

// PreviousSnapshot returns the snapshot one generation before the latest,
// or nil if fewer than two generations exist.
func (s *StateDB) PreviousSnapshot(ctx context.Context, pop Population, project string) (*Snapshot, error) {
	return s.snapshotAt(ctx, pop, project, 1)
}

// snapshotAt returns the snapshot `offset` generations behind the newest.
func (s *StateDB) snapshotAt(ctx context.Context, pop Population, project string, offset int) (*Snapshot, error) {
	var model SnapshotModel
	err := s.bun.NewSelect().
		Model(&model).
		Where("project = ?", project).
		Where("population = ?", string(pop)).
		OrderExpr("seq DESC").
		Limit(1).
		Offset(offset).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load snapshot: %v", common.ErrStorageUnavailable, err)
	}

	var files []SnapshotFileModel
	err = s.bun.NewSelect().
		Model(&files).
		Where("snapshot_seq = ?", model.Seq).
		OrderExpr("rel_path ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load snapshot files: %v", common.ErrStorageUnavailable, err)
	}

	snap := &Snapshot{
		ID:         model.ID,
		Project:    model.Project,
		Population: Population(model.Population),
		Seq:        model.Seq,
		CapturedAt: time.Unix(model.CapturedAt, 0).UTC(),
		Records:    make([]FileRecord, 0, len(files)),
	}
	for i := range files {
		snap.Records = append(snap.Records, files[i].ToFileRecord(model.Project, snap.Population))
	}
	return snap, nil
}
