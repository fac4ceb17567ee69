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

	"github.com/uptrace/bun"

	"mediamirror/internal/common"
)

// CheckpointAction is the kind of work a checkpoint item represents.
type CheckpointAction string

const (
	ActionDownload CheckpointAction = "download"
	ActionDelete   CheckpointAction = "delete"
)

// CheckpointItem is one planned unit of work inside a checkpoint.
// Completion is tracked per identity, not by cursor position, because
// downloads complete out of order across workers.
type CheckpointItem struct {
	Record FileRecord
	Action CheckpointAction
	Done   bool
}

// Checkpoint is the durable record of an in-progress run.
type Checkpoint struct {
	RunID     string
	Project   string
	Mode      string
	RunSeq    int64
	CreatedAt time.Time
	Items     []CheckpointItem
}

// Pending returns the items not yet completed.
func (c *Checkpoint) Pending() []CheckpointItem {
	var pending []CheckpointItem
	for _, item := range c.Items {
		if !item.Done {
			pending = append(pending, item)
		}
	}
	return pending
}

// SaveCheckpoint writes a fresh checkpoint with all items pending,
// replacing any earlier checkpoint for the same project. One transaction:
// a resumed run either sees the whole plan or none of it.
func (s *StateDB) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	err := s.bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if err := deleteCheckpointsForProject(ctx, tx, cp.Project); err != nil {
			return err
		}
		model := &CheckpointModel{
			RunID:     cp.RunID,
			Project:   cp.Project,
			Mode:      cp.Mode,
			RunSeq:    cp.RunSeq,
			CreatedAt: s.clock.Now().Unix(),
		}
		if _, err := tx.NewInsert().Model(model).Exec(ctx); err != nil {
			return err
		}
		if len(cp.Items) == 0 {
			return nil
		}
		items := make([]CheckpointItemModel, 0, len(cp.Items))
		for _, item := range cp.Items {
			im := CheckpointItemModel{
				RunID:      cp.RunID,
				Population: string(item.Record.Population),
				RelPath:    item.Record.RelPath,
				Action:     string(item.Action),
				Size:       item.Record.Size,
			}
			if item.Record.HasTimestamp() {
				ts := item.Record.Timestamp.Unix()
				im.RemoteTimestamp = &ts
			}
			if item.Done {
				im.Done = 1
			}
			items = append(items, im)
		}
		_, err := tx.NewInsert().Model(&items).Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: save checkpoint: %v", common.ErrStorageUnavailable, err)
	}
	return nil
}

// MarkItemDone marks one unit of work durably completed. Called after
// every finished download or deletion so an interrupted run resumes
// exactly after the last completed action.
func (s *StateDB) MarkItemDone(ctx context.Context, runID string, rec FileRecord, action CheckpointAction) error {
	_, err := s.bun.NewUpdate().
		Model((*CheckpointItemModel)(nil)).
		Set("done = 1").
		Where("run_id = ?", runID).
		Where("population = ?", string(rec.Population)).
		Where("rel_path = ?", rec.RelPath).
		Where("action = ?", string(action)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: mark item done: %v", common.ErrStorageUnavailable, err)
	}
	return nil
}

// LoadCheckpoint returns the checkpoint for a project, or nil if the last
// run completed cleanly.
func (s *StateDB) LoadCheckpoint(ctx context.Context, project string) (*Checkpoint, error) {
	var model CheckpointModel
	err := s.bun.NewSelect().
		Model(&model).
		Where("project = ?", project).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load checkpoint: %v", common.ErrStorageUnavailable, err)
	}

	var items []CheckpointItemModel
	err = s.bun.NewSelect().
		Model(&items).
		Where("run_id = ?", model.RunID).
		OrderExpr("action ASC, rel_path ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load checkpoint items: %v", common.ErrStorageUnavailable, err)
	}

	cp := &Checkpoint{
		RunID:     model.RunID,
		Project:   model.Project,
		Mode:      model.Mode,
		RunSeq:    model.RunSeq,
		CreatedAt: time.Unix(model.CreatedAt, 0).UTC(),
		Items:     make([]CheckpointItem, 0, len(items)),
	}
	for _, im := range items {
		rec := FileRecord{
			Project:    model.Project,
			Population: Population(im.Population),
			RelPath:    im.RelPath,
			Size:       im.Size,
		}
		if im.RemoteTimestamp != nil {
			rec.Timestamp = time.Unix(*im.RemoteTimestamp, 0).UTC()
		}
		cp.Items = append(cp.Items, CheckpointItem{
			Record: rec,
			Action: CheckpointAction(im.Action),
			Done:   im.Done != 0,
		})
	}
	return cp, nil
}

// ClearCheckpoint removes the checkpoint after a clean completion.
func (s *StateDB) ClearCheckpoint(ctx context.Context, runID string) error {
	err := s.bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*CheckpointItemModel)(nil)).Where("run_id = ?", runID).Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewDelete().Model((*CheckpointModel)(nil)).Where("run_id = ?", runID).Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: clear checkpoint: %v", common.ErrStorageUnavailable, err)
	}
	return nil
}

func deleteCheckpointsForProject(ctx context.Context, tx bun.Tx, project string) error {
	var runIDs []string
	err := tx.NewRaw(`SELECT run_id FROM checkpoints WHERE project = ?`, project).Scan(ctx, &runIDs)
	if err != nil {
		return err
	}
	for _, id := range runIDs {
		if _, err := tx.NewDelete().Model((*CheckpointItemModel)(nil)).Where("run_id = ?", id).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().Model((*CheckpointModel)(nil)).Where("run_id = ?", id).Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}
