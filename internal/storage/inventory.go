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
	"fmt"

	"github.com/uptrace/bun"

	"mediamirror/internal/common"
)

// InventoryEntry is one locally present file, as persisted between runs.
type InventoryEntry struct {
	RelPath    string
	Population Population
	Present    bool
}

// LoadInventory returns the persisted local inventory for a project.
// This is the cheap reconstruction path; a full disk scan is only needed
// when no persisted inventory exists or it is judged stale.
func (s *StateDB) LoadInventory(ctx context.Context, project string) ([]InventoryEntry, error) {
	var models []InventoryModel
	err := s.bun.NewSelect().
		Model(&models).
		Where("project = ?", project).
		OrderExpr("rel_path ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load inventory: %v", common.ErrStorageUnavailable, err)
	}
	entries := make([]InventoryEntry, 0, len(models))
	for _, m := range models {
		entries = append(entries, InventoryEntry{
			RelPath:    m.RelPath,
			Population: Population(m.Population),
			Present:    m.Present != 0,
		})
	}
	return entries, nil
}

// HasInventory reports whether any inventory rows exist for a project.
func (s *StateDB) HasInventory(ctx context.Context, project string) (bool, error) {
	count, err := s.bun.NewSelect().
		Model((*InventoryModel)(nil)).
		Where("project = ?", project).
		Count(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: count inventory: %v", common.ErrStorageUnavailable, err)
	}
	return count > 0, nil
}

// ReplaceInventory overwrites the persisted inventory for a project with
// the result of a full scan, in one transaction.
func (s *StateDB) ReplaceInventory(ctx context.Context, project string, entries []InventoryEntry) error {
	now := s.clock.Now().Unix()
	err := s.bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*InventoryModel)(nil)).Where("project = ?", project).Exec(ctx); err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		models := make([]InventoryModel, 0, len(entries))
		for _, e := range entries {
			present := int64(0)
			if e.Present {
				present = 1
			}
			models = append(models, InventoryModel{
				Project:    project,
				RelPath:    e.RelPath,
				Population: string(e.Population),
				Present:    present,
				UpdatedAt:  now,
			})
		}
		_, err := tx.NewInsert().Model(&models).Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: replace inventory: %v", common.ErrStorageUnavailable, err)
	}
	return nil
}

// UpsertInventoryEntry records a file as locally present after a
// successful download.
func (s *StateDB) UpsertInventoryEntry(ctx context.Context, project string, rec FileRecord) error {
	model := &InventoryModel{
		Project:    project,
		RelPath:    rec.RelPath,
		Population: string(rec.Population),
		Present:    1,
		UpdatedAt:  s.clock.Now().Unix(),
	}
	_, err := s.bun.NewInsert().
		Model(model).
		On("CONFLICT (project, rel_path) DO UPDATE").
		Set("population = EXCLUDED.population").
		Set("present = EXCLUDED.present").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: upsert inventory entry: %v", common.ErrStorageUnavailable, err)
	}
	return nil
}

// DeleteInventoryEntry removes a file from the persisted inventory after
// a successful local deletion.
func (s *StateDB) DeleteInventoryEntry(ctx context.Context, project, relPath string) error {
	_, err := s.bun.NewDelete().
		Model((*InventoryModel)(nil)).
		Where("project = ?", project).
		Where("rel_path = ?", relPath).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: delete inventory entry: %v", common.ErrStorageUnavailable, err)
	}
	return nil
}
