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

package syncer

import (
	"context"
	"sort"

	"mediamirror/internal/storage"
)

// PlanItem is one unit of planned work.
type PlanItem struct {
	Record storage.FileRecord
	Action storage.CheckpointAction
}

// Plan is the ordered execution plan for one run: deletions first (local
// only, they shrink the working set), then downloads up to each
// population's quota. Ordering is lexicographic by relative path, so the
// same inputs always produce the same plan. Resumability depends on this.
type Plan struct {
	RunID   string
	RunSeq  int64
	Project Project
	Mode    Mode

	Deletes   []PlanItem
	Downloads []PlanItem

	// SkippedSuppressed are download candidates the retry ledger is
	// currently suppressing. They never count against the quota since
	// they are not attempted.
	SkippedSuppressed []storage.FileRecord
}

// Items returns deletions followed by downloads, the execution order.
func (p *Plan) Items() []PlanItem {
	items := make([]PlanItem, 0, len(p.Deletes)+len(p.Downloads))
	items = append(items, p.Deletes...)
	items = append(items, p.Downloads...)
	return items
}

// Empty reports whether the plan contains no work.
func (p *Plan) Empty() bool {
	return len(p.Deletes) == 0 && len(p.Downloads) == 0
}

// Quotas bounds downloads per population for one run. Limiting the batch
// keeps a catch-up run from starving the next deletion pass.
type Quotas struct {
	Uploaded    int
	ForeignRepo int
}

// For returns the quota for a population.
func (q Quotas) For(pop storage.Population) int {
	if pop == storage.PopulationForeignRepo {
		return q.ForeignRepo
	}
	return q.Uploaded
}

// SuppressionChecker is the slice of the retry ledger the planner needs.
type SuppressionChecker interface {
	IsSuppressed(ctx context.Context, rec storage.FileRecord, runSeq int64) (bool, error)
}

// BuildPlan composes deltas, deletion candidates, the local inventory
// and the retry ledger into an execution plan. Deletions are passed
// separately because scan-derived candidates may carry no population;
// they are deduplicated by path and planned only for files actually
// present. Download candidates are additions plus changed records; a
// candidate already present locally is skipped unless its delta marks it
// changed (never re-download what is already known local).
func BuildPlan(ctx context.Context, deltas map[storage.Population]*Delta, deletions []storage.FileRecord,
	inv *Inventory, ledger SuppressionChecker, runID string, runSeq int64, project Project, quotas Quotas) (*Plan, error) {

	plan := &Plan{
		RunID:   runID,
		RunSeq:  runSeq,
		Project: project,
	}

	seenDelete := make(map[string]bool)
	for _, rec := range deletions {
		if seenDelete[rec.RelPath] || !inv.Has(rec.RelPath) {
			continue
		}
		seenDelete[rec.RelPath] = true
		plan.Deletes = append(plan.Deletes, PlanItem{Record: rec, Action: storage.ActionDelete})
	}
	sort.Slice(plan.Deletes, func(i, j int) bool {
		return plan.Deletes[i].Record.RelPath < plan.Deletes[j].Record.RelPath
	})

	for _, pop := range storage.Populations() {
		delta := deltas[pop]
		if delta == nil {
			continue
		}

		changed := make(map[string]bool, len(delta.Changed))
		for _, rec := range delta.Changed {
			changed[rec.RelPath] = true
		}

		candidates := make([]storage.FileRecord, 0, len(delta.Added)+len(delta.Changed))
		candidates = append(candidates, delta.Added...)
		candidates = append(candidates, delta.Changed...)
		sortRecords(candidates)

		quota := quotas.For(pop)
		taken := 0
		seen := make(map[string]bool, len(candidates))
		for _, rec := range candidates {
			if seen[rec.RelPath] {
				continue
			}
			seen[rec.RelPath] = true

			if inv.Has(rec.RelPath) && !changed[rec.RelPath] {
				continue
			}

			suppressed, err := ledger.IsSuppressed(ctx, rec, runSeq)
			if err != nil {
				return nil, err
			}
			if suppressed {
				plan.SkippedSuppressed = append(plan.SkippedSuppressed, rec)
				continue
			}

			if taken >= quota {
				break
			}
			taken++
			plan.Downloads = append(plan.Downloads, PlanItem{Record: rec, Action: storage.ActionDownload})
		}
	}

	return plan, nil
}

// PlanFromCheckpoint rebuilds a plan from the pending remainder of an
// interrupted run. Completed items are excluded by identity, so resuming
// executes exactly the work that never finished.
func PlanFromCheckpoint(cp *storage.Checkpoint, runID string, runSeq int64, project Project) *Plan {
	plan := &Plan{
		RunID:   runID,
		RunSeq:  runSeq,
		Project: project,
		Mode:    ModeResume,
	}
	for _, item := range cp.Pending() {
		pi := PlanItem{Record: item.Record, Action: item.Action}
		if item.Action == storage.ActionDelete {
			plan.Deletes = append(plan.Deletes, pi)
		} else {
			plan.Downloads = append(plan.Downloads, pi)
		}
	}
	sort.Slice(plan.Deletes, func(i, j int) bool {
		return plan.Deletes[i].Record.RelPath < plan.Deletes[j].Record.RelPath
	})
	sort.Slice(plan.Downloads, func(i, j int) bool {
		return plan.Downloads[i].Record.RelPath < plan.Downloads[j].Record.RelPath
	})
	return plan
}
