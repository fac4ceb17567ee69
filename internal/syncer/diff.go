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
	"fmt"
	"sort"

	"mediamirror/internal/common"
	"mediamirror/internal/storage"
)

// Delta is the structured difference between two snapshots, or between a
// snapshot and the local inventory. Changed is only ever non-empty for
// populations that carry remote timestamps; for the foreign repository it
// is always empty and modified files cannot be detected at all (a
// documented limitation of that population, not a bug here).
type Delta struct {
	Added   []storage.FileRecord
	Removed []storage.FileRecord
	Changed []storage.FileRecord
}

// Empty reports whether the delta contains no work.
func (d *Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Compute diffs the current snapshot against the previous one. Identity
// is by relative path alone. With no previous snapshot (first run for
// the pair) everything in curr is an addition. Changed is populated only
// for timestamped populations; see ComputeChanged for the explicit guard.
func Compute(prev, curr *storage.Snapshot) (*Delta, error) {
	if curr == nil {
		return nil, fmt.Errorf("current snapshot is required")
	}

	delta := &Delta{}
	if prev == nil {
		delta.Added = append(delta.Added, curr.Records...)
		return delta, nil
	}
	if prev.Population != curr.Population || prev.Project != curr.Project {
		return nil, fmt.Errorf("snapshot mismatch: %s/%s vs %s/%s",
			prev.Project, prev.Population, curr.Project, curr.Population)
	}

	prevIdx := prev.Index()
	currIdx := curr.Index()

	for _, rec := range curr.Records {
		if _, ok := prevIdx[rec.RelPath]; !ok {
			delta.Added = append(delta.Added, rec)
		}
	}
	for _, rec := range prev.Records {
		if _, ok := currIdx[rec.RelPath]; !ok {
			delta.Removed = append(delta.Removed, rec)
		}
	}

	if curr.Population.HasTimestamps() {
		changed, err := ComputeChanged(prev, curr)
		if err != nil {
			return nil, err
		}
		delta.Changed = changed
	}

	sortRecords(delta.Added)
	sortRecords(delta.Removed)
	sortRecords(delta.Changed)
	return delta, nil
}

// ComputeChanged returns the records present in both snapshots whose
// remote state differs. It refuses to run for populations without
// timestamps rather than silently returning an empty set, so a caller
// cannot mistake "no timestamp support" for "no changes".
func ComputeChanged(prev, curr *storage.Snapshot) ([]storage.FileRecord, error) {
	if !curr.Population.HasTimestamps() {
		return nil, fmt.Errorf("%w: population %q carries no remote timestamps",
			common.ErrUnsupportedOperation, curr.Population)
	}
	if prev == nil {
		return nil, nil
	}

	prevIdx := prev.Index()
	var changed []storage.FileRecord
	for _, rec := range curr.Records {
		old, ok := prevIdx[rec.RelPath]
		if !ok {
			continue
		}
		if !rec.Timestamp.Equal(old.Timestamp) || rec.Size != old.Size {
			changed = append(changed, rec)
		}
	}
	sortRecords(changed)
	return changed, nil
}

// ComputeAgainstLocal diffs a snapshot against the local inventory: the
// fallback full-reconciliation path used when no prior snapshot exists
// or the incremental chain is judged stale. Added is every remote record
// missing locally. Removed is every local entry absent from the snapshot
// that belongs to the snapshot's population (entries of unknown
// population, from a raw disk scan, are attributed to no population and
// only removed via LocalNotOnRemote across all snapshots).
func ComputeAgainstLocal(snap *storage.Snapshot, inv *Inventory) *Delta {
	delta := &Delta{}
	idx := snap.Index()
	for _, rec := range snap.Records {
		if !inv.Has(rec.RelPath) {
			delta.Added = append(delta.Added, rec)
		}
	}
	for _, entry := range inv.entries {
		if entry.Population != snap.Population {
			continue
		}
		if _, ok := idx[entry.RelPath]; !ok {
			delta.Removed = append(delta.Removed, storage.FileRecord{
				Project:    snap.Project,
				Population: entry.Population,
				RelPath:    entry.RelPath,
			})
		}
	}
	sortRecords(delta.Added)
	sortRecords(delta.Removed)
	return delta
}

// LocalNotOnRemote returns the local entries referenced by none of the
// given snapshots: the deletion candidates. Remote is authoritative, so
// anything local that no population still lists gets archived and removed.
func LocalNotOnRemote(inv *Inventory, snaps ...*storage.Snapshot) []storage.FileRecord {
	keep := make(map[string]bool)
	project := ""
	for _, snap := range snaps {
		if snap == nil {
			continue
		}
		project = snap.Project
		for _, rec := range snap.Records {
			keep[rec.RelPath] = true
		}
	}

	var gone []storage.FileRecord
	for _, entry := range inv.entries {
		if !entry.Present || keep[entry.RelPath] {
			continue
		}
		gone = append(gone, storage.FileRecord{
			Project:    project,
			Population: entry.Population,
			RelPath:    entry.RelPath,
		})
	}
	sortRecords(gone)
	return gone
}

func sortRecords(records []storage.FileRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].RelPath < records[j].RelPath
	})
}
