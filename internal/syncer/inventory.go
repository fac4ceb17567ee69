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
	"os"
	"sort"
	"strings"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	ignore "github.com/sabhiram/go-gitignore"

	"mediamirror/internal/storage"
)

// LocalEntry is one file physically present in the project's media tree.
// Population may be empty when the entry came from a raw disk scan; the
// scan cannot tell which remote source a file belongs to.
type LocalEntry struct {
	RelPath    string
	Population storage.Population
	Present    bool
}

// Inventory is the set of files locally present for one project, keyed
// by project-relative path. It can be built two ways: a full disk walk
// (expensive) or a replay of persisted deltas and outcomes (cheap). The
// two paths must converge to the same set; see Diff.
type Inventory struct {
	entries map[string]LocalEntry
}

// NewInventory returns an empty inventory.
func NewInventory() *Inventory {
	return &Inventory{entries: make(map[string]LocalEntry)}
}

// InventoryFromEntries builds an inventory from persisted state rows.
func InventoryFromEntries(entries []storage.InventoryEntry) *Inventory {
	inv := NewInventory()
	for _, e := range entries {
		if !e.Present {
			continue
		}
		inv.entries[e.RelPath] = LocalEntry{
			RelPath:    e.RelPath,
			Population: e.Population,
			Present:    true,
		}
	}
	return inv
}

// tempPrefix names in-flight download temp files. The driver renames
// them into place on success; scans must never inventory a leftover.
const tempPrefix = ".part-"

// FullScan walks the project's media tree once and records every file
// found. O(total local files); used when no safe incremental chain
// exists. Paths matching the exclude matcher and in-flight temp files
// are skipped.
func FullScan(fs billy.Filesystem, root string, excludes *ignore.GitIgnore) (*Inventory, error) {
	inv := NewInventory()
	err := util.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel := strings.TrimPrefix(path, root)
		rel = strings.TrimPrefix(rel, "/")
		if rel == "" {
			return nil
		}
		if strings.HasPrefix(info.Name(), tempPrefix) {
			return nil
		}
		if excludes != nil && excludes.MatchesPath(rel) {
			return nil
		}
		inv.entries[rel] = LocalEntry{RelPath: rel, Present: true}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return inv, nil
}

// Has reports whether the path is present locally.
func (inv *Inventory) Has(relPath string) bool {
	entry, ok := inv.entries[relPath]
	return ok && entry.Present
}

// Set marks a path present.
func (inv *Inventory) Set(rec storage.FileRecord) {
	inv.entries[rec.RelPath] = LocalEntry{
		RelPath:    rec.RelPath,
		Population: rec.Population,
		Present:    true,
	}
}

// Remove drops a path.
func (inv *Inventory) Remove(relPath string) {
	delete(inv.entries, relPath)
}

// Len returns the number of present entries.
func (inv *Inventory) Len() int {
	return len(inv.entries)
}

// Outcomes records which planned operations actually succeeded in a run,
// keyed by relative path.
type Outcomes struct {
	Downloaded map[string]bool
	Deleted    map[string]bool
}

// Apply is the cheap reconstruction path: given a delta and the set of
// outcomes, produce the next inventory without touching disk. Only
// operations that actually succeeded are applied; a failed download
// leaves the path absent and a failed deletion leaves it present.
func (inv *Inventory) Apply(delta *Delta, outcomes Outcomes) *Inventory {
	next := NewInventory()
	for k, v := range inv.entries {
		next.entries[k] = v
	}
	for _, rec := range delta.Added {
		if outcomes.Downloaded[rec.RelPath] {
			next.Set(rec)
		}
	}
	for _, rec := range delta.Changed {
		if outcomes.Downloaded[rec.RelPath] {
			next.Set(rec)
		}
	}
	for _, rec := range delta.Removed {
		if outcomes.Deleted[rec.RelPath] {
			next.Remove(rec.RelPath)
		}
	}
	return next
}

// Paths returns all present paths, sorted.
func (inv *Inventory) Paths() []string {
	paths := make([]string, 0, len(inv.entries))
	for p, e := range inv.entries {
		if e.Present {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths
}

// Entries converts the inventory to persistable state rows.
func (inv *Inventory) Entries() []storage.InventoryEntry {
	out := make([]storage.InventoryEntry, 0, len(inv.entries))
	for _, p := range inv.Paths() {
		e := inv.entries[p]
		out = append(out, storage.InventoryEntry{
			RelPath:    e.RelPath,
			Population: e.Population,
			Present:    e.Present,
		})
	}
	return out
}

// Diff returns the symmetric difference of present paths between two
// inventories. A non-empty result between the full-scan and replay
// reconstructions indicates a reconciliation bug and is surfaced as a
// consistency warning by the caller, never silently trusted.
func (inv *Inventory) Diff(other *Inventory) []string {
	var mismatched []string
	for p := range inv.entries {
		if !other.Has(p) {
			mismatched = append(mismatched, p)
		}
	}
	for p := range other.entries {
		if !inv.Has(p) {
			mismatched = append(mismatched, p)
		}
	}
	sort.Strings(mismatched)
	return mismatched
}
