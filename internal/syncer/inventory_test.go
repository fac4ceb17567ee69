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
	"math/rand"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	ignore "github.com/sabhiram/go-gitignore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediamirror/internal/storage"
)

func TestFullScan(t *testing.T) {
	t.Parallel()

	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "a/ab/A.jpg", []byte("a"), 0o644))
	require.NoError(t, util.WriteFile(fs, "b/bc/B.jpg", []byte("b"), 0o644))
	require.NoError(t, fs.MkdirAll("c/cd", 0o755)) // empty hashdir

	inv, err := FullScan(fs, ".", nil)
	require.NoError(t, err)

	assert.Equal(t, 2, inv.Len())
	assert.True(t, inv.Has("a/ab/A.jpg"))
	assert.True(t, inv.Has("b/bc/B.jpg"))
	assert.False(t, inv.Has("c/cd"))
}

func TestFullScanMissingRootIsEmpty(t *testing.T) {
	t.Parallel()

	inv, err := FullScan(memfs.New(), "wikipedia/en", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, inv.Len())
}

func TestFullScanSkipsInFlightTempFiles(t *testing.T) {
	t.Parallel()

	// A crash can strand a temp download next to real media; it must not
	// be inventoried (and later archived as deleted media) even when the
	// configured excludes do not mention it.
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "a/ab/A.jpg", []byte("a"), 0o644))
	require.NoError(t, util.WriteFile(fs, "a/ab/.part-482193", []byte("partial"), 0o644))

	inv, err := FullScan(fs, ".", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, inv.Len())
	assert.True(t, inv.Has("a/ab/A.jpg"))
	assert.False(t, inv.Has("a/ab/.part-482193"))
}

func TestFullScanExcludes(t *testing.T) {
	t.Parallel()

	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "a/ab/A.jpg", []byte("a"), 0o644))
	require.NoError(t, util.WriteFile(fs, "a/ab/A.jpg.tmp", []byte("x"), 0o644))
	require.NoError(t, util.WriteFile(fs, "b/bc/B.jpg.partial", []byte("x"), 0o644))

	matcher := ignore.CompileIgnoreLines("*.tmp", "*.partial")
	inv, err := FullScan(fs, ".", matcher)
	require.NoError(t, err)

	assert.Equal(t, 1, inv.Len())
	assert.True(t, inv.Has("a/ab/A.jpg"))
}

func TestApplyOnlySuccessfulOutcomes(t *testing.T) {
	t.Parallel()

	inv := InventoryFromEntries([]storage.InventoryEntry{
		{RelPath: "a/ab/A.jpg", Population: storage.PopulationUploaded, Present: true},
		{RelPath: "b/bc/B.jpg", Population: storage.PopulationUploaded, Present: true},
	})

	delta := &Delta{
		Added: []storage.FileRecord{
			{RelPath: "c/cd/C.jpg", Population: storage.PopulationUploaded},
			{RelPath: "d/de/D.jpg", Population: storage.PopulationUploaded},
		},
		Removed: []storage.FileRecord{
			{RelPath: "a/ab/A.jpg", Population: storage.PopulationUploaded},
			{RelPath: "b/bc/B.jpg", Population: storage.PopulationUploaded},
		},
	}
	outcomes := Outcomes{
		Downloaded: map[string]bool{"c/cd/C.jpg": true}, // D failed
		Deleted:    map[string]bool{"a/ab/A.jpg": true}, // B failed
	}

	next := inv.Apply(delta, outcomes)

	assert.True(t, next.Has("c/cd/C.jpg"))
	assert.False(t, next.Has("d/de/D.jpg"))
	assert.False(t, next.Has("a/ab/A.jpg"))
	assert.True(t, next.Has("b/bc/B.jpg"))

	// The source inventory is untouched.
	assert.True(t, inv.Has("a/ab/A.jpg"))
	assert.False(t, inv.Has("c/cd/C.jpg"))
}

// The replay reconstruction must land on the same set a disk scan would
// find after the same operations are applied to a real tree.
func TestApplyMatchesRescan(t *testing.T) {
	t.Parallel()

	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "a/ab/A.jpg", []byte("a"), 0o644))
	require.NoError(t, util.WriteFile(fs, "b/bc/B.jpg", []byte("b"), 0o644))

	inv, err := FullScan(fs, ".", nil)
	require.NoError(t, err)

	delta := &Delta{
		Added:   []storage.FileRecord{{RelPath: "c/cd/C.jpg", Population: storage.PopulationUploaded}},
		Removed: []storage.FileRecord{{RelPath: "a/ab/A.jpg", Population: storage.PopulationUploaded}},
	}

	// Mirror the same operations on disk.
	require.NoError(t, util.WriteFile(fs, "c/cd/C.jpg", []byte("c"), 0o644))
	require.NoError(t, fs.Remove("a/ab/A.jpg"))

	replayed := inv.Apply(delta, Outcomes{
		Downloaded: map[string]bool{"c/cd/C.jpg": true},
		Deleted:    map[string]bool{"a/ab/A.jpg": true},
	})
	rescanned, err := FullScan(fs, ".", nil)
	require.NoError(t, err)

	assert.Empty(t, replayed.Diff(rescanned))
	assert.Equal(t, rescanned.Paths(), replayed.Paths())
}

// Same equivalence, searched instead of sampled: a seeded random
// sequence of partially failing add and remove operations, mirrored on
// a real tree, must keep the replayed inventory identical to a rescan
// at every step.
func TestApplyMatchesRescanRandomSequence(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	fs := memfs.New()

	inv, err := FullScan(fs, ".", nil)
	require.NoError(t, err)

	var present []string
	nextID := 0

	for step := 0; step < 40; step++ {
		delta := &Delta{}
		outcomes := Outcomes{
			Downloaded: map[string]bool{},
			Deleted:    map[string]bool{},
		}

		for n := rng.Intn(4); n > 0; n-- {
			nextID++
			p := fmt.Sprintf("%d/%d%d/File%03d.jpg", nextID%10, nextID%10, nextID%7, nextID)
			delta.Added = append(delta.Added, storage.FileRecord{
				RelPath:    p,
				Population: storage.PopulationUploaded,
			})
			// Most downloads succeed; the rest fail and must stay absent.
			if rng.Intn(5) > 0 {
				outcomes.Downloaded[p] = true
				require.NoError(t, util.WriteFile(fs, p, []byte(p), 0o644))
				present = append(present, p)
			}
		}
		for n := rng.Intn(3); n > 0 && len(present) > 0; n-- {
			idx := rng.Intn(len(present))
			p := present[idx]
			delta.Removed = append(delta.Removed, storage.FileRecord{
				RelPath:    p,
				Population: storage.PopulationUploaded,
			})
			// Failed deletions leave the file both on disk and replayed.
			if rng.Intn(5) > 0 {
				outcomes.Deleted[p] = true
				require.NoError(t, fs.Remove(p))
				present = append(present[:idx], present[idx+1:]...)
			}
		}

		inv = inv.Apply(delta, outcomes)
		rescanned, err := FullScan(fs, ".", nil)
		require.NoError(t, err)
		require.Empty(t, inv.Diff(rescanned), "replay diverged from rescan at step %d", step)
		require.Equal(t, rescanned.Paths(), inv.Paths(), "replay diverged from rescan at step %d", step)
	}
}

func TestInventoryDiff(t *testing.T) {
	t.Parallel()

	a := InventoryFromEntries([]storage.InventoryEntry{
		{RelPath: "x", Present: true},
		{RelPath: "y", Present: true},
	})
	b := InventoryFromEntries([]storage.InventoryEntry{
		{RelPath: "y", Present: true},
		{RelPath: "z", Present: true},
	})

	assert.Equal(t, []string{"x", "z"}, a.Diff(b))
	assert.Empty(t, a.Diff(a))
}

func TestEntriesRoundTrip(t *testing.T) {
	t.Parallel()

	entries := []storage.InventoryEntry{
		{RelPath: "a/ab/A.jpg", Population: storage.PopulationUploaded, Present: true},
		{RelPath: "b/bc/B.jpg", Population: storage.PopulationForeignRepo, Present: true},
	}
	inv := InventoryFromEntries(entries)
	assert.Equal(t, entries, inv.Entries())
}
