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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCheckpoint() *Checkpoint {
	ts := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	return &Checkpoint{
		RunID:   "run-1",
		Project: "enwiki",
		Mode:    "full",
		RunSeq:  7,
		Items: []CheckpointItem{
			{Record: FileRecord{Project: "enwiki", Population: PopulationUploaded, RelPath: "0/06/Foo.jpg", Size: 10, Timestamp: ts}, Action: ActionDownload},
			{Record: FileRecord{Project: "enwiki", Population: PopulationForeignRepo, RelPath: "e/e1/Bar.png"}, Action: ActionDownload},
			{Record: FileRecord{Project: "enwiki", Population: PopulationUploaded, RelPath: "c/c8/Example.ogg"}, Action: ActionDelete},
		},
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveCheckpoint(ctx, testCheckpoint()))

	loaded, err := db.LoadCheckpoint(ctx, "enwiki")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "run-1", loaded.RunID)
	assert.Equal(t, int64(7), loaded.RunSeq)
	assert.Len(t, loaded.Items, 3)
	assert.Len(t, loaded.Pending(), 3)

	// Timestamps survive the round trip for timestamped records.
	for _, item := range loaded.Items {
		if item.Record.RelPath == "0/06/Foo.jpg" {
			assert.True(t, item.Record.HasTimestamp())
			assert.Equal(t, int64(10), item.Record.Size)
		}
	}
}

func TestMarkItemDoneShrinksPending(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveCheckpoint(ctx, testCheckpoint()))

	rec := FileRecord{Project: "enwiki", Population: PopulationUploaded, RelPath: "0/06/Foo.jpg"}
	require.NoError(t, db.MarkItemDone(ctx, "run-1", rec, ActionDownload))

	loaded, err := db.LoadCheckpoint(ctx, "enwiki")
	require.NoError(t, err)
	assert.Len(t, loaded.Items, 3)
	assert.Len(t, loaded.Pending(), 2)
	for _, item := range loaded.Pending() {
		assert.NotEqual(t, "0/06/Foo.jpg", item.Record.RelPath)
	}
}

func TestSaveCheckpointReplacesPrevious(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveCheckpoint(ctx, testCheckpoint()))

	next := &Checkpoint{
		RunID:   "run-2",
		Project: "enwiki",
		Mode:    "full",
		RunSeq:  8,
		Items: []CheckpointItem{
			{Record: FileRecord{Project: "enwiki", Population: PopulationUploaded, RelPath: "e/e1/Bar.png"}, Action: ActionDownload},
		},
	}
	require.NoError(t, db.SaveCheckpoint(ctx, next))

	loaded, err := db.LoadCheckpoint(ctx, "enwiki")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "run-2", loaded.RunID)
	assert.Len(t, loaded.Items, 1)

	// No orphaned items from the replaced checkpoint.
	count, err := db.bun.NewSelect().
		Model((*CheckpointItemModel)(nil)).
		Where("run_id = ?", "run-1").
		Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestClearCheckpoint(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveCheckpoint(ctx, testCheckpoint()))
	require.NoError(t, db.ClearCheckpoint(ctx, "run-1"))

	loaded, err := db.LoadCheckpoint(ctx, "enwiki")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestLoadCheckpointNilWhenClean(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	loaded, err := db.LoadCheckpoint(context.Background(), "enwiki")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}
