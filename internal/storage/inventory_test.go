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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplaceAndLoadInventory(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.ReplaceInventory(ctx, "enwiki", []InventoryEntry{
		{RelPath: "e/e1/Bar.png", Population: PopulationForeignRepo, Present: true},
		{RelPath: "0/06/Foo.jpg", Population: PopulationUploaded, Present: true},
	}))

	entries, err := db.LoadInventory(ctx, "enwiki")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "0/06/Foo.jpg", entries[0].RelPath)
	assert.Equal(t, PopulationUploaded, entries[0].Population)

	has, err := db.HasInventory(ctx, "enwiki")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = db.HasInventory(ctx, "frwiki")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestReplaceInventoryOverwrites(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.ReplaceInventory(ctx, "enwiki", []InventoryEntry{
		{RelPath: "0/06/Foo.jpg", Population: PopulationUploaded, Present: true},
	}))
	require.NoError(t, db.ReplaceInventory(ctx, "enwiki", []InventoryEntry{
		{RelPath: "e/e1/Bar.png", Population: PopulationUploaded, Present: true},
	}))

	entries, err := db.LoadInventory(ctx, "enwiki")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "e/e1/Bar.png", entries[0].RelPath)
}

func TestUpsertAndDeleteInventoryEntry(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	rec := FileRecord{Project: "enwiki", Population: PopulationUploaded, RelPath: "0/06/Foo.jpg"}
	require.NoError(t, db.UpsertInventoryEntry(ctx, "enwiki", rec))

	// Upserting again with another population updates in place.
	rec.Population = PopulationForeignRepo
	require.NoError(t, db.UpsertInventoryEntry(ctx, "enwiki", rec))

	entries, err := db.LoadInventory(ctx, "enwiki")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, PopulationForeignRepo, entries[0].Population)

	require.NoError(t, db.DeleteInventoryEntry(ctx, "enwiki", "0/06/Foo.jpg"))
	entries, err = db.LoadInventory(ctx, "enwiki")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
