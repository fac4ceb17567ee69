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

var testPolicy = SuppressionPolicy{After: 3, ForRuns: 5}

func testRecord() FileRecord {
	return FileRecord{
		Project:    "enwiki",
		Population: PopulationUploaded,
		RelPath:    "0/06/Foo.jpg",
	}
}

func TestRecordFailureCountsRunsNotAttempts(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()
	rec := testRecord()

	// Three failures in the same run count once.
	for i := 0; i < 3; i++ {
		require.NoError(t, db.RecordFailure(ctx, rec, FailureTransient, 1, testPolicy))
	}
	suppressed, err := db.IsSuppressed(ctx, rec, 2)
	require.NoError(t, err)
	assert.False(t, suppressed)

	entry, err := db.ledgerEntry(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.ConsecutiveFailures)
}

func TestSuppressionAfterConsecutiveFailedRuns(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()
	rec := testRecord()

	for run := int64(1); run <= 3; run++ {
		require.NoError(t, db.RecordFailure(ctx, rec, FailureTransient, run, testPolicy))
	}

	// Suppressed for runs 4 through 8, eligible again at 9.
	for run := int64(4); run <= 8; run++ {
		suppressed, err := db.IsSuppressed(ctx, rec, run)
		require.NoError(t, err)
		assert.True(t, suppressed, "run %d", run)
	}
	suppressed, err := db.IsSuppressed(ctx, rec, 9)
	require.NoError(t, err)
	assert.False(t, suppressed)
}

func TestNonexistentFailuresTrackedSeparately(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()
	rec := testRecord()

	require.NoError(t, db.RecordFailure(ctx, rec, FailureNonexistent, 1, testPolicy))
	require.NoError(t, db.RecordFailure(ctx, rec, FailureNonexistent, 2, testPolicy))
	require.NoError(t, db.RecordFailure(ctx, rec, FailureNonexistent, 3, testPolicy))

	entry, err := db.ledgerEntry(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, int64(0), entry.ConsecutiveFailures)
	assert.Equal(t, int64(3), entry.NonexistentFailures)

	// Nonexistent failures drive suppression too.
	suppressed, err := db.IsSuppressed(ctx, rec, 4)
	require.NoError(t, err)
	assert.True(t, suppressed)
}

func TestRecordSuccessClearsLedger(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()
	rec := testRecord()

	for run := int64(1); run <= 3; run++ {
		require.NoError(t, db.RecordFailure(ctx, rec, FailureTransient, run, testPolicy))
	}
	require.NoError(t, db.RecordSuccess(ctx, rec))

	suppressed, err := db.IsSuppressed(ctx, rec, 4)
	require.NoError(t, err)
	assert.False(t, suppressed)

	entry, err := db.ledgerEntry(ctx, rec)
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestLedgerKeysByIdentity(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	uploaded := testRecord()
	foreign := uploaded
	foreign.Population = PopulationForeignRepo

	for run := int64(1); run <= 3; run++ {
		require.NoError(t, db.RecordFailure(ctx, uploaded, FailureTransient, run, testPolicy))
	}

	// Same path in the other population is unaffected.
	suppressed, err := db.IsSuppressed(ctx, foreign, 4)
	require.NoError(t, err)
	assert.False(t, suppressed)
}

func TestListSuppressed(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	rec := testRecord()
	for run := int64(1); run <= 3; run++ {
		require.NoError(t, db.RecordFailure(ctx, rec, FailureTransient, run, testPolicy))
	}
	other := rec
	other.RelPath = "e/e1/Bar.png"
	require.NoError(t, db.RecordFailure(ctx, other, FailureTransient, 3, testPolicy))

	entries, err := db.ListSuppressed(ctx, "enwiki", 4)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "0/06/Foo.jpg", entries[0].RelPath)
	assert.Equal(t, int64(8), entries[0].SuppressedUntilRun)
}
