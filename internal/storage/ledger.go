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

	"mediamirror/internal/common"
)

// FailureKind classifies a failed download attempt for the ledger.
type FailureKind string

const (
	// FailureTransient is a transport-level failure (5xx, connection
	// error, timeout). Counts toward suppression and toward the driver's
	// fatal infrastructure threshold.
	FailureTransient FailureKind = "transient"

	// FailureNonexistent is a "not found"-class response. The file may
	// legitimately appear later, so this drives only suppression, never
	// the fatal threshold.
	FailureNonexistent FailureKind = "nonexistent"
)

// SuppressionPolicy configures the ledger's suppress-then-retry-once
// behavior: a file failing in After consecutive runs sits out ForRuns
// runs, then is retried once more.
type SuppressionPolicy struct {
	After   int // consecutive failed runs before suppression
	ForRuns int // runs a suppressed file is skipped
}

// RecordFailure notes a failed attempt for the identity in the given run.
// A second failure in the same run does not count twice; the counters
// measure failed runs, not failed attempts. Crossing the policy threshold
// starts a suppression window.
func (s *StateDB) RecordFailure(ctx context.Context, rec FileRecord, kind FailureKind, runSeq int64, policy SuppressionPolicy) error {
	now := s.ledgerNow()

	entry, err := s.ledgerEntry(ctx, rec)
	if err != nil {
		return err
	}
	if entry == nil {
		entry = &RetryModel{
			Project:    rec.Project,
			Population: string(rec.Population),
			RelPath:    rec.RelPath,
		}
	}

	if entry.LastFailedRun != runSeq {
		switch kind {
		case FailureNonexistent:
			entry.NonexistentFailures++
		default:
			entry.ConsecutiveFailures++
		}
	}
	entry.LastFailedRun = runSeq
	entry.LastAttemptAt = now

	failures := entry.ConsecutiveFailures
	if entry.NonexistentFailures > failures {
		failures = entry.NonexistentFailures
	}
	if policy.After > 0 && failures >= int64(policy.After) {
		until := runSeq + int64(policy.ForRuns)
		entry.SuppressedUntilRun = &until
	}

	_, err = s.bun.NewInsert().
		Model(entry).
		On("CONFLICT (project, population, rel_path) DO UPDATE").
		Set("consecutive_failures = EXCLUDED.consecutive_failures").
		Set("nonexistent_failures = EXCLUDED.nonexistent_failures").
		Set("last_attempt_at = EXCLUDED.last_attempt_at").
		Set("last_failed_run = EXCLUDED.last_failed_run").
		Set("suppressed_until_run = EXCLUDED.suppressed_until_run").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: record failure: %v", common.ErrStorageUnavailable, err)
	}
	return nil
}

// RecordSuccess clears all retry state for the identity.
func (s *StateDB) RecordSuccess(ctx context.Context, rec FileRecord) error {
	_, err := s.bun.NewDelete().
		Model((*RetryModel)(nil)).
		Where("project = ?", rec.Project).
		Where("population = ?", string(rec.Population)).
		Where("rel_path = ?", rec.RelPath).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("%w: record success: %v", common.ErrStorageUnavailable, err)
	}
	return nil
}

// IsSuppressed reports whether the identity should be skipped in the
// given run. Once the suppression window has passed the identity becomes
// eligible again for a single retry.
func (s *StateDB) IsSuppressed(ctx context.Context, rec FileRecord, runSeq int64) (bool, error) {
	entry, err := s.ledgerEntry(ctx, rec)
	if err != nil {
		return false, err
	}
	if entry == nil || entry.SuppressedUntilRun == nil {
		return false, nil
	}
	return runSeq <= *entry.SuppressedUntilRun, nil
}

// SuppressedEntry is one suppressed identity, for status reporting.
type SuppressedEntry struct {
	Population          Population
	RelPath             string
	ConsecutiveFailures int64
	NonexistentFailures int64
	SuppressedUntilRun  int64
	LastAttemptAt       time.Time
}

// ListSuppressed returns all currently suppressed identities for a project.
func (s *StateDB) ListSuppressed(ctx context.Context, project string, runSeq int64) ([]SuppressedEntry, error) {
	var models []RetryModel
	err := s.bun.NewSelect().
		Model(&models).
		Where("project = ?", project).
		Where("suppressed_until_run IS NOT NULL").
		Where("suppressed_until_run >= ?", runSeq).
		OrderExpr("rel_path ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list suppressed: %v", common.ErrStorageUnavailable, err)
	}
	entries := make([]SuppressedEntry, 0, len(models))
	for _, m := range models {
		entries = append(entries, SuppressedEntry{
			Population:          Population(m.Population),
			RelPath:             m.RelPath,
			ConsecutiveFailures: m.ConsecutiveFailures,
			NonexistentFailures: m.NonexistentFailures,
			SuppressedUntilRun:  *m.SuppressedUntilRun,
			LastAttemptAt:       time.Unix(m.LastAttemptAt, 0).UTC(),
		})
	}
	return entries, nil
}

func (s *StateDB) ledgerEntry(ctx context.Context, rec FileRecord) (*RetryModel, error) {
	var entry RetryModel
	err := s.bun.NewSelect().
		Model(&entry).
		Where("project = ?", rec.Project).
		Where("population = ?", string(rec.Population)).
		Where("rel_path = ?", rec.RelPath).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load ledger entry: %v", common.ErrStorageUnavailable, err)
	}
	return &entry, nil
}

func (s *StateDB) ledgerNow() int64 {
	return s.clock.Now().Unix()
}
