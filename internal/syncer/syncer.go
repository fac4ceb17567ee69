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
	"fmt"
	"path/filepath"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/gofrs/flock"
	"github.com/jonboulle/clockwork"
	ignore "github.com/sabhiram/go-gitignore"
	log "github.com/sirupsen/logrus"

	"mediamirror/internal/storage"
)

// Options carries the per-run budgets and local layout the orchestrator
// needs. The CLI derives it from the config file.
type Options struct {
	MediaDir string
	StateDir string

	// Excludes are gitignore-style patterns skipped during local scans.
	Excludes []string

	Quotas Quotas
	Driver DriverConfig

	// FullScanEveryRuns is the cadence of full local rescans; 0 scans on
	// every run.
	FullScanEveryRuns int
}

// Syncer coordinates one reconciliation run per project: lock, snapshot
// both populations, reconstruct the local inventory, plan, execute.
type Syncer struct {
	state     *storage.StateDB
	fetcher   ListingFetcher
	transport Transport
	archiver  Archiver
	urlFor    func(Project, storage.FileRecord) string
	clock     clockwork.Clock
	opts      Options
}

// New wires a syncer. urlFor maps a file record to its remote media URL
// for the given project.
func New(state *storage.StateDB, fetcher ListingFetcher, transport Transport,
	archiver Archiver, urlFor func(Project, storage.FileRecord) string, opts Options) *Syncer {
	return &Syncer{
		state:     state,
		fetcher:   fetcher,
		transport: transport,
		archiver:  archiver,
		urlFor:    urlFor,
		clock:     clockwork.NewRealClock(),
		opts:      opts,
	}
}

// SetClock replaces the wall clock, for tests.
func (s *Syncer) SetClock(clock clockwork.Clock) {
	s.clock = clock
}

// SyncProject runs one reconciliation pass for a project. Exactly one
// run per project at a time: a second invocation fails fast on the lock
// instead of queueing. If the previous run left a checkpoint with
// pending work, this run completes that remainder and returns; the next
// invocation starts a fresh pass.
func (s *Syncer) SyncProject(ctx context.Context, project Project, mode Mode) (*Report, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("unknown sync mode %q", mode)
	}

	lock := flock.New(filepath.Join(s.opts.StateDir, project.Name+".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock for %s: %w", project.Name, err)
	}
	if !locked {
		return nil, fmt.Errorf("project %s: another run holds the lock", project.Name)
	}
	defer lock.Unlock()

	logger := log.WithField("project", project.Name)

	if !s.opts.Driver.DryRun {
		cp, err := s.state.LoadCheckpoint(ctx, project.Name)
		if err != nil {
			return nil, err
		}
		if cp != nil && len(cp.Pending()) > 0 {
			logger.WithFields(log.Fields{
				"run_id":  cp.RunID,
				"pending": len(cp.Pending()),
			}).Info("resuming interrupted run")
			return s.resume(ctx, project, cp)
		}
	}

	return s.fresh(ctx, project, mode, logger)
}

// resume completes the pending remainder of an interrupted run under its
// original run identity, so checkpoint items match by identity.
func (s *Syncer) resume(ctx context.Context, project Project, cp *storage.Checkpoint) (*Report, error) {
	plan := PlanFromCheckpoint(cp, cp.RunID, cp.RunSeq, project)
	report := NewReport(cp.RunID, project, ModeResume, false, s.clock.Now())

	inv, err := s.loadInventory(ctx, project)
	if err != nil {
		return report, err
	}

	driver := s.newDriver(project)
	runErr := driver.Run(ctx, plan, inv, report)
	report.Finished = s.clock.Now()
	if runErr != nil {
		return report, runErr
	}
	if err := s.state.FinishRun(ctx, cp.RunID, report.Downloaded, report.Deleted, report.Failed); err != nil {
		return report, err
	}
	return report, nil
}

func (s *Syncer) fresh(ctx context.Context, project Project, mode Mode, logger *log.Entry) (*Report, error) {
	dryRun := s.opts.Driver.DryRun

	var runID string
	var runSeq int64
	var err error
	if dryRun {
		runID = "dry-run"
		lastSeq, err := s.state.LastRunSeq(ctx, project.Name)
		if err != nil {
			return nil, err
		}
		runSeq = lastSeq + 1
	} else {
		runID, runSeq, err = s.state.BeginRun(ctx, project.Name, string(mode))
		if err != nil {
			return nil, err
		}
	}
	report := NewReport(runID, project, mode, dryRun, s.clock.Now())

	// Capture both populations before planning anything: a plan must be
	// built from one consistent remote view.
	currs := make(map[storage.Population]*storage.Snapshot)
	prevs := make(map[storage.Population]*storage.Snapshot)
	for _, pop := range storage.Populations() {
		records, err := s.fetcher.FetchListing(ctx, pop, project)
		if err != nil {
			return report, fmt.Errorf("fetch %s listing for %s: %w", pop, project.Name, err)
		}
		if dryRun {
			currs[pop] = storage.NewSnapshot(pop, project.Name, records)
			prevs[pop], err = s.state.LatestSnapshot(ctx, pop, project.Name)
		} else {
			currs[pop], err = s.state.RecordSnapshot(ctx, pop, project.Name, records)
			if err != nil {
				return report, err
			}
			prevs[pop], err = s.state.PreviousSnapshot(ctx, pop, project.Name)
		}
		if err != nil {
			return report, err
		}
		logger.WithFields(log.Fields{
			"population": pop,
			"files":      len(currs[pop].Records),
		}).Debug("captured remote listing")
	}

	inv, scanned, err := s.reconstructInventory(ctx, project, runSeq, logger)
	if err != nil {
		return report, err
	}

	deltas := make(map[storage.Population]*Delta)
	for _, pop := range storage.Populations() {
		delta, err := s.deltaFor(prevs[pop], currs[pop], inv, scanned)
		if err != nil {
			return report, err
		}
		deltas[pop] = delta
	}

	// Remote is authoritative: anything local that no population still
	// lists gets archived and deleted. The inventory covers both
	// populations plus scan finds of unknown origin, so deletions are
	// derived from it rather than from per-population snapshot diffs.
	deletions := LocalNotOnRemote(inv, currs[storage.PopulationUploaded], currs[storage.PopulationForeignRepo])

	plan, err := BuildPlan(ctx, deltas, deletions, inv, s.state, runID, runSeq, project, s.opts.Quotas)
	if err != nil {
		return report, err
	}
	plan.Mode = mode
	switch mode {
	case ModeDeletesOnly:
		plan.Downloads = nil
	case ModeDownloadsOnly:
		plan.Deletes = nil
	}

	logger.WithFields(log.Fields{
		"downloads":  len(plan.Downloads),
		"deletes":    len(plan.Deletes),
		"suppressed": len(plan.SkippedSuppressed),
	}).Info("built reconciliation plan")

	driver := s.newDriver(project)
	runErr := driver.Run(ctx, plan, inv, report)
	report.Finished = s.clock.Now()
	if runErr != nil {
		// Checkpoint preserved; the run row keeps a null finished_at.
		return report, runErr
	}

	if !dryRun {
		if err := s.state.FinishRun(ctx, runID, report.Downloaded, report.Deleted, report.Failed); err != nil {
			return report, err
		}
	}
	logger.Info(report.Summary())
	return report, nil
}

func (s *Syncer) newDriver(project Project) *Driver {
	urlFor := func(rec storage.FileRecord) string {
		return s.urlFor(project, rec)
	}
	return NewDriver(s.mediaFS(project), s.transport, s.archiver, s.state, urlFor, s.clock, s.opts.Driver)
}

// reconstructInventory returns the project's local inventory, either
// replayed from persisted rows or rebuilt by a full disk walk. A full
// scan happens on the first run, on the configured cadence, and always
// when the cadence is zero. When both views exist and disagree the scan
// wins, with a consistency warning; a silent divergence here would mean
// the replay bookkeeping is wrong.
func (s *Syncer) reconstructInventory(ctx context.Context, project Project, runSeq int64, logger *log.Entry) (*Inventory, bool, error) {
	hasRows, err := s.state.HasInventory(ctx, project.Name)
	if err != nil {
		return nil, false, err
	}

	cadence := s.opts.FullScanEveryRuns
	scan := !hasRows || cadence == 0 || runSeq%int64(cadence) == 0
	if !scan {
		entries, err := s.state.LoadInventory(ctx, project.Name)
		if err != nil {
			return nil, false, err
		}
		return InventoryFromEntries(entries), false, nil
	}

	var matcher *ignore.GitIgnore
	if len(s.opts.Excludes) > 0 {
		matcher = ignore.CompileIgnoreLines(s.opts.Excludes...)
	}
	scanned, err := FullScan(s.mediaFS(project), ".", matcher)
	if err != nil {
		return nil, false, fmt.Errorf("scan media tree for %s: %w", project.Name, err)
	}

	if hasRows {
		entries, err := s.state.LoadInventory(ctx, project.Name)
		if err != nil {
			return nil, false, err
		}
		replayed := InventoryFromEntries(entries)
		if mismatched := scanned.Diff(replayed); len(mismatched) > 0 {
			sample := mismatched
			if len(sample) > 10 {
				sample = sample[:10]
			}
			logger.WithFields(log.Fields{
				"mismatched": len(mismatched),
				"sample":     sample,
			}).Warn("inventory replay disagrees with disk scan, trusting the scan")
		}
		// Population attribution survives from the replayed rows where the
		// scan found the same path.
		for _, e := range entries {
			if e.Present && e.Population != "" && scanned.Has(e.RelPath) {
				scanned.Set(storage.FileRecord{
					Project:    project.Name,
					Population: e.Population,
					RelPath:    e.RelPath,
				})
			}
		}
	}

	if !s.opts.Driver.DryRun {
		if err := s.state.ReplaceInventory(ctx, project.Name, scanned.Entries()); err != nil {
			return nil, false, err
		}
	}
	return scanned, true, nil
}

func (s *Syncer) loadInventory(ctx context.Context, project Project) (*Inventory, error) {
	entries, err := s.state.LoadInventory(ctx, project.Name)
	if err != nil {
		return nil, err
	}
	return InventoryFromEntries(entries), nil
}

func (s *Syncer) mediaFS(project Project) billy.Filesystem {
	return osfs.New(filepath.Join(s.opts.MediaDir, project.Dir()))
}

// deltaFor picks the diff strategy for one population: snapshot-diff on
// the incremental path, inventory-diff when no previous snapshot exists
// or a full scan just reset the local view. Changed records come from
// the snapshot pair either way, when the population supports them.
func (s *Syncer) deltaFor(prev, curr *storage.Snapshot, inv *Inventory, scanned bool) (*Delta, error) {
	if prev != nil && !scanned {
		return Compute(prev, curr)
	}

	delta := ComputeAgainstLocal(curr, inv)
	if prev != nil && curr.Population.HasTimestamps() {
		changed, err := ComputeChanged(prev, curr)
		if err != nil {
			return nil, err
		}
		delta.Changed = changed
	}
	return delta, nil
}
