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
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"mediamirror/internal/common"
	"mediamirror/internal/storage"
	"mediamirror/internal/util"
)

// DriverConfig tunes plan execution.
type DriverConfig struct {
	// Concurrency is the number of download workers. Deletions always run
	// sequentially on the coordinator.
	Concurrency int

	// RequestDelay is the courtesy pause each worker takes before every
	// remote request.
	RequestDelay time.Duration

	// RequestTimeout bounds a single download.
	RequestTimeout time.Duration

	// Retries is how many times a single download is attempted before the
	// failure is recorded in the ledger.
	Retries uint

	// FatalFailures is the number of consecutive transient failures after
	// which the run aborts with common.ErrRemoteUnavailable. Not-found
	// responses are per-file conditions and never count.
	FatalFailures int

	// DryRun reports what would happen without touching disk or state.
	DryRun bool

	Suppression storage.SuppressionPolicy
}

// Driver executes a plan against the local media tree. All state
// mutation (ledger, inventory rows, checkpoint items, the in-memory
// inventory) happens on the coordinator goroutine; workers only move
// bytes.
type Driver struct {
	media     billy.Filesystem // chrooted to the project's media dir
	transport Transport
	archiver  Archiver
	state     *storage.StateDB
	urlFor    func(storage.FileRecord) string
	clock     clockwork.Clock
	cfg       DriverConfig
}

// NewDriver wires a driver. media must be chrooted to the project's
// media directory so plan paths resolve directly.
func NewDriver(media billy.Filesystem, transport Transport, archiver Archiver,
	state *storage.StateDB, urlFor func(storage.FileRecord) string,
	clock clockwork.Clock, cfg DriverConfig) *Driver {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}
	return &Driver{
		media:     media,
		transport: transport,
		archiver:  archiver,
		state:     state,
		urlFor:    urlFor,
		clock:     clock,
		cfg:       cfg,
	}
}

type downloadResult struct {
	item PlanItem
	err  error
}

// Run executes the plan: deletions sequentially, then downloads through
// the worker pool. Per-file failures are recorded in the retry ledger
// and the run continues; a streak of transient failures reaching
// FatalFailures aborts the run with the checkpoint preserved, so the
// next invocation resumes the remainder.
func (d *Driver) Run(ctx context.Context, plan *Plan, inv *Inventory, report *Report) error {
	logger := log.WithFields(log.Fields{
		"project": plan.Project.Name,
		"run_id":  plan.RunID,
	})

	if d.cfg.DryRun {
		d.dryRun(plan, report, logger)
		return nil
	}

	if plan.Mode != ModeResume {
		cp := &storage.Checkpoint{
			RunID:   plan.RunID,
			Project: plan.Project.Name,
			Mode:    string(plan.Mode),
			RunSeq:  plan.RunSeq,
		}
		for _, item := range plan.Items() {
			cp.Items = append(cp.Items, storage.CheckpointItem{Record: item.Record, Action: item.Action})
		}
		if err := d.state.SaveCheckpoint(ctx, cp); err != nil {
			return err
		}
	}

	report.SkippedSuppressed = len(plan.SkippedSuppressed)

	if err := d.runDeletes(ctx, plan, inv, report, logger); err != nil {
		return err
	}
	if err := d.runDownloads(ctx, plan, inv, report, logger); err != nil {
		return err
	}

	if err := d.state.ClearCheckpoint(ctx, plan.RunID); err != nil {
		return err
	}
	return nil
}

func (d *Driver) dryRun(plan *Plan, report *Report, logger *log.Entry) {
	for _, item := range plan.Deletes {
		logger.WithField("path", item.Record.RelPath).Info("would archive and delete")
		report.Deleted++
	}
	for _, item := range plan.Downloads {
		logger.WithFields(log.Fields{
			"path":       item.Record.RelPath,
			"population": item.Record.Population,
		}).Info("would download")
		report.Downloaded++
	}
	report.SkippedSuppressed = len(plan.SkippedSuppressed)
}

// runDeletes archives then removes each file, in plan order. Archiving
// failures skip the deletion: a file is never removed before a copy is
// safely archived.
func (d *Driver) runDeletes(ctx context.Context, plan *Plan, inv *Inventory, report *Report, logger *log.Entry) error {
	for _, item := range plan.Deletes {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec := item.Record

		if err := d.archiver.ArchiveDeleted(plan.Project, rec.RelPath); err != nil {
			logger.WithField("path", rec.RelPath).WithError(err).Warn("archive failed, keeping file")
			report.AddError(rec, err)
			continue
		}
		report.Archived++

		if err := d.media.Remove(rec.RelPath); err != nil {
			logger.WithField("path", rec.RelPath).WithError(err).Warn("delete failed")
			report.AddError(rec, err)
			continue
		}

		inv.Remove(rec.RelPath)
		if err := d.state.DeleteInventoryEntry(ctx, plan.Project.Name, rec.RelPath); err != nil {
			return err
		}
		if err := d.state.MarkItemDone(ctx, plan.RunID, rec, storage.ActionDelete); err != nil {
			return err
		}
		report.Deleted++
		report.Outcomes.Deleted[rec.RelPath] = true
	}
	return nil
}

func (d *Driver) runDownloads(ctx context.Context, plan *Plan, inv *Inventory, report *Report, logger *log.Entry) error {
	if len(plan.Downloads) == 0 {
		return nil
	}

	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan PlanItem)
	results := make(chan downloadResult)

	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.worker(workCtx, jobs, results)
		}()
	}
	go func() {
		defer close(jobs)
		for _, item := range plan.Downloads {
			select {
			case jobs <- item:
			case <-workCtx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	transientStreak := 0
	var fatal error
	for res := range results {
		if fatal != nil {
			continue // drain
		}
		rec := res.item.Record

		if res.err == nil {
			transientStreak = 0
			inv.Set(rec)
			if err := d.state.UpsertInventoryEntry(ctx, plan.Project.Name, rec); err != nil {
				fatal = err
				cancel()
				continue
			}
			if err := d.state.RecordSuccess(ctx, rec); err != nil {
				fatal = err
				cancel()
				continue
			}
			if err := d.state.MarkItemDone(ctx, plan.RunID, rec, storage.ActionDownload); err != nil {
				fatal = err
				cancel()
				continue
			}
			report.Downloaded++
			report.Outcomes.Downloaded[rec.RelPath] = true
			continue
		}

		report.AddError(rec, res.err)
		kind := storage.FailureTransient
		if errors.Is(res.err, common.ErrNotFound) {
			kind = storage.FailureNonexistent
		} else {
			transientStreak++
		}
		logger.WithFields(log.Fields{
			"path": rec.RelPath,
			"kind": kind,
		}).WithError(res.err).Warn("download failed")

		if err := d.state.RecordFailure(ctx, rec, kind, plan.RunSeq, d.cfg.Suppression); err != nil {
			fatal = err
			cancel()
			continue
		}

		if d.cfg.FatalFailures > 0 && transientStreak >= d.cfg.FatalFailures {
			fatal = fmt.Errorf("%w: %d consecutive transient download failures",
				common.ErrRemoteUnavailable, transientStreak)
			cancel()
		}
	}

	if fatal != nil {
		// Checkpoint stays; the next run resumes the remainder.
		return fatal
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// worker downloads items until the job stream closes. Each worker owns
// one transport session for its whole lifetime.
func (d *Driver) worker(ctx context.Context, jobs <-chan PlanItem, results chan<- downloadResult) {
	session := d.transport.NewSession()
	defer session.Close()

	for item := range jobs {
		d.clock.Sleep(d.cfg.RequestDelay)
		err := d.fetchOne(ctx, session, item.Record)
		select {
		case results <- downloadResult{item: item, err: err}:
		case <-ctx.Done():
			return
		}
	}
}

// fetchOne downloads a record into a temp file and renames it into
// place, so a partially written file is never observable at the final
// path. Transient failures retry in place before surfacing.
func (d *Driver) fetchOne(ctx context.Context, session TransportSession, rec storage.FileRecord) error {
	dir := path.Dir(rec.RelPath)
	if err := d.media.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create media dir %s: %w", dir, err)
	}

	tmp, err := d.media.TempFile(dir, tempPrefix)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		tmp.Close()
		_ = d.media.Remove(tmpName)
	}

	url := d.urlFor(rec)
	err = util.Retry(ctx, func() error {
		reqCtx := ctx
		if d.cfg.RequestTimeout > 0 {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, d.cfg.RequestTimeout)
			defer cancel()
		}
		if _, err := tmp.Seek(0, 0); err != nil {
			return err
		}
		if err := tmp.Truncate(0); err != nil {
			return err
		}
		return session.Download(reqCtx, url, tmp)
	}, util.HTTPRetryOptions(ctx, d.cfg.Retries, d.cfg.RequestDelay)...)
	if err != nil {
		cleanup()
		return err
	}

	if err := tmp.Close(); err != nil {
		_ = d.media.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := d.media.Rename(tmpName, rec.RelPath); err != nil {
		_ = d.media.Remove(tmpName)
		return fmt.Errorf("place %s: %w", rec.RelPath, err)
	}
	return nil
}
