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
	"time"

	"mediamirror/internal/storage"
)

// maxReportErrors bounds how many per-file errors a report retains.
// Beyond the cap only the count grows.
const maxReportErrors = 50

// ErrorRecord is one per-file failure retained in the run report.
type ErrorRecord struct {
	Population storage.Population
	RelPath    string
	Err        error
}

// Report summarizes one reconciliation run for a project.
type Report struct {
	RunID   string
	Project Project
	Mode    Mode
	DryRun  bool

	Started  time.Time
	Finished time.Time

	Downloaded        int
	Deleted           int
	Archived          int
	Failed            int
	SkippedSuppressed int

	// Outcomes keys the successful operations by path so the inventory
	// can be advanced without rescanning disk.
	Outcomes Outcomes

	Errors []ErrorRecord
}

// NewReport initializes a report for a run.
func NewReport(runID string, project Project, mode Mode, dryRun bool, started time.Time) *Report {
	return &Report{
		RunID:   runID,
		Project: project,
		Mode:    mode,
		DryRun:  dryRun,
		Started: started,
		Outcomes: Outcomes{
			Downloaded: make(map[string]bool),
			Deleted:    make(map[string]bool),
		},
	}
}

// AddError records a per-file failure, keeping at most maxReportErrors
// detailed entries.
func (r *Report) AddError(rec storage.FileRecord, err error) {
	r.Failed++
	if len(r.Errors) >= maxReportErrors {
		return
	}
	r.Errors = append(r.Errors, ErrorRecord{
		Population: rec.Population,
		RelPath:    rec.RelPath,
		Err:        err,
	})
}

// Summary returns a one-line human summary suitable for log output.
func (r *Report) Summary() string {
	prefix := ""
	if r.DryRun {
		prefix = "[dry-run] "
	}
	return fmt.Sprintf("%s%s: downloaded=%d deleted=%d archived=%d failed=%d suppressed=%d elapsed=%s",
		prefix, r.Project.Name, r.Downloaded, r.Deleted, r.Archived, r.Failed,
		r.SkippedSuppressed, r.Finished.Sub(r.Started).Round(time.Millisecond))
}
