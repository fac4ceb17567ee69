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

// Package syncer implements the snapshot-diff reconciliation engine:
// it ingests remote file-listing snapshots, computes what changed since
// the previous run, plans bounded download and deletion work, and drives
// execution with durable checkpoints so an interrupted run resumes
// exactly where it stopped.
package syncer

import (
	"context"
	"io"

	"mediamirror/internal/storage"
)

// Project is one remote wiki being mirrored.
type Project struct {
	Name     string // dbname, e.g. "enwiki"
	Type     string // project family, e.g. "wikipedia"
	LangCode string // language code, e.g. "en"
}

// Dir returns the project's media subdirectory relative to the media root.
func (p Project) Dir() string {
	return p.Type + "/" + p.LangCode
}

// Mode selects which part of a reconciliation run executes.
type Mode string

const (
	ModeFull          Mode = "full"
	ModeDeletesOnly   Mode = "deletes_only"
	ModeDownloadsOnly Mode = "downloads_only"
	ModeResume        Mode = "resume"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeFull, ModeDeletesOnly, ModeDownloadsOnly, ModeResume:
		return true
	}
	return false
}

// ListingFetcher retrieves the authoritative remote file listing for one
// population of a project.
type ListingFetcher interface {
	FetchListing(ctx context.Context, pop storage.Population, project Project) ([]storage.FileRecord, error)
}

// Transport hands out download sessions. Each worker owns exactly one
// session for its lifetime; sessions are never shared.
type Transport interface {
	NewSession() TransportSession
}

// TransportSession performs downloads over one logical connection.
type TransportSession interface {
	// Download streams the body of url into w. Failures are classified:
	// common.ErrNotFound, common.ErrTimeout or common.ErrTransient.
	Download(ctx context.Context, url string, w io.Writer) error
	Close() error
}

// Archiver preserves local files before the driver deletes them.
type Archiver interface {
	// ArchiveDeleted copies the project-relative media file into the
	// archive area, overwriting any previously archived version.
	// Failures are common.ErrArchiveUnavailable.
	ArchiveDeleted(project Project, relPath string) error
}
