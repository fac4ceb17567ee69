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
	"sort"
	"time"
)

// Population identifies one of the two remote file sources.
type Population string

const (
	// PopulationUploaded is media uploaded directly to a project.
	// Listings for this population carry remote timestamps.
	PopulationUploaded Population = "uploaded"

	// PopulationForeignRepo is media hosted on the shared repository and
	// used by a project. The remote exposes no modification time for this
	// population; that absence is permanent, not a transient gap.
	PopulationForeignRepo Population = "foreignrepo"
)

// HasTimestamps reports whether listings for this population carry a
// remote modification time.
func (p Population) HasTimestamps() bool {
	return p == PopulationUploaded
}

// Valid reports whether p is a known population.
func (p Population) Valid() bool {
	return p == PopulationUploaded || p == PopulationForeignRepo
}

// Populations lists all populations in a fixed order.
func Populations() []Population {
	return []Population{PopulationUploaded, PopulationForeignRepo}
}

// FileRecord identifies one remote media file within a project.
// Identity is (Project, Population, RelPath); Size and Timestamp are
// advisory. Timestamp is the zero value for the foreign-repo population.
type FileRecord struct {
	Project    string
	Population Population
	RelPath    string
	Size       int64
	Timestamp  time.Time
}

// HasTimestamp reports whether the record carries a remote timestamp.
func (r FileRecord) HasTimestamp() bool {
	return !r.Timestamp.IsZero()
}

// Snapshot is a captured, immutable listing of remote files for one
// (population, project) pair. Records are sorted by RelPath and unique
// per path.
type Snapshot struct {
	ID         string
	Project    string
	Population Population
	Seq        int64
	CapturedAt time.Time
	Records    []FileRecord
}

// NewSnapshot builds an unpersisted snapshot from raw listing records:
// project and population are stamped onto every record, paths are sorted
// and duplicates dropped. RecordSnapshot applies the same normalization
// before writing; this constructor serves callers that diff without
// persisting, such as dry runs.
func NewSnapshot(pop Population, project string, records []FileRecord) *Snapshot {
	sorted := make([]FileRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RelPath < sorted[j].RelPath })
	deduped := sorted[:0]
	for i, rec := range sorted {
		if i > 0 && rec.RelPath == sorted[i-1].RelPath {
			continue
		}
		rec.Project = project
		rec.Population = pop
		deduped = append(deduped, rec)
	}
	return &Snapshot{
		Project:    project,
		Population: pop,
		Records:    deduped,
	}
}

// Index returns the snapshot's records keyed by relative path.
func (s *Snapshot) Index() map[string]FileRecord {
	idx := make(map[string]FileRecord, len(s.Records))
	for _, rec := range s.Records {
		idx[rec.RelPath] = rec
	}
	return idx
}
