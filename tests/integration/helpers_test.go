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

// Package integration exercises a whole sync pass against a fake remote:
// an httptest server publishes the dated listing index, the gzipped
// listings and the media bodies, and the engine mirrors them into real
// temp directories backed by a real state database.
package integration

import (
	"compress/gzip"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"mediamirror/internal/archive"
	"mediamirror/internal/common"
	"mediamirror/internal/remote"
	"mediamirror/internal/storage"
	"mediamirror/internal/syncer"
)

const listingDate = "20250210"

var testProject = syncer.Project{Name: "enwiki", Type: "wikipedia", LangCode: "en"}

// fakeRemote is the whole remote side in one handler: listing index,
// listing files and media bodies. Uploaded and Foreign hold the original
// (unhashed) file names; bodies are derived from the name unless Missing
// marks it gone.
type fakeRemote struct {
	mu       sync.Mutex
	Uploaded map[string]string // name -> listing timestamp
	Foreign  []string          // names, no timestamps
	Missing  map[string]bool   // names whose media request 404s

	server *httptest.Server
}

func newFakeRemote(t *testing.T) *fakeRemote {
	t.Helper()
	r := &fakeRemote{
		Uploaded: map[string]string{},
		Missing:  map[string]bool{},
	}
	r.server = httptest.NewServer(http.HandlerFunc(r.handle))
	t.Cleanup(r.server.Close)
	return r
}

func (r *fakeRemote) URL() string { return r.server.URL }

func (r *fakeRemote) handle(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := req.URL.Path
	switch {
	case p == "/lists/" || p == "/lists":
		fmt.Fprintf(w, `<a href="%s/">%s/</a>`+"\n", listingDate, listingDate)
	case strings.HasSuffix(p, "-local-wikiqueries.gz"):
		lines := []string{"img_name\timg_timestamp"}
		names := make([]string, 0, len(r.Uploaded))
		for name := range r.Uploaded {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			lines = append(lines, name+"\t"+r.Uploaded[name])
		}
		writeGzip(w, lines)
	case strings.HasSuffix(p, "-remote-wikiqueries.gz"):
		lines := []string{"img_name"}
		lines = append(lines, r.Foreign...)
		writeGzip(w, lines)
	case strings.HasPrefix(p, "/media/"):
		name := p[strings.LastIndex(p, "/")+1:]
		if r.Missing[name] {
			http.NotFound(w, req)
			return
		}
		fmt.Fprintf(w, "media body of %s at %s", name, r.version(name))
	default:
		http.NotFound(w, req)
	}
}

// version lets a test change a served body without changing the name.
func (r *fakeRemote) version(name string) string {
	return r.Uploaded[name]
}

func writeGzip(w http.ResponseWriter, lines []string) {
	gz := gzip.NewWriter(w)
	for _, line := range lines {
		gz.Write([]byte(line + "\n"))
	}
	gz.Close()
}

// SyncEnv holds one isolated engine instance over temp dirs.
type SyncEnv struct {
	t          *testing.T
	Remote     *fakeRemote
	MediaDir   string
	ArchiveDir string
	StateDir   string
	State      *storage.StateDB
	opts       syncer.Options
}

func newSyncEnv(t *testing.T) *SyncEnv {
	t.Helper()

	env := &SyncEnv{
		t:          t,
		Remote:     newFakeRemote(t),
		MediaDir:   t.TempDir(),
		ArchiveDir: t.TempDir(),
	}

	env.StateDir = t.TempDir()
	state, err := storage.Open(env.StateDir)
	if err != nil {
		t.Fatalf("open state db: %v", err)
	}
	t.Cleanup(func() { state.Close() })
	env.State = state

	env.opts = syncer.Options{
		MediaDir: env.MediaDir,
		StateDir: env.StateDir,
		Quotas:   syncer.Quotas{Uploaded: 1000, ForeignRepo: 1000},
		Driver: syncer.DriverConfig{
			Concurrency:    2,
			RequestDelay:   0,
			RequestTimeout: 5 * time.Second,
			Retries:        1,
			FatalFailures:  10,
			Suppression:    storage.SuppressionPolicy{After: 3, ForRuns: 5},
		},
	}
	return env
}

// NewSyncer builds a syncer over the env's remote and dirs. mutate can
// adjust the options (dry-run, modes of suppression, quotas) per test.
func (env *SyncEnv) NewSyncer(mutate func(*syncer.Options)) *syncer.Syncer {
	opts := env.opts
	if mutate != nil {
		mutate(&opts)
	}

	lists := remote.NewListClient(remote.ListConfig{
		MediaListsURL: env.Remote.URL() + "/lists",
		UserAgent:     "mediamirror-test",
		Timeout:       5 * time.Second,
		Retries:       1,
		Wait:          time.Millisecond,
	})
	urls := remote.MediaURLs{
		UploadedBase:    env.Remote.URL() + "/media",
		ForeignRepoBase: env.Remote.URL() + "/media/global",
	}
	transport := remote.NewHTTPTransport("mediamirror-test")
	archiver := archive.New(env.MediaDir, env.ArchiveDir)

	return syncer.New(env.State, lists, transport, archiver, urls.For, opts)
}

// MediaPath returns the on-disk location of a project media file.
func (env *SyncEnv) MediaPath(relPath string) string {
	return filepath.Join(env.MediaDir, filepath.FromSlash(testProject.Dir()), filepath.FromSlash(relPath))
}

// ArchivedPath returns where a deleted file's archived copy lands.
func (env *SyncEnv) ArchivedPath(relPath string) string {
	return filepath.Join(env.ArchiveDir, "deleted", filepath.FromSlash(testProject.Dir()), filepath.FromSlash(relPath))
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// hashed mirrors the media layout for the fixture names used in tests.
var hashed = map[string]string{
	"Foo.jpg":     "0/06/Foo.jpg",
	"Bar.png":     "e/e1/Bar.png",
	"Example.ogg": "c/c8/Example.ogg",
}

func relPathFor(t *testing.T, name string) string {
	t.Helper()
	rel := common.HashedPath(name)
	if want, ok := hashed[name]; ok && rel != want {
		t.Fatalf("hashed path for %s: got %s, want %s", name, rel, want)
	}
	return rel
}
