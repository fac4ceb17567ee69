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

// Package archive preserves local media before it disappears: files the
// remote no longer lists are copied aside before deletion, and whole
// projects that went inactive are bundled into tarballs.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path"
	"sort"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"mediamirror/internal/common"
	"mediamirror/internal/syncer"
)

// Archiver implements syncer.Archiver on top of two directory trees:
// the media mirror and the archive area. The two may live on different
// filesystems, so files are copied rather than renamed.
type Archiver struct {
	media   billy.Filesystem
	archive billy.Filesystem
	clock   clockwork.Clock
}

// New returns an archiver over the given media and archive roots.
func New(mediaDir, archiveDir string) *Archiver {
	return &Archiver{
		media:   osfs.New(mediaDir),
		archive: osfs.New(archiveDir),
		clock:   clockwork.NewRealClock(),
	}
}

// SetClock replaces the wall clock, for tests.
func (a *Archiver) SetClock(clock clockwork.Clock) {
	a.clock = clock
}

// ArchiveDeleted copies one media file into
// deleted/<type>/<lang>/<hashdir>/<name>, overwriting any previously
// archived version. Only one deleted generation is kept.
func (a *Archiver) ArchiveDeleted(project syncer.Project, relPath string) error {
	src := path.Join(project.Dir(), relPath)
	dst := path.Join("deleted", project.Dir(), relPath)

	if err := a.archive.MkdirAll(path.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("%w: create archive dir: %v", common.ErrArchiveUnavailable, err)
	}
	in, err := a.media.Open(src)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", common.ErrArchiveUnavailable, src, err)
	}
	defer in.Close()

	out, err := a.archive.Create(dst)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", common.ErrArchiveUnavailable, dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = a.archive.Remove(dst)
		return fmt.Errorf("%w: copy %s: %v", common.ErrArchiveUnavailable, relPath, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", common.ErrArchiveUnavailable, dst, err)
	}
	return nil
}

// ArchiveInactive walks the mirror tree and handles every project
// directory that is no longer active: empty directories are removed,
// non-empty ones are bundled into inactive/<type>-<lang>-<stamp>-media.tar.gz
// and then deleted from the mirror. Returns the dirs that were bundled.
func (a *Archiver) ArchiveInactive(active []syncer.Project) ([]string, error) {
	activeDirs := make(map[string]bool, len(active))
	for _, p := range active {
		activeDirs[p.Dir()] = true
	}

	local, err := a.localProjectDirs()
	if err != nil {
		return nil, err
	}

	var bundled []string
	for _, dir := range local {
		if activeDirs[dir] {
			continue
		}
		empty, err := a.projectEmpty(dir)
		if err != nil {
			return bundled, err
		}
		if empty {
			log.WithField("dir", dir).Info("removing empty inactive project dir")
			if err := util.RemoveAll(a.media, dir); err != nil {
				return bundled, fmt.Errorf("%w: remove %s: %v", common.ErrArchiveUnavailable, dir, err)
			}
			continue
		}
		log.WithField("dir", dir).Info("archiving inactive project")
		if err := a.bundleProject(dir); err != nil {
			return bundled, err
		}
		if err := util.RemoveAll(a.media, dir); err != nil {
			return bundled, fmt.Errorf("%w: remove %s after bundling: %v", common.ErrArchiveUnavailable, dir, err)
		}
		bundled = append(bundled, dir)
	}
	return bundled, nil
}

// localProjectDirs lists the <type>/<lang> directories present in the
// mirror, sorted.
func (a *Archiver) localProjectDirs() ([]string, error) {
	types, err := a.media.ReadDir(".")
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read media root: %v", common.ErrArchiveUnavailable, err)
	}

	var dirs []string
	for _, t := range types {
		if !t.IsDir() {
			continue
		}
		langs, err := a.media.ReadDir(t.Name())
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", common.ErrArchiveUnavailable, t.Name(), err)
		}
		for _, l := range langs {
			if l.IsDir() {
				dirs = append(dirs, path.Join(t.Name(), l.Name()))
			}
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

func (a *Archiver) projectEmpty(dir string) (bool, error) {
	empty := true
	err := util.Walk(a.media, dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			empty = false
			return io.EOF // stop the walk, one file is enough
		}
		return nil
	})
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("%w: inspect %s: %v", common.ErrArchiveUnavailable, dir, err)
	}
	return empty, nil
}

// bundleProject writes the project dir into a dated tarball under
// inactive/.
func (a *Archiver) bundleProject(dir string) error {
	stamp := a.clock.Now().UTC().Format("20060102150405")
	name := path.Join("inactive",
		fmt.Sprintf("%s-%s-media.tar.gz", pathToName(dir), stamp))

	if err := a.archive.MkdirAll("inactive", 0o755); err != nil {
		return fmt.Errorf("%w: create inactive dir: %v", common.ErrArchiveUnavailable, err)
	}
	out, err := a.archive.Create(name)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", common.ErrArchiveUnavailable, name, err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	err = util.Walk(a.media, dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		hdr := &tar.Header{
			Name:    p,
			Mode:    0o644,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := a.media.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		tw.Close()
		gz.Close()
		_ = a.archive.Remove(name)
		return fmt.Errorf("%w: bundle %s: %v", common.ErrArchiveUnavailable, dir, err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("%w: finish tar for %s: %v", common.ErrArchiveUnavailable, dir, err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("%w: finish gzip for %s: %v", common.ErrArchiveUnavailable, dir, err)
	}
	return nil
}

// pathToName flattens "wikipedia/en" into "wikipedia-en".
func pathToName(dir string) string {
	out := []byte(dir)
	for i, c := range out {
		if c == '/' {
			out[i] = '-'
		}
	}
	return string(out)
}
