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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `
dirs:
  media_dir: /srv/media
  archive_dir: /srv/archive
  state_dir: /srv/state
urls:
  api_url: https://example.org/w/api.php
  media_lists_url: https://example.org/lists
  uploaded_media_url: https://upload.example.org
  foreignrepo_media_url: https://upload.example.org/shared
misc:
  foreign_repo: sharedwiki
`

func TestParseAppliesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.Limits.HTTPWaitMS)
	assert.Equal(t, 3, cfg.Limits.HTTPRetries)
	assert.Equal(t, 1000, cfg.Limits.MaxUploadedGets)
	assert.Equal(t, 3, cfg.Limits.SuppressAfter)
	assert.Equal(t, 5, cfg.Limits.SuppressRuns)
	assert.Equal(t, 10, cfg.Limits.FatalFailures)
	assert.Equal(t, 2, cfg.Limits.Concurrency)
	assert.Equal(t, "mediamirror/1.0", cfg.Misc.UserAgent)

	assert.Equal(t, time.Second, cfg.HTTPWait())
	assert.Equal(t, 20*time.Second, cfg.HTTPTimeout())
}

func TestParseOverrides(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(minimalConfig + `
limits:
  http_wait_ms: 250
  concurrency: 8
  max_uploaded_gets: 50
`))
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.HTTPWait())
	assert.Equal(t, 8, cfg.Limits.Concurrency)
	assert.Equal(t, 50, cfg.Limits.MaxUploadedGets)
}

func TestValidateRejectsMissingDirs(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte(`
urls:
  api_url: https://example.org/w/api.php
  media_lists_url: https://example.org/lists
  uploaded_media_url: https://upload.example.org
  foreignrepo_media_url: https://upload.example.org/shared
misc:
  foreign_repo: sharedwiki
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be empty")
}

func TestValidateRejectsBadURL(t *testing.T) {
	t.Parallel()

	bad := `
dirs:
  media_dir: /srv/media
  archive_dir: /srv/archive
  state_dir: /srv/state
urls:
  api_url: not-a-url
  media_lists_url: https://example.org/lists
  uploaded_media_url: https://upload.example.org
  foreignrepo_media_url: https://upload.example.org/shared
misc:
  foreign_repo: sharedwiki
`
	_, err := Parse([]byte(bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid url")
}

func TestValidateRejectsMissingForeignRepo(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte(`
dirs:
  media_dir: /srv/media
  archive_dir: /srv/archive
  state_dir: /srv/state
urls:
  api_url: https://example.org/w/api.php
  media_lists_url: https://example.org/lists
  uploaded_media_url: https://upload.example.org
  foreignrepo_media_url: https://upload.example.org/shared
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "foreign_repo")
}

func TestWriteDefaultAndLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "mediamirror.yaml")
	require.NoError(t, WriteDefault(path))

	// The template must parse and validate as written.
	_, err := Load(path)
	require.NoError(t, err)

	// Never overwrite an existing file.
	err = WriteDefault(path)
	require.Error(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}
