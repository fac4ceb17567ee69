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

// Package config loads and validates the mediamirror configuration file.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"mediamirror/internal/artifacts"
)

// Dirs holds the local directory layout.
type Dirs struct {
	MediaDir   string `yaml:"media_dir"`   // mirrored media tree
	ArchiveDir string `yaml:"archive_dir"` // archived deletions and inactive projects
	StateDir   string `yaml:"state_dir"`   // sync state database and run lock
}

// URLs holds the remote endpoints.
type URLs struct {
	APIURL              string `yaml:"api_url"`               // site matrix endpoint
	MediaListsURL       string `yaml:"media_lists_url"`       // dated per-project file listings
	UploadedMediaURL    string `yaml:"uploaded_media_url"`    // base URL of project-uploaded media
	ForeignRepoMediaURL string `yaml:"foreignrepo_media_url"` // base URL of foreign-repo media
}

// Limits holds the per-run and per-request budgets.
type Limits struct {
	HTTPWaitMS        int `yaml:"http_wait_ms"`         // courtesy delay between requests per worker
	HTTPTimeoutMS     int `yaml:"http_timeout_ms"`      // per-request timeout
	HTTPRetries       int `yaml:"http_retries"`         // in-request retry attempts
	MaxUploadedGets   int `yaml:"max_uploaded_gets"`    // download quota, uploaded population
	MaxForeignGets    int `yaml:"max_foreignrepo_gets"` // download quota, foreign-repo population
	SuppressAfter     int `yaml:"suppress_after"`       // consecutive failed runs before suppression
	SuppressRuns      int `yaml:"suppress_runs"`        // runs a suppressed file sits out
	FatalFailures     int `yaml:"fatal_failures"`       // consecutive transient failures before the run aborts
	Concurrency       int `yaml:"concurrency"`          // download worker count
	FullScanEveryRuns int `yaml:"full_scan_every"`      // runs between full local rescans (0 = always scan)
}

// Misc holds the remaining settings.
type Misc struct {
	ForeignRepo string   `yaml:"foreign_repo"` // project name of the shared repo, excluded from mirroring
	UserAgent   string   `yaml:"user_agent"`
	Excludes    []string `yaml:"excludes"` // gitignore-style patterns skipped during local scans
}

// Config is the full configuration file.
type Config struct {
	Dirs   Dirs   `yaml:"dirs"`
	URLs   URLs   `yaml:"urls"`
	Limits Limits `yaml:"limits"`
	Misc   Misc   `yaml:"misc"`
}

// ApplyDefaults fills zero-value fields with their defaults.
func (cfg *Config) ApplyDefaults() {
	if cfg.Limits.HTTPWaitMS == 0 {
		cfg.Limits.HTTPWaitMS = 1000
	}
	if cfg.Limits.HTTPTimeoutMS == 0 {
		cfg.Limits.HTTPTimeoutMS = 20000
	}
	if cfg.Limits.HTTPRetries == 0 {
		cfg.Limits.HTTPRetries = 3
	}
	if cfg.Limits.MaxUploadedGets == 0 {
		cfg.Limits.MaxUploadedGets = 1000
	}
	if cfg.Limits.MaxForeignGets == 0 {
		cfg.Limits.MaxForeignGets = 1000
	}
	if cfg.Limits.SuppressAfter == 0 {
		cfg.Limits.SuppressAfter = 3
	}
	if cfg.Limits.SuppressRuns == 0 {
		cfg.Limits.SuppressRuns = 5
	}
	if cfg.Limits.FatalFailures == 0 {
		cfg.Limits.FatalFailures = 10
	}
	if cfg.Limits.Concurrency == 0 {
		cfg.Limits.Concurrency = 2
	}
	if cfg.Misc.UserAgent == "" {
		cfg.Misc.UserAgent = "mediamirror/1.0"
	}
}

// HTTPWait returns the inter-request delay as a duration.
func (cfg *Config) HTTPWait() time.Duration {
	return time.Duration(cfg.Limits.HTTPWaitMS) * time.Millisecond
}

// HTTPTimeout returns the per-request timeout as a duration.
func (cfg *Config) HTTPTimeout() time.Duration {
	return time.Duration(cfg.Limits.HTTPTimeoutMS) * time.Millisecond
}

// Validate checks directory settings, URLs and numeric limits.
func (cfg *Config) Validate() error {
	dirs := map[string]string{
		"dirs.media_dir":   cfg.Dirs.MediaDir,
		"dirs.archive_dir": cfg.Dirs.ArchiveDir,
		"dirs.state_dir":   cfg.Dirs.StateDir,
	}
	for name, dir := range dirs {
		if dir == "" {
			return fmt.Errorf("setting %s cannot be empty", name)
		}
	}

	urls := map[string]string{
		"urls.api_url":               cfg.URLs.APIURL,
		"urls.media_lists_url":       cfg.URLs.MediaListsURL,
		"urls.uploaded_media_url":    cfg.URLs.UploadedMediaURL,
		"urls.foreignrepo_media_url": cfg.URLs.ForeignRepoMediaURL,
	}
	for name, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid url %q for setting %s", raw, name)
		}
	}

	limits := map[string]int{
		"limits.http_wait_ms":        cfg.Limits.HTTPWaitMS,
		"limits.http_timeout_ms":     cfg.Limits.HTTPTimeoutMS,
		"limits.http_retries":        cfg.Limits.HTTPRetries,
		"limits.max_uploaded_gets":   cfg.Limits.MaxUploadedGets,
		"limits.max_foreignrepo_gets": cfg.Limits.MaxForeignGets,
		"limits.suppress_after":      cfg.Limits.SuppressAfter,
		"limits.suppress_runs":       cfg.Limits.SuppressRuns,
		"limits.fatal_failures":      cfg.Limits.FatalFailures,
		"limits.concurrency":         cfg.Limits.Concurrency,
	}
	for name, v := range limits {
		if v < 1 {
			return fmt.Errorf("setting %s must be a positive number, %d given", name, v)
		}
	}
	if cfg.Limits.FullScanEveryRuns < 0 {
		return fmt.Errorf("setting limits.full_scan_every must not be negative")
	}

	if cfg.Misc.ForeignRepo == "" {
		return fmt.Errorf("setting misc.foreign_repo cannot be empty")
	}
	return nil
}

// Load reads and parses the config file at path, applies defaults and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses raw YAML config bytes, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WriteDefault writes the embedded default config template to path,
// refusing to overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("file already exists: %s", path)
	}
	return os.WriteFile(path, artifacts.DefaultConfig, 0600)
}
