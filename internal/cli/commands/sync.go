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

package commands

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"mediamirror/internal/archive"
	"mediamirror/internal/remote"
	"mediamirror/internal/storage"
	"mediamirror/internal/syncer"
)

var (
	syncMode    string
	syncDryRun  bool
	syncArchive bool
)

var syncCmd = &cobra.Command{
	Use:   "sync [project ...]",
	Short: "Run one reconciliation pass",
	Long: `Run one reconciliation pass for the named projects, or for every
active project on the remote when none are named.

Modes:
  full            deletions then downloads (default)
  deletes_only    only archive-and-delete files gone from the remote
  downloads_only  only fetch new or changed files`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringVar(&syncMode, "mode", string(syncer.ModeFull), "sync mode: full, deletes_only or downloads_only")
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "report planned work without touching disk or state")
	syncCmd.Flags().BoolVar(&syncArchive, "archive-inactive", false, "archive local project dirs no longer active on the remote")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	mode := syncer.Mode(syncMode)
	if !mode.Valid() || mode == syncer.ModeResume {
		return fmt.Errorf("unknown sync mode %q", syncMode)
	}

	projectClient := remote.NewProjectClient(remote.ProjectConfig{
		APIURL:      cfg.URLs.APIURL,
		ForeignRepo: cfg.Misc.ForeignRepo,
		UserAgent:   cfg.Misc.UserAgent,
		Timeout:     cfg.HTTPTimeout(),
		Retries:     uint(cfg.Limits.HTTPRetries),
		Wait:        cfg.HTTPWait(),
	})
	active, err := projectClient.ActiveProjects(ctx)
	if err != nil {
		return err
	}
	todo, err := selectProjects(active, args)
	if err != nil {
		return err
	}

	archiver := archive.New(cfg.Dirs.MediaDir, cfg.Dirs.ArchiveDir)
	if syncArchive && !syncDryRun {
		bundled, err := archiver.ArchiveInactive(active)
		if err != nil {
			return err
		}
		if len(bundled) > 0 {
			log.WithField("projects", bundled).Info("archived inactive project dirs")
		}
	}

	state, err := storage.Open(cfg.Dirs.StateDir)
	if err != nil {
		return err
	}
	defer state.Close()

	lists := remote.NewListClient(remote.ListConfig{
		MediaListsURL: cfg.URLs.MediaListsURL,
		UserAgent:     cfg.Misc.UserAgent,
		Timeout:       cfg.HTTPTimeout(),
		Retries:       uint(cfg.Limits.HTTPRetries),
		Wait:          cfg.HTTPWait(),
	})
	urls := remote.MediaURLs{
		UploadedBase:    cfg.URLs.UploadedMediaURL,
		ForeignRepoBase: cfg.URLs.ForeignRepoMediaURL,
	}

	s := syncer.New(state, lists, remote.NewHTTPTransport(cfg.Misc.UserAgent), archiver,
		urls.For, syncer.Options{
			MediaDir: cfg.Dirs.MediaDir,
			StateDir: cfg.Dirs.StateDir,
			Excludes: cfg.Misc.Excludes,
			Quotas: syncer.Quotas{
				Uploaded:    cfg.Limits.MaxUploadedGets,
				ForeignRepo: cfg.Limits.MaxForeignGets,
			},
			Driver: syncer.DriverConfig{
				Concurrency:    cfg.Limits.Concurrency,
				RequestDelay:   cfg.HTTPWait(),
				RequestTimeout: cfg.HTTPTimeout(),
				Retries:        uint(cfg.Limits.HTTPRetries),
				FatalFailures:  cfg.Limits.FatalFailures,
				DryRun:         syncDryRun,
				Suppression: storage.SuppressionPolicy{
					After:   cfg.Limits.SuppressAfter,
					ForRuns: cfg.Limits.SuppressRuns,
				},
			},
			FullScanEveryRuns: cfg.Limits.FullScanEveryRuns,
		})

	failed := 0
	for _, project := range todo {
		report, err := s.SyncProject(ctx, project, mode)
		if err != nil {
			failed++
			log.WithField("project", project.Name).WithError(err).Error("sync failed")
			continue
		}
		fmt.Println(report.Summary())
		for _, e := range report.Errors {
			log.WithFields(log.Fields{
				"project":    project.Name,
				"population": e.Population,
				"path":       e.RelPath,
			}).WithError(e.Err).Warn("file failed during run")
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d projects failed to sync", failed, len(todo))
	}
	return nil
}

// selectProjects picks the projects to operate on: the named ones, or
// all active projects when none are named. Naming an unknown project is
// an error rather than a silent skip.
func selectProjects(active []syncer.Project, names []string) ([]syncer.Project, error) {
	if len(names) == 0 {
		return active, nil
	}
	byName := make(map[string]syncer.Project, len(active))
	for _, p := range active {
		byName[p.Name] = p
	}
	var todo []syncer.Project
	for _, name := range names {
		p, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("project %q not active on remote", name)
		}
		todo = append(todo, p)
	}
	return todo, nil
}
