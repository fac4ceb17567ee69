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

	"github.com/spf13/cobra"

	"mediamirror/internal/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status <project> [project ...]",
	Short: "Show sync state for projects",
	Long: `Show the sync state for the named projects: last run, any
interrupted run awaiting resumption, and files currently suppressed by
the retry ledger.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	state, err := storage.Open(cfg.Dirs.StateDir)
	if err != nil {
		return err
	}
	defer state.Close()

	for _, project := range args {
		lastSeq, err := state.LastRunSeq(ctx, project)
		if err != nil {
			return err
		}
		fmt.Printf("%s:\n", project)
		if lastSeq == 0 {
			fmt.Println("  never synced")
			continue
		}
		fmt.Printf("  last run: #%d\n", lastSeq)

		cp, err := state.LoadCheckpoint(ctx, project)
		if err != nil {
			return err
		}
		if cp != nil && len(cp.Pending()) > 0 {
			fmt.Printf("  interrupted run %s: %d of %d items pending\n",
				cp.RunID, len(cp.Pending()), len(cp.Items))
		}

		for _, pop := range storage.Populations() {
			snap, err := state.LatestSnapshot(ctx, pop, project)
			if err != nil {
				return err
			}
			if snap != nil {
				fmt.Printf("  %s listing: %d files, captured %s\n",
					pop, len(snap.Records), snap.CapturedAt.Format("2006-01-02 15:04:05"))
			}
		}

		suppressed, err := state.ListSuppressed(ctx, project, lastSeq)
		if err != nil {
			return err
		}
		if len(suppressed) > 0 {
			fmt.Printf("  suppressed files: %d\n", len(suppressed))
			for _, entry := range suppressed {
				fmt.Printf("    %s/%s (until run #%d)\n",
					entry.Population, entry.RelPath, entry.SuppressedUntilRun)
			}
		}
	}
	return nil
}
