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

	"mediamirror/internal/remote"
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List the active projects on the remote",
	RunE:  runProjects,
}

func init() {
	rootCmd.AddCommand(projectsCmd)
}

func runProjects(cmd *cobra.Command, args []string) error {
	client := remote.NewProjectClient(remote.ProjectConfig{
		APIURL:      cfg.URLs.APIURL,
		ForeignRepo: cfg.Misc.ForeignRepo,
		UserAgent:   cfg.Misc.UserAgent,
		Timeout:     cfg.HTTPTimeout(),
		Retries:     uint(cfg.Limits.HTTPRetries),
		Wait:        cfg.HTTPWait(),
	})
	projects, err := client.ActiveProjects(cmd.Context())
	if err != nil {
		return err
	}
	for _, p := range projects {
		fmt.Printf("%s\t%s\n", p.Name, p.Dir())
	}
	fmt.Printf("%d active projects\n", len(projects))
	return nil
}
