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

package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"mediamirror/internal/common"
	"mediamirror/internal/storage"
	"mediamirror/internal/syncer"
	"mediamirror/internal/util"
)

// ProjectConfig configures project discovery.
type ProjectConfig struct {
	// APIURL is the MediaWiki API endpoint answering sitematrix queries.
	APIURL string

	// ForeignRepo is the dbname of the shared media repository; it is
	// excluded from discovery since mirroring all of it is never wanted.
	ForeignRepo string

	UserAgent string
	Timeout   time.Duration
	Retries   uint
	Wait      time.Duration
}

// ProjectClient discovers the active projects on the remote side.
type ProjectClient struct {
	client *http.Client
	cfg    ProjectConfig
}

// NewProjectClient returns a discovery client.
func NewProjectClient(cfg ProjectConfig) *ProjectClient {
	return &ProjectClient{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
	}
}

// sitematrix response shapes. The matrix is a map whose keys are either
// "count", "specials", or a numeric group index; only the group values
// carry site lists.
type siteGroup struct {
	Code string       `json:"code"`
	Site []matrixSite `json:"site"`
}

type matrixSite struct {
	URL     string  `json:"url"`
	DBName  string  `json:"dbname"`
	Code    string  `json:"code"`
	Private *string `json:"private"`
	Closed  *string `json:"closed"`
}

// ActiveProjects queries the sitematrix and returns the active projects,
// sorted by name. The foreign repo and private wikis are excluded.
// Special wikis (the "specials" group) have no usable language code
// grouping and are skipped; they are not part of the per-language mirror
// layout.
func (c *ProjectClient) ActiveProjects(ctx context.Context) ([]syncer.Project, error) {
	url := c.cfg.APIURL + "?action=sitematrix&format=json"
	body, err := util.RetryWithResult(ctx, func() ([]byte, error) {
		return c.get(ctx, url)
	}, util.HTTPRetryOptions(ctx, c.cfg.Retries, c.cfg.Wait)...)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch sitematrix: %v", common.ErrRemoteUnavailable, err)
	}

	var payload struct {
		Sitematrix map[string]json.RawMessage `json:"sitematrix"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: parse sitematrix: %v", common.ErrMalformedListing, err)
	}

	var projects []syncer.Project
	for key, raw := range payload.Sitematrix {
		if key == "count" || key == "specials" {
			continue
		}
		var group siteGroup
		if err := json.Unmarshal(raw, &group); err != nil {
			continue // group entries without site info
		}
		for _, site := range group.Site {
			if site.Private != nil || site.Closed != nil {
				continue
			}
			if site.DBName == "" || site.DBName == c.cfg.ForeignRepo {
				continue
			}
			projects = append(projects, syncer.Project{
				Name:     site.DBName,
				Type:     projectTypeFromURL(site.URL),
				LangCode: group.Code,
			})
		}
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].Name < projects[j].Name })
	return projects, nil
}

// Lookup resolves one project by dbname.
func (c *ProjectClient) Lookup(ctx context.Context, name string) (syncer.Project, error) {
	projects, err := c.ActiveProjects(ctx)
	if err != nil {
		return syncer.Project{}, err
	}
	for _, p := range projects {
		if p.Name == name {
			return p, nil
		}
	}
	return syncer.Project{}, fmt.Errorf("project %q not active on remote", name)
}

func (c *ProjectClient) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", common.ErrTransient, err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyRequestError(err)
	}
	defer resp.Body.Close()
	if err := classifyStatus(resp.StatusCode, url); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

// projectTypeFromURL digs the project family out of a site URL,
// e.g. https://si.wikipedia.org -> wikipedia.
func projectTypeFromURL(url string) string {
	host := strings.TrimPrefix(strings.TrimPrefix(url, "https://"), "http://")
	parts := strings.Split(host, ".")
	if len(parts) < 2 {
		return host
	}
	return parts[len(parts)-2]
}

// MediaURLs builds the per-record download URL for a project. Uploaded
// media live under the project's own directory; foreign-repo media live
// under the shared repository's base, both in the hashed layout.
type MediaURLs struct {
	UploadedBase    string
	ForeignRepoBase string
}

// For returns the download URL for one record.
func (u MediaURLs) For(project syncer.Project, rec storage.FileRecord) string {
	if rec.Population == storage.PopulationForeignRepo {
		return u.ForeignRepoBase + "/" + rec.RelPath
	}
	return u.UploadedBase + "/" + project.Dir() + "/" + rec.RelPath
}
