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
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"mediamirror/internal/common"
	"mediamirror/internal/storage"
	"mediamirror/internal/syncer"
	"mediamirror/internal/util"
)

// listingTimeFormat is the timestamp layout in uploaded-media listings,
// e.g. 20070115045609.
const listingTimeFormat = "20060102150405"

// ListConfig configures the listing client.
type ListConfig struct {
	// MediaListsURL is the base URL under which dated listing directories
	// (YYYYMMDD) are published.
	MediaListsURL string

	UserAgent string
	Timeout   time.Duration
	Retries   uint
	Wait      time.Duration
}

// ListClient fetches the published media file listings. It implements
// syncer.ListingFetcher. The listing date is discovered once and reused
// for the client's lifetime, so both populations of every project are
// read from the same publication.
type ListClient struct {
	client *http.Client
	cfg    ListConfig

	mu   sync.Mutex
	date string
}

// NewListClient returns a listing client for the configured base URL.
func NewListClient(cfg ListConfig) *ListClient {
	return &ListClient{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
	}
}

// FetchListing implements syncer.ListingFetcher. Listing names are
// converted to hashed project-relative paths, so records compare
// directly against the local tree. Any failure here is run-level: a
// plan must never be built from a partial remote view.
func (c *ListClient) FetchListing(ctx context.Context, pop storage.Population, project syncer.Project) ([]storage.FileRecord, error) {
	date, err := c.listingDate(ctx)
	if err != nil {
		return nil, err
	}

	suffix := "remote-wikiqueries.gz"
	if pop == storage.PopulationUploaded {
		suffix = "local-wikiqueries.gz"
	}
	url := fmt.Sprintf("%s/%s/%s/%s-%s-%s",
		c.cfg.MediaListsURL, date, project.Name, project.Name, date, suffix)

	records, err := util.RetryWithResult(ctx, func() ([]storage.FileRecord, error) {
		return c.fetchOnce(ctx, url, pop)
	}, util.HTTPRetryOptions(ctx, c.cfg.Retries, c.cfg.Wait)...)
	if err != nil {
		if common.IsFatal(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: fetch %s listing for %s: %v",
			common.ErrRemoteUnavailable, pop, project.Name, err)
	}
	return records, nil
}

func (c *ListClient) fetchOnce(ctx context.Context, url string, pop storage.Population) ([]storage.FileRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", common.ErrTransient, err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyRequestError(err)
	}
	defer resp.Body.Close()
	if err := classifyStatus(resp.StatusCode, url); err != nil {
		return nil, err
	}

	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: not gzip: %v", common.ErrMalformedListing, url, err)
	}
	defer gz.Close()

	return parseListing(gz, pop, url)
}

// parseListing reads one listing: a header line naming the query
// columns, then one file per line. Uploaded listings carry
// name<tab>timestamp; foreign-repo listings carry the name alone.
func parseListing(r io.Reader, pop storage.Population, url string) ([]storage.FileRecord, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var records []storage.FileRecord
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo == 1 {
			continue // column header
		}
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue // blank or whitespace-only line
		}

		rec := storage.FileRecord{RelPath: common.HashedPath(fields[0])}
		if pop.HasTimestamps() {
			if len(fields) < 2 {
				return nil, fmt.Errorf("%w: %s line %d: expected name and timestamp, got %q",
					common.ErrMalformedListing, url, lineNo, line)
			}
			ts, err := time.Parse(listingTimeFormat, fields[1])
			if err != nil {
				return nil, fmt.Errorf("%w: %s line %d: bad timestamp %q",
					common.ErrMalformedListing, url, lineNo, fields[1])
			}
			rec.Timestamp = ts.UTC()
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: read listing %s: %v", common.ErrTransient, url, err)
	}
	return records, nil
}

// listingDate discovers the most recent dated listing directory, once.
func (c *ListClient) listingDate(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.date != "" {
		return c.date, nil
	}

	date, err := util.RetryWithResult(ctx, func() (string, error) {
		return c.discoverDate(ctx)
	}, util.HTTPRetryOptions(ctx, c.cfg.Retries, c.cfg.Wait)...)
	if err != nil {
		if common.IsFatal(err) {
			return "", err
		}
		return "", fmt.Errorf("%w: discover listing date: %v", common.ErrRemoteUnavailable, err)
	}
	c.date = date
	return date, nil
}

// discoverDate scrapes the directory index for entries of the form
// <a href="20190210/">, keeping the newest.
func (c *ListClient) discoverDate(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.MediaListsURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", common.ErrTransient, err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", classifyRequestError(err)
	}
	defer resp.Body.Close()
	if err := classifyStatus(resp.StatusCode, c.cfg.MediaListsURL); err != nil {
		return "", err
	}

	latest := ""
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, `<a href="`) {
			continue
		}
		parts := strings.SplitN(line, `"`, 3)
		if len(parts) < 3 {
			continue
		}
		entry := strings.TrimSuffix(parts[1], "/")
		if len(entry) != 8 || !isDigits(entry) {
			continue
		}
		if entry > latest {
			latest = entry
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("%w: read index: %v", common.ErrTransient, err)
	}
	if latest == "" {
		return "", fmt.Errorf("%w: no dated listing directories at %s",
			common.ErrRemoteUnavailable, c.cfg.MediaListsURL)
	}
	return latest, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
