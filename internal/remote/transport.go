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

// Package remote talks to the mirrored site: project discovery through
// the MediaWiki API, dated media file listings, and the media downloads
// themselves. Every failure is classified into the common error
// taxonomy so callers never inspect HTTP status codes.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"mediamirror/internal/common"
	"mediamirror/internal/syncer"
)

// HTTPTransport hands out download sessions backed by net/http. Each
// session owns its client so connection reuse stays per worker.
type HTTPTransport struct {
	userAgent string
}

// NewHTTPTransport returns a transport identifying itself as userAgent.
func NewHTTPTransport(userAgent string) *HTTPTransport {
	return &HTTPTransport{userAgent: userAgent}
}

// NewSession implements syncer.Transport.
func (t *HTTPTransport) NewSession() syncer.TransportSession {
	return &httpSession{
		client:    &http.Client{},
		userAgent: t.userAgent,
	}
}

type httpSession struct {
	client    *http.Client
	userAgent string
}

// Download streams url into w, mapping failures onto the error taxonomy.
func (s *httpSession) Download(ctx context.Context, url string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", common.ErrTransient, err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return classifyRequestError(err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode, url); err != nil {
		return err
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return classifyRequestError(err)
	}
	return nil
}

func (s *httpSession) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// classifyRequestError maps a transport-level failure. Timeouts get
// their own class so the report distinguishes a slow remote from a
// broken one.
func classifyRequestError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", common.ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", common.ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", common.ErrTransient, err)
}

// classifyStatus maps a non-2xx response. 404 and 410 are per-file
// conditions; everything else unexpected counts as transient.
func classifyStatus(code int, url string) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound || code == http.StatusGone:
		return fmt.Errorf("%w: %s (status %d)", common.ErrNotFound, url, code)
	default:
		return fmt.Errorf("%w: %s (status %d)", common.ErrTransient, url, code)
	}
}
