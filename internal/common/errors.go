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

package common

import "errors"

// Run-level errors. These abort the whole sync run.
var (
	ErrRemoteUnavailable  = errors.New("remote unavailable")
	ErrMalformedListing   = errors.New("malformed listing")
	ErrStorageUnavailable = errors.New("state storage unavailable")
)

// Per-file errors. These are recorded in the run report and never
// abort the run on their own.
var (
	ErrNotFound           = errors.New("not found on remote")
	ErrTransient          = errors.New("transient failure")
	ErrTimeout            = errors.New("request timed out")
	ErrArchiveUnavailable = errors.New("archive unavailable")
)

// ErrUnsupportedOperation is returned when a caller asks for a computation
// the population cannot support, such as modification detection for the
// foreign repository (which exposes no timestamps).
var ErrUnsupportedOperation = errors.New("unsupported operation")

// IsFatal reports whether err should abort the whole run rather than be
// recorded against a single file.
func IsFatal(err error) bool {
	return errors.Is(err, ErrRemoteUnavailable) ||
		errors.Is(err, ErrMalformedListing) ||
		errors.Is(err, ErrStorageUnavailable)
}
