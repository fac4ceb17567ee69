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

import (
	"crypto/md5"
	"encoding/hex"
	"path"
	"strings"
)

// HashDir returns the two-level hash directory for a media file name,
// e.g. "a/a6" for a name whose MD5 starts with "a6". This mirrors the
// layout MediaWiki uses for its upload directories, so mirrored trees
// stay URL-compatible with the remote.
func HashDir(name string) string {
	sum := md5.Sum([]byte(name))
	hexed := hex.EncodeToString(sum[:])
	return hexed[0:1] + "/" + hexed[0:2]
}

// HashedPath returns the project-relative path of a media file,
// e.g. "a/a6/Foo.jpg".
func HashedPath(name string) string {
	return HashDir(name) + "/" + name
}

// NormalizePath cleans a slash-separated path, removing leading and
// trailing slashes.
func NormalizePath(p string) string {
	p = path.Clean(p)
	p = strings.TrimPrefix(p, "/")
	p = strings.TrimSuffix(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// BaseName returns the final element of a slash-separated path.
func BaseName(p string) string {
	p = NormalizePath(p)
	if p == "" {
		return ""
	}
	return path.Base(p)
}
