// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package manifest

import "errors"

// ErrInvalidManifest is the sentinel for every §7 "invalid manifest"
// condition: missing/malformed XML, an unrecognized root element, no
// Period matching the period-selection rule, or a document exceeding
// MaxManifestSize.
var ErrInvalidManifest = errors.New("invalid manifest")

// MaxManifestSize is the hard cap on a fetched MPD document (§6).
// Exceeding it fails with ErrInvalidManifest.
const MaxManifestSize = 50 * 1024

// InitialBufferSize is the initial read-buffer size for a manifest fetch.
const InitialBufferSize = 8 * 1024
