// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package fetch

import "errors"

// ErrNotFound is returned when a fragment fetch resolves to a 404, the
// §7 "fragment not found" condition.
var ErrNotFound = errors.New("fetch: fragment not found")
