// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package urltmpl implements the §4.2 BaseURL resolution chain and
// $...$ template-placeholder expansion used to turn a SegmentTemplate
// "media"/"initialization" attribute into a concrete fragment URL.
package urltmpl

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Join resolves child against parent using standard URL join rules. An
// absolute HTTP(S) URL in child resets the chain; an empty child
// inherits parent unchanged.
func Join(parent, child string) string {
	if child == "" {
		return parent
	}
	cu, err := url.Parse(child)
	if err == nil && cu.IsAbs() {
		return child
	}
	pu, err := url.Parse(parent)
	if err != nil {
		return child
	}
	return pu.ResolveReference(cu).String()
}

// ChainBaseURLs walks the BaseURL text found at MPD, Period,
// AdaptationSet and Representation level (in that order, any of which
// may be empty) and returns the accumulated base URL, starting from
// docDir (the MPD document URL's own directory, used when the MPD-level
// BaseURL is empty).
func ChainBaseURLs(docDir string, levels ...string) string {
	base := docDir
	for _, lvl := range levels {
		base = Join(base, lvl)
	}
	return base
}

// DocumentDir returns the directory part of a document URL, i.e. the
// string every relative BaseURL at MPD level is resolved against.
func DocumentDir(docURL string) string {
	idx := strings.LastIndex(docURL, "/")
	if idx == -1 {
		return docURL
	}
	return docURL[:idx+1]
}

var widthSpecifier = regexp.MustCompile(`\$(Number|Time)%0(\d+)d\$`)

// Expand substitutes $RepresentationID$, $Bandwidth$, $Number$, $Time$
// and escaped $$ in tmpl. number and timeVal are only used if the
// corresponding placeholder is present; pass 0 when not applicable.
func Expand(tmpl, repID string, bandwidth int, number, timeVal int64) string {
	out := widthSpecifier.ReplaceAllStringFunc(tmpl, func(match string) string {
		sub := widthSpecifier.FindStringSubmatch(match)
		width, _ := strconv.Atoi(sub[2])
		var v int64
		if sub[1] == "Number" {
			v = number
		} else {
			v = timeVal
		}
		return fmt.Sprintf("%0*d", width, v)
	})
	out = strings.ReplaceAll(out, "$RepresentationID$", repID)
	out = strings.ReplaceAll(out, "$Bandwidth$", strconv.Itoa(bandwidth))
	out = strings.ReplaceAll(out, "$Number$", strconv.FormatInt(number, 10))
	out = strings.ReplaceAll(out, "$Time$", strconv.FormatInt(timeVal, 10))
	out = strings.ReplaceAll(out, "$$", "$")
	return out
}
