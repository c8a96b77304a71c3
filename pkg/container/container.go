// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package container identifies which inner media container a
// representation's segments use. Parsing samples out of that container
// is explicitly out of scope (an external media pipeline owns that);
// this package only goes as far as the demuxer itself needs: telling
// fMP4 and MPEG-TS apart, reading a fragment's first-sample presentation
// time (FirstPTS90kHz), and telling the refresh controller whether two
// init sections describe the same track layout ("media-compatible",
// §4.6) so a live manifest refresh that changes codecs is rejected
// instead of silently corrupting the output stream.
package container

import (
	"fmt"
	"path"
	"strings"

	"github.com/Eyevinn/godashdemux/pkg/cmaf"
	"github.com/Eyevinn/godashdemux/pkg/container/fmp4"
	"github.com/Eyevinn/godashdemux/pkg/container/mpegts"
)

// Format is the inner container type of a representation's segments.
type Format int

const (
	Unknown Format = iota
	FMP4
	MPEGTS
)

func (f Format) String() string {
	switch f {
	case FMP4:
		return "fmp4"
	case MPEGTS:
		return "mpegts"
	default:
		return "unknown"
	}
}

// Detect inspects the first bytes of a segment (ideally its
// initialization section, or the first media segment for formats with
// no init section) and reports which container it is.
func Detect(data []byte) Format {
	if len(data) >= 8 && string(data[4:8]) == "ftyp" {
		return FMP4
	}
	if len(data) >= 1 && data[0] == 0x47 {
		return MPEGTS
	}
	return Unknown
}

// DetectFromURL classifies a fragment by its file extension: CMAF and
// plain ISO-BMFF extensions are FMP4, ".ts" is MPEGTS, and anything else
// is Unknown. It is used when a representation's fragments
// can't be probed up front (e.g. choosing which Inspector to use before
// the first byte has been fetched).
func DetectFromURL(rawURL string) Format {
	ext := strings.ToLower(path.Ext(rawURL))
	switch ext {
	case ".mp4", ".m4s", ".m4v", ".m4a", ".mov", cmaf.CMAFVideoExtension, cmaf.CMAFAudioExtension, cmaf.CMAFTextExtension, cmaf.CMAFMetaExtension:
		return FMP4
	case ".ts":
		return MPEGTS
	default:
		return Unknown
	}
}

// Inspector is implemented by each container-specific package and
// answers the questions the refresh controller and byte-stream adapter
// need without decoding sample data.
type Inspector interface {
	// Timescale returns the media timescale declared in init, in ticks
	// per second.
	Timescale(init []byte) (uint32, error)
	// Compatible reports whether a and b (both initialization sections,
	// or representative leading bytes for init-less formats) describe
	// the same codec/track layout closely enough that a live refresh may
	// splice across them without a player-visible discontinuity.
	Compatible(a, b []byte) (bool, error)
	// FirstPTS returns the presentation timestamp of the first decodable
	// sample in body, in the container's own timescale (init may be nil
	// for formats without a separate initialization section). This is
	// the §4.7 "read one packet from its inner parser" step: the
	// orchestrator calls it once per fragment to derive cur_timestamp
	// instead of using the fragment's nominal segment-start time.
	FirstPTS(init, body []byte) (int64, error)
}

func inspectorFor(format Format) Inspector {
	if format == MPEGTS {
		return mpegts.Inspector{}
	}
	return fmp4.Inspector{}
}

// FirstPTS90kHz runs the format-appropriate Inspector's FirstPTS over
// body and rescales the result from timescale ticks to 90 kHz ticks, the
// common domain the orchestrator tracks cur_timestamp in (§4.7). A
// timescale <= 0 (unknown) falls back to 90 kHz, matching Inspector's own
// MPEG-TS assumption.
func FirstPTS90kHz(format Format, timescale int64, init, body []byte) (int64, error) {
	pts, err := inspectorFor(format).FirstPTS(init, body)
	if err != nil {
		return 0, fmt.Errorf("container: first pts: %w", err)
	}
	if timescale <= 0 {
		timescale = 90000
	}
	return pts * 90000 / timescale, nil
}
