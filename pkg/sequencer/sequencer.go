// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package sequencer computes, for a manifest.Representation, which
// fragment to fetch for a given sequence number and which sequence
// number is "current" for a live presentation. This is §4.3 of the
// specification: the segment-sequencing state machine, independent of
// any network I/O.
package sequencer

import (
	"fmt"

	"github.com/Eyevinn/godashdemux/pkg/manifest"
	"github.com/Eyevinn/godashdemux/pkg/urltmpl"
)

// Options mirrors the two recognized options of spec §6 that affect
// sequencing math.
type Options struct {
	// TimelineSegmentOffsetCorrection normalizes a timeline lookup target
	// by FirstSegNo before walking the timeline (default true).
	TimelineSegmentOffsetCorrection bool
	// FetchCompletedSegmentsOnly subtracts one from the live current
	// sequence number in the edge case described in spec §4.3 (default
	// true).
	FetchCompletedSegmentsOnly bool
}

// DefaultOptions returns the spec's documented defaults: both options on.
func DefaultOptions() Options {
	return Options{TimelineSegmentOffsetCorrection: true, FetchCompletedSegmentsOnly: true}
}

// ErrEndOfStream signals that target is beyond the representation's
// available range.
var ErrEndOfStream = fmt.Errorf("end of stream")

// SegmentStartTime walks r's timeline and returns the absolute start
// time (in @timescale units) of segment number target. It is the
// "mapping sequence number -> segment start time" procedure of §4.3.
func SegmentStartTime(r *manifest.Representation, opts Options, target int64) (int64, error) {
	if r.Style != manifest.StyleTimeline {
		return 0, fmt.Errorf("sequencer: SegmentStartTime requires timeline style")
	}
	if opts.TimelineSegmentOffsetCorrection {
		target -= r.FirstSegNo
	}
	if target < 0 {
		return 0, fmt.Errorf("sequencer: target %d before first segment", target)
	}

	startTime := int64(0)
	num := int64(0)
	for _, e := range r.Timelines {
		if e.StartTime > 0 {
			startTime = e.StartTime
		}
		if e.Repeat < 0 {
			// "repeat until end of period": closed form.
			return e.Duration * target, nil
		}
		if num == target {
			return startTime, nil
		}
		startTime += e.Duration
		for i := int64(0); i < e.Repeat; i++ {
			num++
			if num == target {
				return startTime, nil
			}
			startTime += e.Duration
		}
		num++
	}
	return 0, fmt.Errorf("sequencer: %w", ErrEndOfStream)
}

// NextSegNoFromTimeline is the round-trip inverse of SegmentStartTime: it
// returns the smallest sequence number whose start time is >= startTimeOffset,
// per calc_next_seg_no_from_timelines in §4.3/§4.6.
func NextSegNoFromTimeline(r *manifest.Representation, opts Options, startTimeOffset int64) (int64, bool) {
	startTime := int64(0)
	num := int64(0)
	for _, e := range r.Timelines {
		if e.StartTime > 0 {
			startTime = e.StartTime
		}
		if e.Repeat < 0 {
			if e.Duration <= 0 {
				return 0, false
			}
			n := startTimeOffset / e.Duration
			if startTimeOffset%e.Duration != 0 {
				n++
			}
			return applyOffsetCorrection(r, opts, num+n), true
		}
		reps := e.Repeat
		for i := int64(0); i <= reps; i++ {
			if startTime >= startTimeOffset {
				return applyOffsetCorrection(r, opts, num), true
			}
			startTime += e.Duration
			num++
		}
	}
	// Ran off the end: the last known segment is the best match.
	if num > 0 {
		return applyOffsetCorrection(r, opts, num-1), true
	}
	return 0, false
}

func applyOffsetCorrection(r *manifest.Representation, opts Options, num int64) int64 {
	if opts.TimelineSegmentOffsetCorrection {
		return num + r.FirstSegNo
	}
	return num
}

// FragmentFor returns the Fragment for sequence number target, expanding
// the URL template as needed.
func FragmentFor(r *manifest.Representation, opts Options, target int64) (manifest.Fragment, error) {
	switch r.Style {
	case manifest.StyleList:
		idx := target - r.FirstSegNo
		if idx < 0 || idx >= int64(len(r.Fragments)) {
			return manifest.Fragment{}, fmt.Errorf("sequencer: %w", ErrEndOfStream)
		}
		return r.Fragments[idx], nil

	case manifest.StyleTimeline:
		startTime, err := SegmentStartTime(r, opts, target)
		if err != nil {
			return manifest.Fragment{}, err
		}
		url := urltmpl.Expand(r.URLTemplate, r.ID, r.Bandwidth, target, startTime)
		return manifest.Fragment{URL: url, Size: -1}, nil

	case manifest.StyleDuration:
		if target > r.LastSegNo && r.LastSegNo > 0 {
			return manifest.Fragment{}, fmt.Errorf("sequencer: %w", ErrEndOfStream)
		}
		startTime := (target-r.FirstSegNo)*r.FragmentDuration + r.PresentationTimeOffset
		url := urltmpl.Expand(r.URLTemplate, r.ID, r.Bandwidth, target, startTime)
		return manifest.Fragment{URL: url, Size: -1}, nil

	default:
		return manifest.Fragment{}, fmt.Errorf("sequencer: unknown segmenting style")
	}
}

// InitFragment returns r's initialization-section Fragment, expanding
// its URL template if the init section itself is templated (template
// styles only; list-style init sections are already concrete).
func InitFragment(r *manifest.Representation) (manifest.Fragment, bool) {
	if r.InitSection == nil {
		return manifest.Fragment{}, false
	}
	f := *r.InitSection
	if r.Style != manifest.StyleList {
		f.URL = urltmpl.Expand(f.URL, r.ID, r.Bandwidth, 0, 0)
	}
	return f, true
}
