// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package sequencer

import "github.com/Eyevinn/godashdemux/pkg/manifest"

// LiveClock carries the values calc_cur_seg_no needs from the
// Presentation that are not already on the Representation.
type LiveClock struct {
	Now                        int64 // unix seconds
	AvailabilityStartTime      int64 // unix seconds
	PublishTime                int64 // unix seconds
	TimeShiftBufferDepth       int64 // ms
	SuggestedPresentationDelay int64 // ms
	MinBufferTime              int64 // ms
}

// CalcCurSegNo implements calc_cur_seg_no (§4.3): the sequence number a
// live player should start reading from when opening or catching up.
func CalcCurSegNo(r *manifest.Representation, opts Options, clk LiveClock) int64 {
	switch r.Style {
	case manifest.StyleList:
		return r.FirstSegNo

	case manifest.StyleTimeline:
		if len(r.Timelines) == 0 {
			return r.FirstSegNo
		}
		endOfTimeline := timelineEndTime(r)
		target := endOfTimeline - 60*r.FragmentTimescale
		if n, ok := NextSegNoFromTimeline(r, opts, target); ok {
			return n
		}
		return r.FirstSegNo

	case manifest.StyleDuration:
		return calcCurSegNoFromDuration(r, opts, clk)

	default:
		return r.FirstSegNo
	}
}

func timelineEndTime(r *manifest.Representation) int64 {
	startTime := int64(0)
	for _, e := range r.Timelines {
		if e.StartTime > 0 {
			startTime = e.StartTime
		}
		if e.Repeat < 0 {
			return startTime // open-ended: the start time of this entry
		}
		startTime += e.Duration * (1 + e.Repeat)
	}
	return startTime
}

func calcCurSegNoFromDuration(r *manifest.Representation, opts Options, clk LiveClock) int64 {
	ts := r.FragmentTimescale
	if ts == 0 {
		ts = 1
	}
	var segNo int64
	switch {
	case r.PresentationTimeOffset != 0:
		segNo = r.FirstSegNo + ((clk.Now-clk.AvailabilityStartTime)*ts-r.PresentationTimeOffset)/r.FragmentDuration - clk.MinBufferTime

	case clk.PublishTime > 0 && clk.AvailabilityStartTime == 0 && clk.MinBufferTime > 0:
		segNo = r.FirstSegNo + ((clk.PublishTime+r.FragmentDuration-clk.SuggestedPresentationDelay)*ts)/r.FragmentDuration - clk.MinBufferTime

	case clk.PublishTime > 0 && clk.AvailabilityStartTime == 0:
		segNo = r.FirstSegNo + ((clk.PublishTime-clk.TimeShiftBufferDepth+r.FragmentDuration-clk.SuggestedPresentationDelay)*ts)/r.FragmentDuration

	default:
		segNo = r.FirstSegNo + ((clk.Now-clk.AvailabilityStartTime-clk.SuggestedPresentationDelay)*ts)/r.FragmentDuration
	}

	if opts.FetchCompletedSegmentsOnly && clk.TimeShiftBufferDepth == 0 && clk.SuggestedPresentationDelay == 0 && segNo > r.FirstSegNo {
		segNo--
	}
	return segNo
}

// CalcMinSegNo implements the "minimum live sequence number" procedure:
// the oldest segment still inside the time-shift buffer.
func CalcMinSegNo(r *manifest.Representation, opts Options, clk LiveClock) int64 {
	switch r.Style {
	case manifest.StyleList:
		return r.FirstSegNo
	case manifest.StyleTimeline:
		target := timelineEndTime(r) - clk.TimeShiftBufferDepth*r.FragmentTimescale/1000
		if n, ok := NextSegNoFromTimeline(r, opts, target); ok {
			return n
		}
		return r.FirstSegNo
	case manifest.StyleDuration:
		if r.FragmentDuration == 0 {
			return r.FirstSegNo
		}
		back := clk.TimeShiftBufferDepth * r.FragmentTimescale / 1000 / r.FragmentDuration
		min := CalcCurSegNo(r, opts, clk) - back
		if min < r.FirstSegNo {
			min = r.FirstSegNo
		}
		return min
	default:
		return r.FirstSegNo
	}
}

// CalcMaxSegNo implements the "maximum sequence number" procedure: the
// latest segment the manifest currently describes. For VOD it is the
// period/media-presentation duration divided by segment duration; for
// live it is derived from now - availability_start_time.
func CalcMaxSegNo(r *manifest.Representation, opts Options, clk LiveClock, isLive bool) int64 {
	switch r.Style {
	case manifest.StyleList:
		return r.LastSegNo
	case manifest.StyleTimeline:
		if !isLive {
			return r.LastSegNo
		}
		n, ok := NextSegNoFromTimeline(r, opts, timelineEndTime(r))
		if !ok {
			return r.LastSegNo
		}
		return n
	case manifest.StyleDuration:
		if !isLive {
			return r.LastSegNo
		}
		if r.FragmentDuration == 0 {
			return r.FirstSegNo
		}
		elapsed := (clk.Now - clk.AvailabilityStartTime) * r.FragmentTimescale
		return r.FirstSegNo + elapsed/r.FragmentDuration
	default:
		return r.LastSegNo
	}
}
