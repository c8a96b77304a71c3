// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package sequencer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Eyevinn/godashdemux/pkg/manifest"
)

func templateDurationRep() *manifest.Representation {
	return &manifest.Representation{
		ID:                "v1",
		Bandwidth:         500000,
		Style:             manifest.StyleDuration,
		URLTemplate:       "v1/$Number$.m4s",
		FragmentDuration:  2,
		FragmentTimescale: 1,
		FirstSegNo:        1,
		LastSegNo:         10,
	}
}

func timelineRep() *manifest.Representation {
	return &manifest.Representation{
		ID:                "v1",
		Style:             manifest.StyleTimeline,
		URLTemplate:       "v1/$Time$.m4s",
		FragmentTimescale: 90000,
		FirstSegNo:        1,
		Timelines: []manifest.TimelineEntry{
			{StartTime: 0, Duration: 180000, Repeat: 2}, // segs 0,1,2 @ t=0,180000,360000
			{StartTime: 0, Duration: 90000, Repeat: 0},  // seg 3 @ t=540000, contiguous
		},
	}
}

func listRep() *manifest.Representation {
	return &manifest.Representation{
		ID:         "v1",
		Style:      manifest.StyleList,
		FirstSegNo: 0,
		Fragments: []manifest.Fragment{
			{URL: "seg0.m4s"},
			{URL: "seg1.m4s"},
			{URL: "seg2.m4s"},
		},
	}
}

func TestFragmentForList(t *testing.T) {
	r := listRep()
	opts := DefaultOptions()

	f, err := FragmentFor(r, opts, 1)
	require.NoError(t, err)
	require.Equal(t, "seg1.m4s", f.URL)

	_, err = FragmentFor(r, opts, 3)
	require.ErrorIs(t, err, ErrEndOfStream)
}

func TestFragmentForDuration(t *testing.T) {
	r := templateDurationRep()
	opts := DefaultOptions()

	f, err := FragmentFor(r, opts, 1)
	require.NoError(t, err)
	require.Equal(t, "v1/1.m4s", f.URL)

	f, err = FragmentFor(r, opts, 4)
	require.NoError(t, err)
	require.Equal(t, "v1/4.m4s", f.URL)

	_, err = FragmentFor(r, opts, 11)
	require.ErrorIs(t, err, ErrEndOfStream)
}

func TestSegmentStartTimeTimeline(t *testing.T) {
	r := timelineRep()
	opts := DefaultOptions()

	cases := []struct {
		seg  int64
		want int64
	}{
		{1, 0},
		{2, 180000},
		{3, 360000},
		{4, 540000},
	}
	for _, c := range cases {
		got, err := SegmentStartTime(r, opts, c.seg)
		require.NoError(t, err)
		require.Equal(t, c.want, got, "seg %d", c.seg)
	}
}

func TestSegmentStartTimeOutOfRange(t *testing.T) {
	r := timelineRep()
	_, err := SegmentStartTime(r, DefaultOptions(), 5)
	require.ErrorIs(t, err, ErrEndOfStream)
}

func TestNextSegNoFromTimelineRoundTrip(t *testing.T) {
	r := timelineRep()
	opts := DefaultOptions()

	for seg := r.FirstSegNo; seg <= 4; seg++ {
		startTime, err := SegmentStartTime(r, opts, seg)
		require.NoError(t, err)
		got, ok := NextSegNoFromTimeline(r, opts, startTime)
		require.True(t, ok)
		require.Equal(t, seg, got, "round trip for seg %d", seg)
	}
}

func TestNextSegNoFromTimelinePastEnd(t *testing.T) {
	r := timelineRep()
	got, ok := NextSegNoFromTimeline(r, DefaultOptions(), 10_000_000)
	require.True(t, ok)
	require.Equal(t, int64(4), got)
}

func TestInitFragmentExpandsTemplate(t *testing.T) {
	r := templateDurationRep()
	r.InitSection = &manifest.Fragment{URL: "v1/init.mp4", Size: -1}

	f, ok := InitFragment(r)
	require.True(t, ok)
	require.Equal(t, "v1/init.mp4", f.URL)
}

func TestInitFragmentMissing(t *testing.T) {
	r := templateDurationRep()
	_, ok := InitFragment(r)
	require.False(t, ok)
}

func TestCalcCurSegNoList(t *testing.T) {
	r := listRep()
	got := CalcCurSegNo(r, DefaultOptions(), LiveClock{})
	require.Equal(t, r.FirstSegNo, got)
}

func TestCalcCurSegNoTimeline(t *testing.T) {
	r := timelineRep()
	got := CalcCurSegNo(r, DefaultOptions(), LiveClock{})
	// end of timeline minus 60s at 90kHz is far in the past relative to
	// this short timeline, so NextSegNoFromTimeline should fall back to
	// the earliest matching segment.
	require.GreaterOrEqual(t, got, r.FirstSegNo)
}

func TestCalcCurSegNoDurationDefaultCase(t *testing.T) {
	r := templateDurationRep()
	clk := LiveClock{
		Now:                   1000,
		AvailabilityStartTime: 0,
	}
	got := calcCurSegNoFromDuration(r, DefaultOptions(), clk)
	// (1000 - 0 - 0) * 1 / 2 = 500, plus FirstSegNo 1 = 501; with
	// FetchCompletedSegmentsOnly on (the default) and no time-shift buffer
	// or presentation delay, one is subtracted.
	require.Equal(t, int64(500), got)
}

func TestCalcCurSegNoFetchCompletedOnly(t *testing.T) {
	r := templateDurationRep()
	clk := LiveClock{Now: 1000}
	withOpt := calcCurSegNoFromDuration(r, Options{FetchCompletedSegmentsOnly: true}, clk)
	withoutOpt := calcCurSegNoFromDuration(r, Options{FetchCompletedSegmentsOnly: false}, clk)
	require.Equal(t, withoutOpt-1, withOpt)
}

func TestCalcMinMaxSegNoDuration(t *testing.T) {
	r := templateDurationRep()
	opts := DefaultOptions()
	clk := LiveClock{Now: 1000, TimeShiftBufferDepth: 4000}

	min := CalcMinSegNo(r, opts, clk)
	max := CalcMaxSegNo(r, opts, clk, true)
	require.LessOrEqual(t, min, max)
	require.GreaterOrEqual(t, min, r.FirstSegNo)
}

func TestCalcMaxSegNoVODUsesLastSegNo(t *testing.T) {
	r := templateDurationRep()
	got := CalcMaxSegNo(r, DefaultOptions(), LiveClock{}, false)
	require.Equal(t, r.LastSegNo, got)
}
