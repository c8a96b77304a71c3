// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package config

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	f := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(f)
	require.NoError(t, f.Parse(nil))

	o, err := Load(f, "")
	require.NoError(t, err)
	require.Equal(t, DefaultOptions.AllowedExtensions, o.AllowedExtensions)
	require.True(t, o.UseTimelineSegmentOffsetCorrection)
	require.True(t, o.FetchCompletedSegmentsOnly)
}

func TestLoadFlagOverride(t *testing.T) {
	f := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(f)
	require.NoError(t, f.Parse([]string{"--fetchcompletedsegmentsonly=false"}))

	o, err := Load(f, "")
	require.NoError(t, err)
	require.False(t, o.FetchCompletedSegmentsOnly)
}

func TestToSequencerOptions(t *testing.T) {
	o := DefaultOptions
	so := o.ToSequencerOptions()
	require.True(t, so.TimelineSegmentOffsetCorrection)
	require.True(t, so.FetchCompletedSegmentsOnly)
}
