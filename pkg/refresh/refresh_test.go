// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package refresh

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Eyevinn/godashdemux/pkg/manifest"
	"github.com/Eyevinn/godashdemux/pkg/sequencer"
)

func baseRep() *manifest.Representation {
	return &manifest.Representation{
		ID:     "v1",
		Class:  manifest.Video,
		Codecs: "avc1.64001f",
		Width:  1920, Height: 1080,
		Style:      manifest.StyleTimeline,
		FirstSegNo: 1, LastSegNo: 10, CurSegNo: 7,
		Timelines: []manifest.TimelineEntry{{StartTime: 0, Duration: 2, Repeat: 9}},
	}
}

func presentationWith(r *manifest.Representation) *manifest.Presentation {
	return &manifest.Presentation{Videos: []*manifest.Representation{r}}
}

func TestRefreshExtendsTimeline(t *testing.T) {
	cur := presentationWith(baseRep())
	shadowRep := baseRep()
	shadowRep.LastSegNo = 20
	shadowRep.Timelines = []manifest.TimelineEntry{{StartTime: 0, Duration: 2, Repeat: 19}}
	shadow := presentationWith(shadowRep)

	ctrl := New(cur, sequencer.DefaultOptions(), func(ctx context.Context) (*manifest.Presentation, error) { return shadow, nil }, nil)
	require.NoError(t, ctrl.Refresh(context.Background()))

	got := ctrl.Current().Videos[0]
	require.Equal(t, int64(20), got.LastSegNo)
	require.Equal(t, int64(7), got.CurSegNo, "current position must survive a refresh")
}

func TestRefreshRejectsCodecChange(t *testing.T) {
	cur := presentationWith(baseRep())
	shadowRep := baseRep()
	shadowRep.Codecs = "hvc1.1.6.L93.B0"
	shadow := presentationWith(shadowRep)

	ctrl := New(cur, sequencer.DefaultOptions(), func(ctx context.Context) (*manifest.Presentation, error) { return shadow, nil }, nil)
	err := ctrl.Refresh(context.Background())
	require.ErrorIs(t, err, ErrInputChanged)
	// current must be untouched on rejection
	require.Equal(t, "avc1.64001f", ctrl.Current().Videos[0].Codecs)
}

func TestRefreshAdjustsListCurSegNo(t *testing.T) {
	cur := presentationWith(&manifest.Representation{
		ID: "v1", Class: manifest.Video, Codecs: "avc1.64001f", Width: 1920, Height: 1080,
		Style:      manifest.StyleList,
		FirstSegNo: 5, LastSegNo: 10, CurSegNo: 7,
		Fragments: make([]manifest.Fragment, 6),
	})
	shadow := presentationWith(&manifest.Representation{
		ID: "v1", Class: manifest.Video, Codecs: "avc1.64001f", Width: 1920, Height: 1080,
		Style:      manifest.StyleList,
		FirstSegNo: 8, LastSegNo: 13,
		Fragments: make([]manifest.Fragment, 6),
	})

	ctrl := New(cur, sequencer.DefaultOptions(), func(ctx context.Context) (*manifest.Presentation, error) { return shadow, nil }, nil)
	require.NoError(t, ctrl.Refresh(context.Background()))

	got := ctrl.Current().Videos[0]
	require.Equal(t, int64(13), got.LastSegNo)
	require.Equal(t, int64(10), got.CurSegNo, "CurSegNo must shift by the same amount the window's start_number advanced")
}

func TestRefreshRejectsMissingRepresentation(t *testing.T) {
	cur := presentationWith(baseRep())
	shadow := presentationWith(&manifest.Representation{ID: "v2", Class: manifest.Video})

	ctrl := New(cur, sequencer.DefaultOptions(), func(ctx context.Context) (*manifest.Presentation, error) { return shadow, nil }, nil)
	err := ctrl.Refresh(context.Background())
	require.Error(t, err)
}
