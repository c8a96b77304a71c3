// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package demux

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Eyevinn/godashdemux/pkg/fetch"
	"github.com/Eyevinn/godashdemux/pkg/manifest"
	"github.com/Eyevinn/godashdemux/pkg/sequencer"
)

func TestReadPacketInterleavesByLowestSegNo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	f, err := fetch.New(fetch.DefaultOptions())
	require.NoError(t, err)

	video := &manifest.Representation{
		ID: "v1", Class: manifest.Video, Style: manifest.StyleList,
		FirstSegNo: 0, LastSegNo: 1,
		Fragments: []manifest.Fragment{{URL: srv.URL + "/v0.m4s"}, {URL: srv.URL + "/v1.m4s"}},
	}
	audio := &manifest.Representation{
		ID: "a1", Class: manifest.Audio, Style: manifest.StyleList,
		FirstSegNo: 0, LastSegNo: 1,
		Fragments: []manifest.Fragment{{URL: srv.URL + "/a0.m4s"}, {URL: srv.URL + "/a1.m4s"}},
	}
	pres := &manifest.Presentation{Videos: []*manifest.Representation{video}, Audios: []*manifest.Representation{audio}}

	d := New(pres, f, sequencer.DefaultOptions(), nil)
	require.NoError(t, d.Enable(context.Background(), "v1", sequencer.LiveClock{}))
	require.NoError(t, d.Enable(context.Background(), "a1", sequencer.LiveClock{}))

	var order []string
	for i := 0; i < 4; i++ {
		p, err := d.ReadPacket(context.Background())
		require.NoError(t, err)
		order = append(order, p.RepresentationID)
	}
	require.Equal(t, []string{"a1", "v1", "a1", "v1"}, order)
}

func TestEnableUnknownRepresentation(t *testing.T) {
	pres := &manifest.Presentation{}
	d := New(pres, nil, sequencer.DefaultOptions(), nil)
	err := d.Enable(context.Background(), "missing", sequencer.LiveClock{})
	require.ErrorIs(t, err, ErrUnknownRepresentation)
}

func TestReadPacketNoneEnabled(t *testing.T) {
	video := &manifest.Representation{ID: "v1", Class: manifest.Video, Style: manifest.StyleList}
	pres := &manifest.Presentation{Videos: []*manifest.Representation{video}}
	d := New(pres, nil, sequencer.DefaultOptions(), nil)
	_, err := d.ReadPacket(context.Background())
	require.ErrorIs(t, err, ErrNoneEnabled)
}
