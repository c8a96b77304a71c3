// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package repstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Eyevinn/godashdemux/pkg/fetch"
	"github.com/Eyevinn/godashdemux/pkg/manifest"
	"github.com/Eyevinn/godashdemux/pkg/sequencer"
)

func TestOpenSplicesInitAheadOfBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/init.mp4":
			_, _ = w.Write([]byte("INIT"))
		case "/seg1.m4s":
			_, _ = w.Write([]byte("BODY1"))
		}
	}))
	defer srv.Close()

	f, err := fetch.New(fetch.DefaultOptions())
	require.NoError(t, err)

	rep := &manifest.Representation{
		ID:          "v1",
		Style:       manifest.StyleList,
		FirstSegNo:  0,
		InitSection: &manifest.Fragment{URL: srv.URL + "/init.mp4", Size: -1},
		Fragments: []manifest.Fragment{
			{URL: srv.URL + "/seg1.m4s", Size: -1},
		},
	}

	s := New(rep, f, sequencer.DefaultOptions(), false)
	require.NoError(t, s.Open(context.Background(), 0))
	require.Equal(t, InInit, s.State())

	data, err := io.ReadAll(readerFunc(s.Read))
	require.NoError(t, err)
	require.Equal(t, "INITBODY1", string(data))
	require.Equal(t, Idle, s.State())
}

// readerFunc adapts a Read method to io.Reader for io.ReadAll, which
// keeps the bytes returned together with io.EOF and reports no error
// for it.
type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

func TestZeroByteLiveFragmentFlagsRestartNeeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// no body written: a clean, immediate EOF with zero bytes
	}))
	defer srv.Close()

	f, err := fetch.New(fetch.DefaultOptions())
	require.NoError(t, err)

	rep := &manifest.Representation{
		ID:         "v1",
		Style:      manifest.StyleList,
		FirstSegNo: 0, LastSegNo: 5,
		Fragments: []manifest.Fragment{{URL: srv.URL + "/seg0.m4s", Size: -1}},
	}

	s := New(rep, f, sequencer.DefaultOptions(), true)
	require.NoError(t, s.Open(context.Background(), 0))
	_, err = io.ReadAll(readerFunc(s.Read))
	require.NoError(t, err)
	require.True(t, rep.IsRestartNeeded, "an empty fragment on a live representation must flag a restart")
}

func TestSeekRejectedForTemplateStyle(t *testing.T) {
	rep := &manifest.Representation{Style: manifest.StyleDuration}
	s := New(rep, nil, sequencer.DefaultOptions(), false)
	err := s.Seek(context.Background(), 1)
	require.Error(t, err)
}
