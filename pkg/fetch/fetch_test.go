// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package fetch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenRangeHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "bytes=2-5", r.Header.Get("Range"))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("cdef"))
	}))
	defer srv.Close()

	f, err := New(DefaultOptions())
	require.NoError(t, err)

	rc, _, err := f.OpenRange(context.Background(), srv.URL+"/seg1.m4s", 2, 4)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "cdef", string(data))
}

func TestCheckAllowedRejectsScheme(t *testing.T) {
	f, err := New(Options{AllowedSchemes: []string{"https"}})
	require.NoError(t, err)
	_, _, err = f.Open(context.Background(), "http://example.com/v.m4s")
	require.ErrorIs(t, err, ErrSchemeNotAllowed)
}

func TestCheckAllowedRejectsExtension(t *testing.T) {
	f, err := New(Options{AllowedSchemes: []string{"http"}, AllowedExtensions: []string{"mp4"}})
	require.NoError(t, err)
	_, _, err = f.Open(context.Background(), "http://example.com/v.ts")
	require.ErrorIs(t, err, ErrExtensionNotAllowed)
}

func TestCheckAllowedAllExtensions(t *testing.T) {
	f, err := New(Options{AllowedSchemes: []string{"http"}, AllowedExtensions: []string{"ALL"}})
	require.NoError(t, err)
	require.NoError(t, f.checkAllowed("http://example.com/v.xyz"))
}

func TestSetCookieForwarded(t *testing.T) {
	var gotCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err == nil {
			gotCookie = c.Value
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc123"})
	}))
	defer srv.Close()

	f, err := New(DefaultOptions())
	require.NoError(t, err)

	rc, _, err := f.Open(context.Background(), srv.URL+"/init.mp4")
	require.NoError(t, err)
	rc.Close()

	rc, _, err = f.Open(context.Background(), srv.URL+"/seg.mp4")
	require.NoError(t, err)
	rc.Close()

	require.Equal(t, "abc123", gotCookie)
}
