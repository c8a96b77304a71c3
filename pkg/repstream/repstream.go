// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package repstream is the §4.5 byte-stream state machine: for a single
// Representation it turns a sequence of fragment numbers into one
// continuous byte stream, splicing the cached initialization section in
// front of every segment's body and tracking read position across
// Fetcher round trips.
package repstream

import (
	"context"
	"fmt"
	"io"

	"github.com/Eyevinn/godashdemux/pkg/fetch"
	"github.com/Eyevinn/godashdemux/pkg/manifest"
	"github.com/Eyevinn/godashdemux/pkg/sequencer"
)

// State is the byte-stream state machine's current phase.
type State int

const (
	Idle State = iota
	Opening
	InInit
	InBody
	Restart
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Opening:
		return "opening"
	case InInit:
		return "in-init"
	case InBody:
		return "in-body"
	case Restart:
		return "restart"
	default:
		return "unknown"
	}
}

// Stream reads a Representation's segments as one spliced byte stream.
type Stream struct {
	rep     *manifest.Representation
	fetcher *fetch.Fetcher
	opts    sequencer.Options
	isLive  bool

	state   State
	body    io.ReadCloser
	bodyLen int64
}

// New creates a Stream bound to rep. The Representation's InitSecBuf is
// populated lazily on first Open and reused by later Opens of the same
// Stream. Each Stream fetches its own copy: a buffer already downloaded
// for a sibling representation with the same init section
// (SameInitSection) is not copied over. isLive marks whether rep
// belongs to a live presentation, which the InBody short-read rule in
// Read needs to decide whether a truncated fragment should set
// IsRestartNeeded (§4.5).
func New(rep *manifest.Representation, fetcher *fetch.Fetcher, opts sequencer.Options, isLive bool) *Stream {
	return &Stream{rep: rep, fetcher: fetcher, opts: opts, isLive: isLive, state: Idle}
}

// State reports the stream's current phase.
func (s *Stream) State() State { return s.state }

// ensureInit fetches and caches rep's initialization section if it isn't
// already cached or has been marked stale by a manifest refresh.
func (s *Stream) ensureInit(ctx context.Context) error {
	if s.rep.InitSection == nil {
		return nil // format has no init section (e.g. MPEG-TS)
	}
	if s.rep.InitSecBuf != nil && !s.rep.InitSecStale {
		return nil
	}
	initFrag, ok := sequencer.InitFragment(s.rep)
	if !ok {
		return nil
	}
	rc, size, err := s.fetcher.OpenRange(ctx, initFrag.URL, initFrag.URLOffset, initFrag.Size)
	if err != nil {
		return fmt.Errorf("repstream: fetch init: %w", err)
	}
	defer rc.Close()
	if size < 0 || size > manifest.InitSectionCacheCap {
		size = manifest.InitSectionCacheCap
	}
	buf := make([]byte, 0, size)
	for {
		chunk := make([]byte, 32*1024)
		n, rerr := rc.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if int64(len(buf)) > manifest.InitSectionCacheCap {
				return fmt.Errorf("repstream: init section exceeds cache cap")
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("repstream: read init: %w", rerr)
		}
	}
	s.rep.InitSecBuf = buf
	s.rep.InitSecDataLen = len(buf)
	s.rep.InitSecBufReadOffset = 0
	s.rep.InitSecStale = false
	return nil
}

// Open transitions Idle -> Opening -> InInit (or directly InBody if the
// representation has no init section) for fragment number segNo.
func (s *Stream) Open(ctx context.Context, segNo int64) error {
	s.state = Opening
	s.rep.CurSegOffset = 0
	s.rep.IsRestartNeeded = false
	if err := s.ensureInit(ctx); err != nil {
		s.state = Idle
		return err
	}
	frag, err := sequencer.FragmentFor(s.rep, s.opts, segNo)
	if err != nil {
		s.state = Idle
		return err
	}
	rc, size, err := s.fetcher.OpenRange(ctx, frag.URL, frag.URLOffset, frag.Size)
	if err != nil {
		s.state = Idle
		return fmt.Errorf("repstream: fetch fragment: %w", err)
	}
	s.body = rc
	s.bodyLen = size
	s.rep.CurSeg = &frag
	s.rep.CurSegNo = segNo
	if s.rep.InitSecBuf != nil {
		s.rep.InitSecBufReadOffset = 0
		s.state = InInit
	} else {
		s.state = InBody
	}
	return nil
}

// Read implements io.Reader, transparently splicing the cached init
// section ahead of the fragment body. It moves to Idle when the fragment
// is exhausted and to Restart when reading the body fails.
func (s *Stream) Read(p []byte) (int, error) {
	switch s.state {
	case InInit:
		n := copy(p, s.rep.InitSecBuf[s.rep.InitSecBufReadOffset:s.rep.InitSecDataLen])
		s.rep.InitSecBufReadOffset += n
		if s.rep.InitSecBufReadOffset >= s.rep.InitSecDataLen {
			s.state = InBody
		}
		return n, nil

	case InBody:
		n, err := s.body.Read(p)
		s.rep.CurSegOffset += int64(n)
		if err == io.EOF {
			s.closeBody()
			// §4.5: a fragment that closed before delivering any bytes, or
			// before delivering as many as its declared size, is a sign the
			// origin cut the response short. On a live presentation (the
			// segment may still be filling in) or anywhere short of the
			// last known segment, flag it rather than treat it as a clean
			// end of fragment so the caller knows this position may need a
			// clean restart.
			zero := s.rep.CurSegOffset == 0
			short := s.bodyLen > 0 && s.rep.CurSegOffset < s.bodyLen
			if (zero || short) && (s.isLive || s.rep.CurSegNo < s.rep.LastSegNo) {
				s.rep.IsRestartNeeded = true
			}
			s.state = Idle
			return n, io.EOF
		}
		if err != nil {
			s.closeBody()
			s.state = Restart
			return n, fmt.Errorf("repstream: read body: %w", err)
		}
		return n, nil

	default:
		return 0, fmt.Errorf("repstream: Read called in state %s", s.state)
	}
}

func (s *Stream) closeBody() {
	if s.body != nil {
		s.body.Close()
		s.body = nil
	}
}

// Close releases any open fragment body without touching the cached
// init section (it may still be shared by other streams).
func (s *Stream) Close() error {
	s.closeBody()
	s.state = Idle
	return nil
}

// NeedsRestart reports whether the last Read failed in a way that
// requires re-opening the current segment from scratch rather than
// advancing to the next one.
func (s *Stream) NeedsRestart() bool { return s.state == Restart }

// Seek re-homes the stream at segNo, valid only for VOD representations
// using the explicit fragment-list style (§4.5 restricts seeking this
// way; timeline/duration live styles seek by re-deriving CurSegNo via
// the sequencer instead).
func (s *Stream) Seek(ctx context.Context, segNo int64) error {
	if s.rep.Style != manifest.StyleList {
		return fmt.Errorf("repstream: seek only supported for explicit fragment lists")
	}
	s.closeBody()
	return s.Open(ctx, segNo)
}
