// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package fmp4 inspects fragmented MP4 initialization sections using
// Eyevinn/mp4ff's box decoder, just deep enough to answer the
// media-compatibility question the live refresh controller needs (§4.6):
// same timescale, same sample entry (codec) box per track.
package fmp4

import (
	"fmt"

	"github.com/Eyevinn/mp4ff/bits"
	"github.com/Eyevinn/mp4ff/mp4"
)

// Inspector implements container.Inspector for fMP4 init sections.
type Inspector struct{}

func decodeInit(data []byte) (*mp4.InitSegment, error) {
	sr := bits.NewFixedSliceReader(data)
	f, err := mp4.DecodeFileSR(sr)
	if err != nil {
		return nil, fmt.Errorf("fmp4: decode init: %w", err)
	}
	if f.Init == nil {
		return nil, fmt.Errorf("fmp4: no moov box in init section")
	}
	return f.Init, nil
}

// Timescale returns the first track's media header (mdhd) timescale (the
// media timescale
// representations in this demuxer already carry from the MPD takes
// precedence; this is only used to cross-check it against the actual
// init section).
func (Inspector) Timescale(init []byte) (uint32, error) {
	iSeg, err := decodeInit(init)
	if err != nil {
		return 0, err
	}
	if len(iSeg.Moov.Traks) == 0 {
		return 0, fmt.Errorf("fmp4: no tracks in init section")
	}
	return iSeg.Moov.Traks[0].Mdia.Mdhd.Timescale, nil
}

// FirstPTS decodes body as a standalone media segment (moof+mdat) and
// returns its first track's first sample presentation time: the
// fragment's base media decode time (tfdt) plus the leading sample's
// composition time offset, if the segment carries one. init is unused
// for fMP4 (the segment is self-describing once decoded), but kept to
// satisfy container.Inspector.
func (Inspector) FirstPTS(_, body []byte) (int64, error) {
	sr := bits.NewFixedSliceReader(body)
	f, err := mp4.DecodeFileSR(sr)
	if err != nil {
		return 0, fmt.Errorf("fmp4: decode segment: %w", err)
	}
	if len(f.Segments) == 0 || len(f.Segments[0].Fragments) == 0 {
		return 0, fmt.Errorf("fmp4: no fragment in segment")
	}
	frag := f.Segments[0].Fragments[0]
	if frag.Moof == nil || frag.Moof.Traf == nil || frag.Moof.Traf.Tfdt == nil {
		return 0, fmt.Errorf("fmp4: fragment missing tfdt box")
	}
	dts := int64(frag.Moof.Traf.Tfdt.BaseMediaDecodeTime)
	var cto int64
	if trun := frag.Moof.Traf.Trun; trun != nil && len(trun.Samples) > 0 {
		cto = int64(trun.Samples[0].CompositionTimeOffset)
	}
	return dts + cto, nil
}

// Compatible reports whether a and b declare the same track count, same
// per-track sample-entry box type (codec) and the same timescale.
func (Inspector) Compatible(a, b []byte) (bool, error) {
	iA, err := decodeInit(a)
	if err != nil {
		return false, err
	}
	iB, err := decodeInit(b)
	if err != nil {
		return false, err
	}
	if len(iA.Moov.Traks) != len(iB.Moov.Traks) {
		return false, nil
	}
	for i, trakA := range iA.Moov.Traks {
		trakB := iB.Moov.Traks[i]
		if trakA.Mdia.Mdhd.Timescale != trakB.Mdia.Mdhd.Timescale {
			return false, nil
		}
		stsdA := trakA.Mdia.Minf.Stbl.Stsd
		stsdB := trakB.Mdia.Minf.Stbl.Stsd
		if len(stsdA.Children) == 0 || len(stsdB.Children) == 0 {
			return false, nil
		}
		if stsdA.Children[0].Type() != stsdB.Children[0].Type() {
			return false, nil
		}
	}
	return true, nil
}
