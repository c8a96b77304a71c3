// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package demux is the §4.7 orchestrator: it owns one repstream.Stream
// per enabled Representation, interleaves their output by sequence
// number and timestamp, and presents it to the caller as a single
// ReadPacket() call, hiding which representation the next bytes came
// from and which segment file they were split across.
package demux

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/Eyevinn/godashdemux/pkg/container"
	"github.com/Eyevinn/godashdemux/pkg/fetch"
	"github.com/Eyevinn/godashdemux/pkg/manifest"
	"github.com/Eyevinn/godashdemux/pkg/refresh"
	"github.com/Eyevinn/godashdemux/pkg/repstream"
	"github.com/Eyevinn/godashdemux/pkg/sequencer"
)

// Packet is one elementary fragment, fully read and spliced with its
// representation's initialization section, along with the metadata a
// media pipeline needs to place it without knowing it came from a DASH
// segment (§4.7 side metadata).
type Packet struct {
	RepresentationID string
	Class            manifest.MediaClass
	Data             []byte
	SegNumber        int64
	SegSize          int64
	FragTimescale    int64
	FragDuration     int64
	// Timestamp is the fragment's first-sample presentation time in
	// 90 kHz ticks, or its nominal segment start time rescaled to 90 kHz
	// when the fragment cannot be decoded.
	Timestamp int64
}

type repState struct {
	rep      *manifest.Representation
	stream   *repstream.Stream
	enabled  bool
	finished bool
}

// Demuxer is the orchestrator over a single Presentation.
type Demuxer struct {
	pres    *manifest.Presentation
	fetcher *fetch.Fetcher
	opts    sequencer.Options
	refresh *refresh.Controller

	reps map[string]*repState
	// order is the stable iteration order over reps, used so interleave
	// ties resolve deterministically.
	order []string
}

// New builds a Demuxer over pres. No representation is enabled
// initially; callers select a playback set with Enable.
func New(pres *manifest.Presentation, fetcher *fetch.Fetcher, opts sequencer.Options, refreshCtl *refresh.Controller) *Demuxer {
	d := &Demuxer{pres: pres, fetcher: fetcher, opts: opts, refresh: refreshCtl, reps: map[string]*repState{}}
	for _, r := range pres.AllRepresentations() {
		d.reps[r.ID] = &repState{rep: r, stream: repstream.New(r, fetcher, opts, pres.IsLive)}
		d.order = append(d.order, r.ID)
	}
	sort.Strings(d.order)
	return d
}

var ErrUnknownRepresentation = fmt.Errorf("demux: unknown representation id")
var ErrNoneEnabled = fmt.Errorf("demux: no representation enabled")

// Enable starts (or resumes) reading repID. clk supplies the live-clock
// values needed to compute a catch-up starting position; it is ignored
// for VOD representations. When other representations are already
// enabled and ahead, repID catches up to their current sequence number
// instead of starting from FirstSegNo, so a late-enabled representation
// (e.g. a subtitle track switched on mid-playback) doesn't replay from
// the beginning.
func (d *Demuxer) Enable(ctx context.Context, repID string, clk sequencer.LiveClock) error {
	rs, ok := d.reps[repID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRepresentation, repID)
	}
	startSegNo := d.catchUpSegNo(rs.rep, clk)
	rs.rep.CurSegNo = startSegNo
	rs.enabled = true
	rs.finished = false
	return nil
}

// catchUpSegNo picks the sequence number repID should open at: the
// furthest-advanced CurSegNo among already-enabled representations of
// the presentation if any are ahead of rep's own computed current
// position, otherwise rep's own live/VOD current position.
func (d *Demuxer) catchUpSegNo(rep *manifest.Representation, clk sequencer.LiveClock) int64 {
	own := rep.FirstSegNo
	if d.pres.IsLive {
		own = sequencer.CalcCurSegNo(rep, d.opts, clk)
	}
	maxEnabled := int64(-1)
	for _, id := range d.order {
		rs := d.reps[id]
		if rs.enabled && rs.rep.CurSegNo > maxEnabled {
			maxEnabled = rs.rep.CurSegNo
		}
	}
	if maxEnabled > own {
		return maxEnabled
	}
	return own
}

// Disable stops reading repID; its stream is closed but its play
// position (CurSegNo) is preserved for a later re-Enable.
func (d *Demuxer) Disable(repID string) error {
	rs, ok := d.reps[repID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRepresentation, repID)
	}
	rs.enabled = false
	return rs.stream.Close()
}

// nextRep picks which enabled, unfinished representation's next segment
// should be read, by the (cur_seq_no, cur_timestamp) interleave key from
// §4.7: lowest sequence number first, timestamp breaking ties between
// representations whose own numbering is independent.
func (d *Demuxer) nextRep() *repState {
	var best *repState
	for _, id := range d.order {
		rs := d.reps[id]
		if !rs.enabled || rs.finished {
			continue
		}
		if best == nil {
			best = rs
			continue
		}
		if rs.rep.CurSegNo < best.rep.CurSegNo {
			best = rs
		} else if rs.rep.CurSegNo == best.rep.CurSegNo && rs.rep.CurTimestamp < best.rep.CurTimestamp {
			best = rs
		}
	}
	return best
}

// ReadPacket returns the next fragment, spliced with its
// representation's initialization section, from whichever enabled
// representation is least advanced. Once every enabled representation
// has passed its LastSegNo (VOD end of stream) it returns ErrNoneEnabled,
// the same error as when no representation was enabled at all.
func (d *Demuxer) ReadPacket(ctx context.Context) (*Packet, error) {
	rs := d.nextRep()
	if rs == nil {
		return nil, ErrNoneEnabled
	}

	segNo := rs.rep.CurSegNo
	if rs.rep.LastSegNo > 0 && segNo > rs.rep.LastSegNo && !d.pres.IsLive {
		rs.finished = true
		return d.ReadPacket(ctx)
	}

	startTime, _ := sequencer.SegmentStartTime(rs.rep, d.opts, segNo)
	data, err := d.readSegment(ctx, rs, segNo)
	if err != nil {
		return nil, err
	}

	timestamp := d.firstPacketTimestamp(rs, data, startTime)

	rs.rep.CurTimestamp = timestamp
	rs.rep.CurSegNo = segNo + 1

	return &Packet{
		RepresentationID: rs.rep.ID,
		Class:            rs.rep.Class,
		Data:             data,
		SegNumber:        segNo,
		SegSize:          int64(len(data)),
		FragTimescale:    rs.rep.FragmentTimescale,
		FragDuration:     rs.rep.FragmentDuration,
		Timestamp:        timestamp,
	}, nil
}

// readSegment opens and fully reads segNo of rs, and implements §4.7 step
// 5: if the byte stream signals is_restart_needed (a hard read error, not
// the InBody short-read case repstream already recovers from on its own),
// the fetcher is closed and the inner parser reopened once before giving
// up on the fragment.
func (d *Demuxer) readSegment(ctx context.Context, rs *repState, segNo int64) ([]byte, error) {
	if err := rs.stream.Open(ctx, segNo); err != nil {
		return nil, fmt.Errorf("demux: open %s seg %d: %w", rs.rep.ID, segNo, err)
	}
	data, err := io.ReadAll(readAllFunc(rs.stream.Read))
	if err == nil {
		return data, nil
	}
	if !rs.stream.NeedsRestart() {
		return nil, fmt.Errorf("demux: read %s seg %d: %w", rs.rep.ID, segNo, err)
	}
	slog.Debug("byte stream needs restart, reopening", "representation", rs.rep.ID, "segNo", segNo, "error", err)
	if cerr := rs.stream.Close(); cerr != nil {
		slog.Debug("close before restart", "representation", rs.rep.ID, "error", cerr)
	}
	if err := rs.stream.Open(ctx, segNo); err != nil {
		return nil, fmt.Errorf("demux: reopen %s seg %d after restart: %w", rs.rep.ID, segNo, err)
	}
	data, err = io.ReadAll(readAllFunc(rs.stream.Read))
	if err != nil {
		return nil, fmt.Errorf("demux: read %s seg %d after restart: %w", rs.rep.ID, segNo, err)
	}
	return data, nil
}

// firstPacketTimestamp implements §4.7 step 3: it reads the first packet
// from the fragment's inner container parser and derives cur_timestamp
// (90 kHz ticks) from its presentation timestamp, falling back to the
// fragment's nominal segment-start time (startTime, rescaled from the
// representation's timescale to 90 kHz) when the fragment isn't a
// recognized container (e.g. a subtitle fragment) or fails to decode.
func (d *Demuxer) firstPacketTimestamp(rs *repState, data []byte, startTime int64) int64 {
	if ts := rs.rep.FragmentTimescale; ts > 0 {
		startTime = startTime * 90000 / ts
	}
	if rs.rep.CurSeg == nil {
		return startTime
	}
	format := container.DetectFromURL(rs.rep.CurSeg.URL)
	if format == container.Unknown {
		return startTime
	}
	body := data
	if n := len(rs.rep.InitSecBuf); n > 0 && n <= len(data) {
		body = data[n:]
	}
	pts, err := container.FirstPTS90kHz(format, rs.rep.FragmentTimescale, rs.rep.InitSecBuf, body)
	if err != nil {
		slog.Debug("falling back to segment start time", "representation", rs.rep.ID, "error", err)
		return startTime
	}
	return pts
}

type readAllFunc func([]byte) (int, error)

func (f readAllFunc) Read(p []byte) (int, error) { return f(p) }

// Seek repositions every enabled representation to sequence number
// targetSegNo; converting a time position into a segment number is left
// to the caller. Live presentations are rejected.
func (d *Demuxer) Seek(ctx context.Context, targetSegNo int64) error {
	if d.pres.IsLive {
		return fmt.Errorf("demux: seek not supported on live presentations")
	}
	for _, id := range d.order {
		rs := d.reps[id]
		if !rs.enabled {
			continue
		}
		rs.rep.CurSegNo = targetSegNo
		rs.finished = false
		if err := rs.stream.Close(); err != nil {
			return err
		}
	}
	return nil
}

// Close releases every representation's stream.
func (d *Demuxer) Close() error {
	var firstErr error
	for _, id := range d.order {
		if err := d.reps[id].stream.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RepStatus is one representation's reported play position, used by the
// diagnostic HTTP surface.
type RepStatus struct {
	RepresentationID string `json:"representationId"`
	Class            string `json:"class"`
	Enabled          bool   `json:"enabled"`
	CurSegNo         int64  `json:"curSegNo"`
	State            string `json:"state"`
	// RestartNeeded mirrors manifest.Representation.IsRestartNeeded: the
	// last fragment this representation read ended short, per §4.5's
	// InBody rule, and the representation may need a clean Disable/Enable
	// cycle.
	RestartNeeded bool `json:"restartNeeded"`
}

// Status reports the current play position of every representation the
// Demuxer knows about, in stable order.
func (d *Demuxer) Status() []RepStatus {
	out := make([]RepStatus, 0, len(d.order))
	for _, id := range d.order {
		rs := d.reps[id]
		out = append(out, RepStatus{
			RepresentationID: rs.rep.ID,
			Class:            rs.rep.Class.String(),
			Enabled:          rs.enabled,
			CurSegNo:         rs.rep.CurSegNo,
			State:            rs.stream.State().String(),
			RestartNeeded:    rs.rep.IsRestartNeeded,
		})
	}
	return out
}

// RefreshLive re-fetches the live manifest via the Demuxer's refresh
// controller. A representation whose input changed incompatibly (§4.6)
// is reported but left enabled at its last-good position; callers
// should Disable and re-Enable it to force a clean restart.
func (d *Demuxer) RefreshLive(ctx context.Context) error {
	if d.refresh == nil {
		return fmt.Errorf("demux: no refresh controller configured")
	}
	return d.refresh.Refresh(ctx)
}
