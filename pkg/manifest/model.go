// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package manifest holds the value types the sequencer, byte-stream and
// refresh controller operate on: the MPD object model after an MPD
// document has been parsed and bound to per-representation segmenting
// descriptors, but before any HTTP fetch has happened.
//
// The XML binding itself lives in parse.go and is a thin adapter on top
// of github.com/Eyevinn/dash-mpd/mpd; everything in this file is the
// core's own data, generalized across the three segmenting styles a
// Representation can use.
package manifest

// MediaClass is the coarse media type of a Representation.
type MediaClass int

const (
	Video MediaClass = iota
	Audio
	Subtitle
)

func (c MediaClass) String() string {
	switch c {
	case Video:
		return "video"
	case Audio:
		return "audio"
	case Subtitle:
		return "subtitle"
	default:
		return "unknown"
	}
}

// Fragment is one byte range to fetch, owned by the representation that
// produced it.
type Fragment struct {
	URL       string
	URLOffset int64
	// Size is the fragment's byte length, or -1 if unknown until probed.
	Size int64
}

// TimelineEntry is one SegmentTimeline "S" element.
type TimelineEntry struct {
	// StartTime is an absolute start time in @timescale units. Zero means
	// "contiguous with the previous entry" (no discontinuity).
	StartTime int64
	Duration  int64
	// Repeat is the explicit repeat count (>=0), or -1 meaning "repeat
	// until the end of the period".
	Repeat int64
}

// SegStyle identifies which of the three mutually exclusive segmenting
// descriptor forms a Representation uses.
type SegStyle int

const (
	// StyleList: an explicit, ordered list of Fragments (SegmentList).
	StyleList SegStyle = iota
	// StyleTimeline: a URL template driven by a SegmentTimeline.
	StyleTimeline
	// StyleDuration: a URL template driven by a fixed segment duration.
	StyleDuration
)

// Representation is a single encoding of a media component, carrying
// everything the sequencer and byte-stream adapter need to sequence and
// fetch its segments.
type Representation struct {
	ID        string
	Bandwidth int
	Lang      string
	Codecs    string
	ScanType  string
	Width     int
	Height    int
	FrameRate string

	Class MediaClass

	Style SegStyle

	// StyleList data.
	Fragments []Fragment

	// StyleTimeline and StyleDuration share a URL template.
	URLTemplate string
	Timelines   []TimelineEntry

	// StyleDuration data.
	FragmentDuration        int64
	FragmentTimescale       int64
	PresentationTimeOffset  int64

	// FirstSegNo is the sequence number of the first available segment
	// (MPD @startNumber, or 0/1 per style default).
	FirstSegNo int64
	// LastSegNo is derived for VOD or tracked live.
	LastSegNo int64
	// CurSegNo is the next segment to play. It ranges over
	// [FirstSegNo, LastSegNo+1]; the +1 is the transient "need next
	// fragment" state.
	CurSegNo int64

	InitSection *Fragment

	// InitSecBuf caches the downloaded initialization section. It is
	// reused for the representation's lifetime unless a refresh marks it
	// stale via InitSecStale.
	InitSecBuf            []byte
	InitSecDataLen         int
	InitSecBufReadOffset   int
	InitSecStale           bool

	// Play position.
	CurSegOffset  int64
	CurSegSize    int64
	CurSeg        *Fragment
	CurTimestamp  int64 // 90 kHz ticks

	// Period binding.
	PeriodStart                     int64 // ms
	PeriodDuration                  int64 // ms
	PeriodMediaPresentationDuration int64 // ms

	IsRestartNeeded bool
}

// InitSectionCacheCap bounds the growable initialization-section buffer.
const InitSectionCacheCap = 1 << 20 // 1 MiB

// SameInitSection reports whether r and other share a byte-identical
// initialization section (same URL, offset and size). The orchestrator
// does not call it; each representation fetches its own init section.
func (r *Representation) SameInitSection(other *Representation) bool {
	if r.InitSection == nil || other.InitSection == nil {
		return false
	}
	a, b := r.InitSection, other.InitSection
	return a.URL == b.URL && a.URLOffset == b.URLOffset && a.Size == b.Size
}

// Presentation is the parsed, period-selected state of an MPD document.
type Presentation struct {
	BaseURL string

	IsLive bool

	AvailabilityStartTime     int64 // unix seconds
	PublishTime               int64 // unix seconds
	MinimumUpdatePeriod       int64 // ms, 0 means "not set"
	TimeShiftBufferDepth      int64 // ms
	SuggestedPresentationDelay int64 // ms
	MinBufferTime             int64 // ms
	MediaPresentationDuration int64 // ms

	PeriodStart    int64 // ms
	PeriodDuration int64 // ms

	Videos    []*Representation
	Audios    []*Representation
	Subtitles []*Representation
}

// ByClass returns the slice of representations of the given class.
func (p *Presentation) ByClass(c MediaClass) []*Representation {
	switch c {
	case Video:
		return p.Videos
	case Audio:
		return p.Audios
	case Subtitle:
		return p.Subtitles
	default:
		return nil
	}
}

// AllRepresentations returns every representation across all classes.
func (p *Presentation) AllRepresentations() []*Representation {
	out := make([]*Representation, 0, len(p.Videos)+len(p.Audios)+len(p.Subtitles))
	out = append(out, p.Videos...)
	out = append(out, p.Audios...)
	out = append(out, p.Subtitles...)
	return out
}
