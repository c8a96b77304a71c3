// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package refresh is the §4.6 live manifest-refresh controller: it
// re-fetches a live MPD, matches each Representation in the new
// ("shadow") Presentation against the one currently in use by id,
// rejects a refresh that changed a representation's media layout, and
// otherwise splices the new segmenting descriptor in while preserving
// the representation's current sequence number so playback never jumps
// or repeats a segment across a refresh.
package refresh

import (
	"context"
	"fmt"
	"io"

	"github.com/Eyevinn/godashdemux/pkg/container"
	"github.com/Eyevinn/godashdemux/pkg/container/fmp4"
	"github.com/Eyevinn/godashdemux/pkg/container/mpegts"
	"github.com/Eyevinn/godashdemux/pkg/manifest"
	"github.com/Eyevinn/godashdemux/pkg/sequencer"
)

// fetchFullBody is the minimal surface DeepCompatible needs from
// pkg/fetch, kept narrow so this package doesn't import fetch's
// scheme/extension policy.
type fetchFullBody interface {
	Open(ctx context.Context, rawURL string) (io.ReadCloser, int64, error)
}

// DeepCompatible re-checks media compatibility below the manifest-level
// heuristic in mediaCompatible: it fetches both representations'
// current initialization sections and asks the matching
// container.Inspector whether they describe the same track layout.
// Controller.Refresh runs it, when it has a body fetcher, for every
// representation whose init section URL changed, complementing the cheap
// manifest-field comparison buildSplicePlan already performs.
func DeepCompatible(ctx context.Context, f fetchFullBody, old, new *manifest.Representation) (bool, error) {
	if old.InitSection == nil || new.InitSection == nil {
		return true, nil
	}
	oldData, err := readAll(ctx, f, old.InitSection.URL)
	if err != nil {
		return false, fmt.Errorf("refresh: fetch old init: %w", err)
	}
	newData, err := readAll(ctx, f, new.InitSection.URL)
	if err != nil {
		return false, fmt.Errorf("refresh: fetch new init: %w", err)
	}
	var inspector container.Inspector
	switch container.DetectFromURL(new.InitSection.URL) {
	case container.MPEGTS:
		inspector = mpegts.Inspector{}
	default:
		inspector = fmp4.Inspector{}
	}
	return inspector.Compatible(oldData, newData)
}

func readAll(ctx context.Context, f fetchFullBody, rawURL string) ([]byte, error) {
	rc, _, err := f.Open(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// ErrInputChanged is returned when the new manifest describes a
// representation with a different media layout (codec, resolution or
// sampling) than the one currently playing; §4.6 requires the caller
// treat this as a hard restart rather than splice across it.
var ErrInputChanged = fmt.Errorf("refresh: representation input changed")

// Fetcher retrieves and parses the latest version of a live MPD.
type Fetcher func(ctx context.Context) (*manifest.Presentation, error)

// Controller drives periodic refreshes of a live Presentation.
type Controller struct {
	fetch   Fetcher
	current *manifest.Presentation
	opts    sequencer.Options
	bodies  fetchFullBody
}

// New creates a Controller seeded with the Presentation already in use.
// opts is the sequencer configuration (timeline offset correction etc.)
// splicing needs to recompute a representation's position in a refreshed
// timeline (§4.6 step 5). bodies is used to fetch init sections for the
// DeepCompatible check when a refresh changes a representation's
// InitSection; pass nil to skip that check and rely on mediaCompatible
// alone.
func New(current *manifest.Presentation, opts sequencer.Options, fetch Fetcher, bodies fetchFullBody) *Controller {
	return &Controller{fetch: fetch, current: current, opts: opts, bodies: bodies}
}

// Current returns the Presentation currently being served.
func (c *Controller) Current() *manifest.Presentation { return c.current }

// Refresh fetches a new manifest version and splices it into the
// current Presentation in place. On ErrInputChanged the current
// Presentation is left untouched (snapshot/restore semantics): callers
// must treat that as a signal to restart the affected representation's
// byte stream, not to keep reading from a partially-spliced state.
func (c *Controller) Refresh(ctx context.Context) error {
	shadow, err := c.fetch(ctx)
	if err != nil {
		return fmt.Errorf("refresh: fetch: %w", err)
	}

	plan, err := buildSplicePlan(c.current, shadow, c.opts)
	if err != nil {
		return err
	}
	if c.bodies != nil {
		for _, op := range plan.ops {
			if op.old.InitSection == nil || op.new.InitSection == nil || op.old.InitSection.URL == op.new.InitSection.URL {
				continue
			}
			ok, err := DeepCompatible(ctx, c.bodies, op.old, op.new)
			if err != nil {
				return fmt.Errorf("refresh: deep compatibility check for %q: %w", op.old.ID, err)
			}
			if !ok {
				return fmt.Errorf("%w: representation %q (init section content)", ErrInputChanged, op.old.ID)
			}
		}
	}
	plan.apply()

	c.current.PublishTime = shadow.PublishTime
	c.current.MinimumUpdatePeriod = shadow.MinimumUpdatePeriod
	c.current.TimeShiftBufferDepth = shadow.TimeShiftBufferDepth
	c.current.SuggestedPresentationDelay = shadow.SuggestedPresentationDelay
	c.current.MediaPresentationDuration = shadow.MediaPresentationDuration
	return nil
}

type spliceOp struct {
	old, new *manifest.Representation
}

type splicePlan struct {
	ops  []spliceOp
	opts sequencer.Options
}

func (p *splicePlan) apply() {
	for _, op := range p.ops {
		spliceOne(op.old, op.new, p.opts)
	}
}

// buildSplicePlan matches every representation in cur against shadow by
// (class, id), verifies media compatibility for each match, and returns
// the set of splices to perform. It mutates nothing; apply() is the only
// mutating step, so a rejected refresh never leaves cur half-updated.
func buildSplicePlan(cur, shadow *manifest.Presentation, opts sequencer.Options) (*splicePlan, error) {
	plan := &splicePlan{opts: opts}
	for _, class := range []manifest.MediaClass{manifest.Video, manifest.Audio, manifest.Subtitle} {
		curReps := cur.ByClass(class)
		newReps := shadow.ByClass(class)
		newByID := make(map[string]*manifest.Representation, len(newReps))
		for _, r := range newReps {
			newByID[r.ID] = r
		}
		for _, oldRep := range curReps {
			newRep, ok := newByID[oldRep.ID]
			if !ok {
				return nil, fmt.Errorf("refresh: representation %q absent from refreshed manifest", oldRep.ID)
			}
			if !mediaCompatible(oldRep, newRep) {
				return nil, fmt.Errorf("%w: representation %q", ErrInputChanged, oldRep.ID)
			}
			plan.ops = append(plan.ops, spliceOp{old: oldRep, new: newRep})
		}
	}
	return plan, nil
}

// mediaCompatible is the manifest-level half of the §4.6 compatibility
// check (codec string, sample geometry, segmenting style). The deeper,
// init-section-level check is DeepCompatible, which Refresh applies
// after this one when its body fetcher is set.
func mediaCompatible(old, new *manifest.Representation) bool {
	if old.Codecs != new.Codecs {
		return false
	}
	if old.Class == manifest.Video && (old.Width != new.Width || old.Height != new.Height ||
		old.FrameRate != new.FrameRate || old.ScanType != new.ScanType) {
		return false
	}
	if old.Style != new.Style {
		return false
	}
	return true
}

// spliceOne replaces old's segmenting descriptor with new's while
// reconciling old's play position against the new descriptor, per §4.6
// step 5's per-style splice rules. A shadow manifest that has rolled
// into a new period (new.PeriodStart > old.PeriodStart) always resets
// CurSegNo to the new period's FirstSegNo and marks the init section
// stale for reload; otherwise CurSegNo is re-derived so it keeps
// pointing at the same playback position under the refreshed
// numbering.
func spliceOne(old, new *manifest.Representation, opts sequencer.Options) {
	newPeriod := new.PeriodStart > old.PeriodStart

	switch old.Style {
	case manifest.StyleList:
		if newPeriod {
			old.CurSegNo = new.FirstSegNo
			old.InitSecStale = true
		} else {
			delta := new.FirstSegNo - old.FirstSegNo
			adjusted := old.CurSegNo + delta
			if adjusted < new.FirstSegNo || adjusted > new.LastSegNo {
				old.CurSegNo = new.FirstSegNo
			} else {
				old.CurSegNo = adjusted
			}
		}
		old.Fragments = new.Fragments
		old.FirstSegNo = new.FirstSegNo
		old.LastSegNo = new.LastSegNo

	case manifest.StyleTimeline:
		if newPeriod {
			old.CurSegNo = new.FirstSegNo
			old.InitSecStale = true
		} else if target, err := sequencer.SegmentStartTime(old, opts, old.CurSegNo); err == nil {
			if n, ok := sequencer.NextSegNoFromTimeline(new, opts, target); ok {
				old.CurSegNo = n
			} else {
				old.CurSegNo = new.FirstSegNo
			}
		}
		old.Timelines = new.Timelines
		old.FirstSegNo = new.FirstSegNo
		old.LastSegNo = new.LastSegNo
		old.URLTemplate = new.URLTemplate

	case manifest.StyleDuration:
		if newPeriod {
			old.CurSegNo = new.FirstSegNo
			old.InitSecStale = true
		}
		old.FragmentDuration = new.FragmentDuration
		old.FragmentTimescale = new.FragmentTimescale
		old.LastSegNo = new.LastSegNo
		old.URLTemplate = new.URLTemplate
	}

	old.PeriodStart = new.PeriodStart

	if new.InitSection != nil && old.InitSection != nil && *new.InitSection != *old.InitSection {
		old.InitSection = new.InitSection
		old.InitSecStale = true
	}
	// CurSeg and CurSegOffset are left for the next Open to repopulate;
	// CurTimestamp is preserved since the interleave key (§4.7) still
	// needs it until the next packet is read.
}
