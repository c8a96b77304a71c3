// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package app wires the demuxer library packages together into the
// cmd/dashdemux CLI: fetch the MPD, build a Presentation, enable the
// requested representations, and stream spliced packets out.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Eyevinn/godashdemux/pkg/config"
	"github.com/Eyevinn/godashdemux/pkg/demux"
	"github.com/Eyevinn/godashdemux/pkg/diag"
	"github.com/Eyevinn/godashdemux/pkg/fetch"
	"github.com/Eyevinn/godashdemux/pkg/manifest"
	"github.com/Eyevinn/godashdemux/pkg/refresh"
	"github.com/Eyevinn/godashdemux/pkg/sequencer"
)

// Options are the CLI-level inputs, distinct from the loaded
// config.Options tunables.
type Options struct {
	MPDURL   string
	OutDir   string
	MaxTimeS int
	// DiagAddr, if set, serves /metrics, /status and /loglevel on this
	// address for the lifetime of the run.
	DiagAddr string
}

// Run fetches the MPD at o.MPDURL, enables every representation it
// finds, and writes each representation's spliced packets to its own
// file under o.OutDir, refreshing a live manifest as needed until the
// presentation ends or o.MaxTimeS elapses.
func Run(ctx context.Context, o Options, cfg *config.Options) error {
	httpClient := &http.Client{Timeout: time.Duration(cfg.TimeoutS) * time.Second}

	reg := prometheus.NewRegistry()
	metrics := diag.NewMetrics(reg)

	fetchStart := time.Now()
	pres, err := fetchAndParse(ctx, httpClient, o.MPDURL, 0, 0)
	metrics.ObserveManifestFetch(outcomeOf(err), time.Since(fetchStart))
	if err != nil {
		return fmt.Errorf("app: initial manifest: %w", err)
	}

	f, err := fetch.New(cfg.ToFetchOptions())
	if err != nil {
		return fmt.Errorf("app: fetcher: %w", err)
	}

	var refreshCtl *refresh.Controller
	if pres.IsLive {
		refreshCtl = refresh.New(pres, cfg.ToSequencerOptions(), func(ctx context.Context) (*manifest.Presentation, error) {
			return fetchAndParse(ctx, httpClient, o.MPDURL, 0, pres.PeriodStart)
		}, f)
	}

	d := demux.New(pres, f, cfg.ToSequencerOptions(), refreshCtl)

	if o.DiagAddr != "" {
		diagSrv := &http.Server{Addr: o.DiagAddr, Handler: diag.Router(d, reg)}
		go func() {
			if err := diagSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("diag server stopped", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = diagSrv.Shutdown(shutdownCtx)
		}()
	}

	writers := map[string]io.WriteCloser{}
	for _, r := range pres.AllRepresentations() {
		if err := d.Enable(ctx, r.ID, sequencer.LiveClock{Now: nowUnix()}); err != nil {
			return fmt.Errorf("app: enable %s: %w", r.ID, err)
		}
		fh, err := os.Create(fmt.Sprintf("%s/%s.raw", o.OutDir, r.ID))
		if err != nil {
			return fmt.Errorf("app: create output for %s: %w", r.ID, err)
		}
		writers[r.ID] = fh
	}
	defer func() {
		for _, w := range writers {
			_ = w.Close()
		}
	}()

	deadline := time.Time{}
	if o.MaxTimeS > 0 {
		deadline = time.Now().Add(time.Duration(o.MaxTimeS) * time.Second)
	}
	lastRefresh := time.Now()

	for {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil
		}
		if pres.IsLive && pres.MinimumUpdatePeriod > 0 &&
			time.Since(lastRefresh) > time.Duration(pres.MinimumUpdatePeriod)*time.Millisecond {
			refreshStart := time.Now()
			err := d.RefreshLive(ctx)
			metrics.ObserveManifestFetch(outcomeOf(err), time.Since(refreshStart))
			if err != nil {
				slog.Warn("manifest refresh failed", "error", err)
			}
			lastRefresh = time.Now()
		}

		fragStart := time.Now()
		pkt, err := d.ReadPacket(ctx)
		if err != nil {
			if err == demux.ErrNoneEnabled {
				return nil
			}
			metrics.ObserveFragmentFetch("unknown", outcomeOf(err), time.Since(fragStart))
			return fmt.Errorf("app: read packet: %w", err)
		}
		metrics.ObserveFragmentFetch(pkt.RepresentationID, "ok", time.Since(fragStart))
		w, ok := writers[pkt.RepresentationID]
		if !ok {
			continue
		}
		if _, err := w.Write(pkt.Data); err != nil {
			return fmt.Errorf("app: write %s: %w", pkt.RepresentationID, err)
		}
		slog.Debug("wrote packet", "representation", pkt.RepresentationID, "segNumber", pkt.SegNumber, "bytes", pkt.SegSize)
	}
}

// outcomeOf reduces an error to the "ok"/"error" label Metrics groups
// fetch attempts by.
func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// fetchAndParse retrieves the MPD document at mpdURL and parses it into
// a Presentation. currTimepoint/prevPeriodStart select which Period a
// multi-period manifest resolves to, per §4.1.
func fetchAndParse(ctx context.Context, client *http.Client, mpdURL string, currTimepoint float64, prevPeriodStart int64) (*manifest.Presentation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mpdURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch manifest: status %d", resp.StatusCode)
	}
	data, err := manifest.ReadLimited(resp.Body)
	if err != nil {
		return nil, err
	}
	return manifest.Parse(data, mpdURL, currTimepoint, prevPeriodStart)
}

func nowUnix() int64 { return time.Now().Unix() }
