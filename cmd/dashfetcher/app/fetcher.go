// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path"
	"strings"
	"time"

	"github.com/Eyevinn/godashdemux/internal"
	"github.com/Eyevinn/godashdemux/pkg/manifest"
	"github.com/Eyevinn/godashdemux/pkg/sequencer"
)

type Options struct {
	AssetURL   string
	OutDir     string
	LogFile    string
	LogFormat  string
	LogLevel   string
	MaxTimeS   int
	Version    bool
	Force      bool
	AutoOutDir bool
}

func Fetch(o *Options) error {
	ctx, cancel := context.WithCancel(context.Background())
	if o.MaxTimeS > 0 {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(o.MaxTimeS)*time.Second)
	}
	defer cancel()
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)
	go func() {
		<-signalChan
		cancel()
	}()
	err := createDirIfNotExists(o.OutDir)
	if err != nil {
		return fmt.Errorf("createDir: %w", err)
	}
	cnt, err := start(ctx, o)
	slog.Info("download results", "nrFiles", cnt.total(),
		"nrExisting", cnt.nrExisting,
		"nrDownloaded", cnt.nrDownloaded,
		"nrErrors", cnt.nrErrors)
	return err
}

func createDirIfNotExists(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		err = os.MkdirAll(dir, 0755)
		if err != nil {
			return err
		}
	}
	return nil
}

func fileExists(p string) bool {
	if _, err := os.Stat(p); os.IsNotExist(err) {
		return false
	}
	return true
}

type counts struct {
	nrDownloaded int
	nrExisting   int
	nrErrors     int
}

func (c counts) total() int {
	return c.nrDownloaded + c.nrExisting + c.nrErrors
}

// start downloads the MPD and then every fragment of every
// representation it describes, using pkg/manifest to parse the MPD and
// pkg/sequencer to enumerate fragment URLs instead of walking the raw
// dash-mpd tree by hand.
func start(ctx context.Context, o *Options) (counts, error) {
	cnt := counts{}
	mpdURL := o.AssetURL
	outDir := o.OutDir
	parts := strings.Split(mpdURL, "/")
	mpdName := parts[len(parts)-1]

	cnt, data, err := downloadMPD(ctx, mpdURL, outDir, mpdName, cnt, o.Force)
	if err != nil {
		return cnt, err
	}

	pres, err := manifest.Parse(data, mpdURL, 0, 0)
	if err != nil {
		return cnt, fmt.Errorf("parse mpd: %w", err)
	}
	if pres.IsLive {
		return cnt, fmt.Errorf("dynamic MPD not supported")
	}

	opts := sequencer.DefaultOptions()
	for _, rep := range pres.AllRepresentations() {
		if initFrag, ok := sequencer.InitFragment(rep); ok {
			cnt, err = downloadFragment(ctx, initFrag, outDir, cnt, o.Force)
			if err != nil {
				slog.Warn("download init segment", "error", err)
			}
		}
		for segNo := rep.FirstSegNo; segNo <= rep.LastSegNo; segNo++ {
			frag, err := sequencer.FragmentFor(rep, opts, segNo)
			if err != nil {
				slog.Warn("resolve fragment", "representation", rep.ID, "segNo", segNo, "error", err)
				continue
			}
			cnt, err = downloadFragment(ctx, frag, outDir, cnt, o.Force)
			if err != nil {
				slog.Warn("download file", "error", err)
			}
		}
	}
	return cnt, nil
}

func downloadMPD(ctx context.Context, mpdURL, outDir, mpdName string, cnt counts, force bool) (counts, []byte, error) {
	outPath := path.Join(outDir, mpdName)
	if fileExists(outPath) && !force {
		md := internal.ReadMPDData(os.DirFS(outDir), mpdName)
		slog.Info("file already exists. Skipping", "path", outPath, "url", mpdURL, "origin", md.OrigURI)
		cnt.nrExisting++
		data, err := os.ReadFile(outPath)
		return cnt, data, err
	}
	data, err := downloadToFile(ctx, mpdURL, outPath)
	if err != nil {
		cnt.nrErrors++
		return cnt, nil, fmt.Errorf("download %s: %w", mpdURL, err)
	}
	if err := internal.WriteMPDData(outDir, mpdName, mpdURL); err != nil {
		slog.Warn("could not write mpdlist file", "error", err)
	}
	return cnt, data, nil
}

func downloadFragment(ctx context.Context, frag manifest.Fragment, outDir string, cnt counts, force bool) (counts, error) {
	outPath := path.Join(outDir, relativePath(frag.URL))
	if fileExists(outPath) && !force {
		cnt.nrExisting++
		slog.Info("file already exists. Skipping", "path", outPath, "url", frag.URL)
		return cnt, nil
	}
	if _, err := downloadToFile(ctx, frag.URL, outPath); err != nil {
		cnt.nrErrors++
		return cnt, fmt.Errorf("problem downloading %s: %w", frag.URL, err)
	}
	cnt.nrDownloaded++
	return cnt, nil
}

// relativePath turns an absolute fragment URL into the path component
// downloaded files are stored under, mirroring the URL's own layout.
func relativePath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return strings.TrimPrefix(u.Path, "/")
}

func getBase(u string) string {
	idx := strings.LastIndex(u, "/")
	if idx == -1 {
		return ""
	}
	return u[:idx+1]
}

// downloadToFile downloads content into outPath and returns the bytes
// written, so callers that also need to parse the content (the MPD
// itself) don't have to re-read it from disk.
func downloadToFile(ctx context.Context, rawURL, outPath string) ([]byte, error) {
	client := http.DefaultClient
	slog.Info("downloading", "url", rawURL, "path", outPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("could not read %s. Code %d", rawURL, resp.StatusCode)
	}

	dir := getBase(outPath)
	if err := createDirIfNotExists(dir); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(outPath, data, 0644); err != nil {
		return nil, err
	}
	slog.Debug("stored", "path", outPath)
	return data, nil
}

// AutoDir adds part of MPD URL to outDir, trying to remove matching parts.
func AutoDir(rawMPDurl, outDir string) (string, error) {
	u, err := url.Parse(rawMPDurl)
	if err != nil {
		return "", err
	}

	uParts := strings.Split(u.Path, "/")
	uBaseParts := uParts[1 : len(uParts)-1]
	outParts := strings.Split(outDir, "/")

	maxOutEnd := len(outParts) - 1
	minOutEnd := max(1, maxOutEnd-len(uBaseParts)+1)
	bestOutEnd := -1
	for outStart := maxOutEnd; outStart >= minOutEnd; outStart-- {
		match := true
		outRange := maxOutEnd + 1 - outStart
		if outRange > len(uBaseParts) {
			break
		}
		for i := range outRange {
			if outParts[outStart+i] != uBaseParts[i] {
				match = false
				break
			}
		}
		if match {
			bestOutEnd = outStart
		}
	}
	if bestOutEnd >= 0 {
		outParts = outParts[:bestOutEnd]
	}
	outPath := path.Join(strings.Join(outParts, "/"), strings.Join(uBaseParts, "/"))
	return outPath, nil
}
