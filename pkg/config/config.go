// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package config loads demuxer options the same way the rest of the
// DASH-IF tooling does: koanf layering defaults, an optional JSON file,
// command-line flags (via posflag) and environment variables, in that
// order of increasing precedence.
package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/structs"
	"github.com/spf13/pflag"

	"github.com/Eyevinn/godashdemux/pkg/fetch"
	"github.com/Eyevinn/godashdemux/pkg/logging"
	"github.com/Eyevinn/godashdemux/pkg/sequencer"
)

// Options are the demuxer's tunables: the ambient logging knobs every
// DASH-IF command carries, plus the §4.4/§4.3 options that affect
// fetching and sequencing behavior.
type Options struct {
	LogFormat string `json:"logformat"`
	LogLevel  string `json:"loglevel"`

	// AllowedExtensions is a comma-separated list, or "ALL".
	AllowedExtensions string `json:"allowedextensions"`
	// AllowedSchemes is a comma-separated list of URL schemes.
	AllowedSchemes string `json:"allowedschemes"`

	UseTimelineSegmentOffsetCorrection bool `json:"usetimelinesegmentoffsetcorrection"`
	FetchCompletedSegmentsOnly         bool `json:"fetchcompletedsegmentsonly"`

	TimeoutS int `json:"timeouts"`
}

// DefaultOptions mirrors the spec's documented defaults (§6).
var DefaultOptions = Options{
	LogFormat:                          logging.LogText,
	LogLevel:                           "INFO",
	AllowedExtensions:                  "aac,m4a,m4s,m4v,mov,mp4,webm,ts",
	AllowedSchemes:                     "http,https,file",
	UseTimelineSegmentOffsetCorrection: true,
	FetchCompletedSegmentsOnly:         true,
	TimeoutS:                           60,
}

// Load builds Options from DefaultOptions, an optional JSON config file,
// the parsed flag set f, and finally DASHDEMUX_-prefixed environment
// variables, matching the precedence order cmd/dashfetcher and
// cmd/livesim2 both use.
func Load(f *pflag.FlagSet, cfgFile string) (*Options, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(DefaultOptions, "json"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), json.Parser()); err != nil {
			return nil, fmt.Errorf("config: load file %s: %w", cfgFile, err)
		}
	}

	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return nil, fmt.Errorf("config: load flags: %w", err)
	}

	err := k.Load(env.Provider("DASHDEMUX_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "DASHDEMUX_")), "_", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	var o Options
	if err := k.Unmarshal("", &o); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &o, nil
}

// RegisterFlags adds the demuxer's CLI flags to f with DefaultOptions as
// their defaults, ready to be passed into Load.
func RegisterFlags(f *pflag.FlagSet) {
	f.String("logformat", DefaultOptions.LogFormat, fmt.Sprintf("log format [%s]", strings.Join(logging.LogFormats, ", ")))
	f.String("loglevel", DefaultOptions.LogLevel, fmt.Sprintf("log level [%s]", strings.Join(logging.LogLevels, ", ")))
	f.String("allowedextensions", DefaultOptions.AllowedExtensions, `comma-separated allowed fragment extensions, or "ALL"`)
	f.String("allowedschemes", DefaultOptions.AllowedSchemes, "comma-separated allowed URL schemes")
	f.Bool("usetimelinesegmentoffsetcorrection", DefaultOptions.UseTimelineSegmentOffsetCorrection, "normalize timeline lookups by the representation's start number")
	f.Bool("fetchcompletedsegmentsonly", DefaultOptions.FetchCompletedSegmentsOnly, "never request a live segment until it is fully available")
	f.Int("timeouts", DefaultOptions.TimeoutS, "per-request timeout in seconds")
}

// Extensions splits AllowedExtensions into a slice, the form pkg/fetch
// expects.
func (o Options) Extensions() []string {
	return strings.Split(o.AllowedExtensions, ",")
}

// Schemes splits AllowedSchemes into a slice, the form pkg/fetch expects.
func (o Options) Schemes() []string {
	return strings.Split(o.AllowedSchemes, ",")
}

// ToSequencerOptions projects the subset of Options the sequencer
// package cares about.
func (o Options) ToSequencerOptions() sequencer.Options {
	return sequencer.Options{
		TimelineSegmentOffsetCorrection: o.UseTimelineSegmentOffsetCorrection,
		FetchCompletedSegmentsOnly:      o.FetchCompletedSegmentsOnly,
	}
}

// ToFetchOptions projects the subset of Options the fetch package cares
// about.
func (o Options) ToFetchOptions() fetch.Options {
	return fetch.Options{
		AllowedSchemes:    o.Schemes(),
		AllowedExtensions: o.Extensions(),
	}
}
