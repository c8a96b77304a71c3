// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/Eyevinn/godashdemux/cmd/dashdemux/app"
	"github.com/Eyevinn/godashdemux/internal"
	"github.com/Eyevinn/godashdemux/pkg/config"
	"github.com/Eyevinn/godashdemux/pkg/logging"
)

var usg = `Usage of %s:

%s opens a DASH (VoD or live) manifest and presents its representations
as one demultiplexed, spliced byte stream per representation.

$ %s -o /tmp/out https://livesim2.dashif.org/livesim2/testpic_2s/Manifest.mpd
`

func parseOptions(cfg *config.Options) app.Options {
	name := os.Args[0]
	var o app.Options
	flag.StringVarP(&o.OutDir, "outdir", "o", ".", "output directory for per-representation raw streams")
	flag.IntVarP(&o.MaxTimeS, "maxtime", "t", 0, "stop after this many seconds [default: run until VoD ends]")
	flag.StringVar(&o.DiagAddr, "diag-addr", "", "address to serve /metrics, /status and /loglevel on [default: disabled]")
	config.RegisterFlags(flag.CommandLine)
	cfgFile := flag.String("cfg", "", "path to a JSON config file")
	version := flag.BoolP("version", "v", false, "print version and exit")
	flag.CommandLine.SortFlags = false

	flag.Usage = func() {
		parts := strings.Split(name, "/")
		short := parts[len(parts)-1]
		fmt.Fprintf(os.Stderr, usg, short, short, short)
		fmt.Fprintf(os.Stderr, "\nRun as %s [options] mpdURL\n\n", short)
		flag.PrintDefaults()
		os.Exit(2)
	}
	flag.Parse()

	if *version {
		fmt.Printf("dashdemux: %s\n", internal.GetVersion())
		os.Exit(0)
	}
	if len(flag.Args()) != 1 {
		flag.Usage()
	}
	o.MPDURL = flag.Args()[0]

	loaded, err := config.Load(flag.CommandLine, *cfgFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	*cfg = *loaded
	return o
}

func main() {
	var cfg config.Options
	o := parseOptions(&cfg)

	if err := logging.InitSlog(cfg.LogLevel, cfg.LogFormat); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	slog.Info("starting", "version", internal.GetVersion(), "mpd", o.MPDURL)

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

	if err := app.Run(ctx, o, &cfg); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}
