//////////////////////////////////////////////////////////////////////////////
//
// alohacastd captures frames from a Wayland compositor and writes them, as
// raw pixel data, to a file or stdout. Mostly useful for piping into other
// tools:
//
//	alohacastd -o HDMI-1 -n 300 -w - | ffplay -f rawvideo ...
//
// Copyright 2020 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/lanikai/alohacast"
)

// Populated via -ldflags="-X ...". See Makefile.
var GitRevisionId string

var (
	flagDisplay    string
	flagOutput     string
	flagCrop       string
	flagCursor     bool
	flagGPU        bool
	flagDRMDevice  string
	flagQueueDepth int
	flagFrames     int
	flagOutfile    string
	flagDamage     bool
	flagHelp       bool
	flagVersion    bool
)

func init() {
	flag.StringVarP(&flagDisplay, "display", "d", "", "Wayland display")
	flag.StringVarP(&flagOutput, "output", "o", "", "Output name to capture")
	flag.StringVarP(&flagCrop, "crop", "", "", "Crop rectangle, X,Y,WxH")
	flag.BoolVarP(&flagCursor, "cursor", "", false, "Composite cursor into frames")
	flag.BoolVarP(&flagGPU, "gpu", "g", false, "Prefer GPU buffers")
	flag.StringVarP(&flagDRMDevice, "drm-device", "", "/dev/dri/card0", "DRM node for GPU allocation")
	flag.IntVarP(&flagQueueDepth, "queue-depth", "q", 2, "Frame queue depth")
	flag.IntVarP(&flagFrames, "frames", "n", 0, "Stop after this many frames")
	flag.StringVarP(&flagOutfile, "outfile", "w", "", "Write raw frames to file")
	flag.BoolVarP(&flagDamage, "damage", "", false, "Only copy when the output changes")

	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
	flag.BoolVarP(&flagVersion, "version", "v", false, "Print version information and exit")
}

func version() {
	fmt.Println("alohacastd", GitRevisionId)
	fmt.Println("Copyright 2020 Lanikai Labs LLC. All rights reserved.")
	fmt.Println("Visit https://lanikailabs.com for more information")
}

func main() {
	flag.Parse()

	if flagHelp {
		help()
		os.Exit(0)
	}
	if flagVersion {
		version()
		os.Exit(0)
	}

	cfg := alohacast.Config{
		Display:       flagDisplay,
		Output:        flagOutput,
		QueueDepth:    flagQueueDepth,
		PreferGPU:     flagGPU,
		DRMDevice:     flagDRMDevice,
		OverlayCursor: flagCursor,
		WithDamage:    flagDamage,
	}
	if flagCrop != "" {
		var x, y, w, h int32
		if n, err := fmt.Sscanf(flagCrop, "%d,%d,%dx%d", &x, &y, &w, &h); n != 4 || err != nil {
			fmt.Fprintln(os.Stderr, "invalid crop rectangle:", flagCrop)
			os.Exit(1)
		}
		cfg.CropX, cfg.CropY = x, y
		cfg.CropWidth, cfg.CropHeight = w, h
	}

	var out io.Writer
	switch flagOutfile {
	case "":
	case "-":
		out = os.Stdout
	default:
		f, err := os.Create(flagOutfile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}

	src, err := alohacast.New(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := src.Start(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "capturing %v as %v\n", src.Outputs(), src.Format())

	// Stop cleanly on SIGINT/SIGTERM.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		src.Stop()
	}()

	captured := 0
	for flagFrames == 0 || captured < flagFrames {
		frame, err := src.PullFrame(time.Second)
		if err == alohacast.ErrTimeout {
			continue
		}
		if err != nil {
			break
		}
		if out != nil && frame.Bytes() != nil {
			if _, err := out.Write(frame.Bytes()); err != nil {
				fmt.Fprintln(os.Stderr, err)
				frame.Release()
				break
			}
		}
		frame.Release()
		captured++
	}
	src.Stop()

	stats := src.Stats()
	fmt.Fprintf(os.Stderr, "captured %d frames (%d dropped, %d skipped, %d failures)\n",
		stats.Captured, stats.Dropped, stats.Skipped, stats.Failures)
}
