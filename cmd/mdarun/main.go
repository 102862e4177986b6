// Command mdarun executes a multi-dimensional acquisition headlessly and
// writes the frames to the configured outputs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/microscope-data/scope.report/internal/acq"
	"github.com/microscope-data/scope.report/internal/acq/events"
	"github.com/microscope-data/scope.report/internal/core"
	"github.com/microscope-data/scope.report/internal/dispatch"
	"github.com/microscope-data/scope.report/internal/handlers"
	"github.com/microscope-data/scope.report/internal/handlers/sqlite"
	"github.com/microscope-data/scope.report/internal/mda"
)

var (
	timePoints = flag.Int("t", 1, "Number of time points")
	zSlices    = flag.Int("z", 0, "Number of z slices (0 = no z axis)")
	positions  = flag.Int("p", 0, "Number of stage positions (0 = no position axis)")
	channels   = flag.String("channels", "", "Comma-separated channel names")
	exposure   = flag.Float64("exposure", 10, "Exposure time in ms")
	dbPath     = flag.String("db", "", "SQLite frame store path (empty = no database output)")
	fitsRoot   = flag.String("fits", "", "FITS output directory (empty = no FITS output)")
	width      = flag.Int("width", 512, "Camera width in pixels")
	height     = flag.Int("height", 512, "Camera height in pixels")
	bitDepth   = flag.Int("bits", 16, "Camera bit depth")
)

// buildSequence assembles the declared axes in acquisition order: positions
// outermost, then time, then z, with channel cycling fastest.
func buildSequence() *acq.Sequence {
	var axes []acq.AxisSize
	if *positions > 0 {
		axes = append(axes, acq.AxisSize{Axis: acq.AxisPosition, Size: *positions})
	}
	axes = append(axes, acq.AxisSize{Axis: acq.AxisTime, Size: *timePoints})
	if *zSlices > 0 {
		axes = append(axes, acq.AxisSize{Axis: acq.AxisZ, Size: *zSlices})
	}
	names := splitChannels(*channels)
	if len(names) > 0 {
		axes = append(axes, acq.AxisSize{Axis: acq.AxisChannel, Size: len(names)})
	}
	seq := acq.NewSequence(axes...)
	seq.Channels = names
	return seq
}

func splitChannels(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func main() {
	flag.Parse()

	if *timePoints < 1 {
		log.Fatal("at least one time point is required")
	}
	if *dbPath == "" && *fitsRoot == "" {
		log.Fatal("no outputs configured; pass -db and/or -fits")
	}

	loop := dispatch.NewLoop()
	defer loop.Close()
	bus := events.NewBus()
	camera := core.NewSimulatedCamera("SimCam", *height, *width)
	if err := camera.SetBitDepth(*bitDepth); err != nil {
		log.Fatalf("invalid bit depth: %v", err)
	}
	if err := camera.SetExposure(*exposure); err != nil {
		log.Fatalf("invalid exposure: %v", err)
	}
	runner := mda.NewRunner(loop, bus, camera)

	if *dbPath != "" {
		db, err := sqlite.Open(*dbPath)
		if err != nil {
			log.Fatalf("failed to open frame store: %v", err)
		}
		defer db.Close()
		store := sqlite.NewStore(db)
		defer store.Close()
		runner.RegisterOutputHandler(store)
	}
	if *fitsRoot != "" {
		fits := handlers.NewFITS(*fitsRoot, "img")
		runner.RegisterOutputHandler(fits)
		defer func() {
			if err := fits.Err(); err != nil {
				log.Printf("FITS output incomplete: %v", err)
			}
		}()
	}

	bus.SubscribeFrameReady(func(p acq.Plane, ev acq.FrameEvent, m acq.FrameMeta) {
		fmt.Printf("  frame %v channel=%q elapsed=%.1fms\n", ev.Index, ev.Channel, m.ElapsedMs)
	})

	seq := buildSequence()
	frames, err := seq.NumEvents()
	if err != nil {
		log.Fatalf("invalid acquisition plan: %v", err)
	}
	fmt.Printf("running %s: %d frames at %.1fms exposure\n", seq.UID, frames, *exposure)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	if err := runner.Run(ctx, seq); err != nil {
		log.Printf("acquisition aborted: %v", err)
		os.Exit(1)
	}
	fmt.Printf("done: %d frames in %v\n", frames, time.Since(start).Round(time.Millisecond))
}
