package main

import (
	"bufio"
	"bytes"
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/microscope-data/scope.report/internal/acq/events"
	"github.com/microscope-data/scope.report/internal/api"
	"github.com/microscope-data/scope.report/internal/config"
	"github.com/microscope-data/scope.report/internal/core"
	"github.com/microscope-data/scope.report/internal/dispatch"
	"github.com/microscope-data/scope.report/internal/handlers"
	"github.com/microscope-data/scope.report/internal/handlers/sqlite"
	"github.com/microscope-data/scope.report/internal/mda"
	"github.com/microscope-data/scope.report/internal/preview"
	"github.com/microscope-data/scope.report/internal/version"
	"github.com/microscope-data/scope.report/internal/viewer"
)

var (
	configPath = flag.String("config", "", "Settings file (JSON); defaults apply if empty")
	listen     = flag.String("listen", "", "Listen address override")
	serialPort = flag.String("serial", "", "Stage controller serial device (e.g. /dev/ttyUSB0)")
	devMode    = flag.Bool("dev", false, "Run with a mock stage controller fed from fixtures.txt")
)

// stageLabel is the device name the stage controller is registered under;
// property changes addressed to it are forwarded over the serial link.
const stageLabel = "Stage"

func openStagePort() (core.PeripheralPorter, error) {
	if *devMode {
		port := core.NewMockPeripheralPort()
		go func() {
			data, err := os.ReadFile("fixtures.txt")
			if err != nil {
				log.Printf("no fixtures to replay: %v", err)
				return
			}
			scanner := bufio.NewScanner(bytes.NewReader(data))
			for scanner.Scan() {
				if err := port.FeedLine(scanner.Text()); err != nil {
					return
				}
				time.Sleep(100 * time.Millisecond)
			}
		}()
		return port, nil
	}
	return core.OpenPeripheralPort(*serialPort, core.DefaultPortOptions())
}

func main() {
	flag.Parse()
	log.Printf("scope %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	settings, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}
	if *listen != "" {
		settings.ListenAddr = *listen
	}

	loop := dispatch.NewLoop()
	defer loop.Close()
	bus := events.NewBus()

	camera := core.NewSimulatedCamera(settings.Camera.Label, settings.Camera.Height, settings.Camera.Width)
	if err := camera.SetBitDepth(settings.Camera.BitDepth); err != nil {
		log.Fatalf("invalid camera bit depth: %v", err)
	}
	c := core.New(loop, bus, camera)
	runner := mda.NewRunner(loop, bus, camera)

	pv := preview.NewPreview(bus, c, settings.Preview.MaxPlanes)
	defer pv.Close()
	coord := viewer.NewCoordinator(loop, bus, runner)
	defer coord.Close()

	var frameDB *sqlite.DB
	if settings.DBPath != "" {
		frameDB, err = sqlite.Open(settings.DBPath)
		if err != nil {
			log.Fatalf("failed to open frame store: %v", err)
		}
		defer frameDB.Close()
		store := sqlite.NewStore(frameDB)
		defer store.Close()
		runner.RegisterOutputHandler(store)
	}
	if settings.DataRoot != "" {
		runner.RegisterOutputHandler(handlers.NewFITS(settings.DataRoot, "img"))
	}

	var stage core.Peripheral
	if *serialPort != "" || *devMode {
		port, err := openStagePort()
		if err != nil {
			log.Fatalf("failed to open stage controller port: %v", err)
		}
		stage = core.NewPeripheralMux(port)
		if err := stage.Initialize(); err != nil {
			log.Fatalf("failed to initialize stage controller: %v", err)
		}
	}

	var initErr error
	if err := loop.Call(func() {
		if initErr = c.SetExposure(settings.Camera.ExposureMs); initErr != nil {
			return
		}
		if stage != nil {
			c.AddPeripheral(stageLabel, stage)
		}
		if settings.SystemConfig != "" {
			c.LoadSystemConfiguration(settings.SystemConfig)
		}
	}); err != nil {
		log.Fatalf("dispatch loop unavailable: %v", err)
	}
	if initErr != nil {
		log.Fatalf("failed to initialize hardware: %v", initErr)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routine to manage IO on the stage controller port
	if stage != nil {
		defer stage.Close()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := stage.Monitor(ctx); err != nil && err != context.Canceled {
				log.Printf("failed to monitor stage controller: %v", err)
			}
			log.Print("monitor routine terminated")
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// mount the admin debugging routes
		if frameDB != nil {
			if err := frameDB.AttachAdminRoutes(mux); err != nil {
				log.Printf("failed to attach frame store admin routes: %v", err)
			}
		}
		if stage != nil {
			stage.AttachAdminRoutes(mux)
		}

		s := api.NewServer(loop, c, runner, pv, bus, frameDB)
		mux.Handle("/api/", s.ServeMux())

		server := &http.Server{
			Addr:    settings.ListenAddr,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
