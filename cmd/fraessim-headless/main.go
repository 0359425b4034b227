// Command fraessim-headless runs a milling simulation without a window,
// optionally streaming the surface to websocket clients.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/pprof"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/hschendel/stl"

	"github.com/feedop/Fraessimulator/internal/config"
	"github.com/feedop/Fraessimulator/internal/driver"
	"github.com/feedop/Fraessimulator/internal/logging"
	"github.com/feedop/Fraessimulator/internal/scene"
	"github.com/feedop/Fraessimulator/internal/stock"
	"github.com/feedop/Fraessimulator/internal/stream"
	"github.com/feedop/Fraessimulator/internal/surface"
	"github.com/feedop/Fraessimulator/internal/toolpath"
)

func main() {
	configPath := flag.String("config", "", "Read settings from this YAML file.")
	programPath := flag.String("program", "", "Run this G-code file. Without one a pocketing demo runs.")

	stockSTL := flag.String("stock-stl", "", "Shape the stock from this STL model instead of a flat block.")
	placeStock := flag.Bool("place-stock", false, "Move the --stock-stl model so its lowest corner sits at the stock origin and Z=0.")
	readStockPath := flag.String("read-stock", "", "Read the stock heightmap from a PNG file written by --write-stock.")
	writeStockPath := flag.String("write-stock", "", "Write the milled heightmap to a PNG file.")
	stlPath := flag.String("stl", "", "Write the milled part to an STL file.")
	gcodePath := flag.String("write-gcode", "", "Write the program that was run as G-code.")

	listen := flag.String("listen", "", "Serve the surface to websocket clients on this address, e.g. 127.0.0.1:8765.")
	fps := flag.Int("fps", 60, "Frames per second when serving clients.")

	quiet := flag.Bool("quiet", false, "Suppress output of progress and cycle time.")
	cpuProfile := flag.String("cpuprofile", "", "Write CPU profile to file.")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			fail(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fail(err)
		}
	}
	logger, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		fail(err)
	}
	s, err := scene.New(cfg, scene.WithLogger(logger))
	if err != nil {
		fail(err)
	}

	if *programPath != "" {
		text, err := os.ReadFile(*programPath)
		if err != nil {
			fail(err)
		}
		if err := s.LoadProgram(string(text)); err != nil {
			fail(fmt.Errorf("%s: %w", *programPath, err))
		}
	} else {
		s.LoadDemo()
	}

	wp := s.Workpiece()
	switch {
	case *stockSTL != "":
		var heights []float64
		if *placeStock {
			var solid *stl.Solid
			if solid, err = stl.ReadFile(*stockSTL); err != nil {
				fail(err)
			}
			origin := wp.Bounds().Min
			stock.Place(solid, origin.X(), origin.Y(), 0)
			heights, err = stock.FromSTL(solid, wp)
		} else {
			heights, err = stock.ReadFile(*stockSTL, wp)
		}
		if err != nil {
			fail(err)
		}
		if err := s.SetStockShape(heights); err != nil {
			fail(err)
		}
	case *readStockPath != "":
		heights, err := wp.ReadPNGFile(*readStockPath, 0, cfg.Stock.Top)
		if err != nil {
			fail(err)
		}
		if err := s.SetStockShape(heights); err != nil {
			fail(err)
		}
	}

	if !*quiet {
		fmt.Fprintf(os.Stderr, "%dx%d sample stock, %g mm per sample. %d segments with %v.\n",
			wp.Cols(), wp.Rows(), cfg.Stock.CellSize, len(s.Program()), s.Tool())
		if lo, hi, ok := toolpath.Bounds(s.Program()); ok {
			fmt.Fprintf(os.Stderr, "Program spans X %g..%g, Y %g..%g, Z %g..%g.\n", lo.X(), hi.X(), lo.Y(), hi.Y(), lo.Z(), hi.Z())
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *listen != "" {
		if err := serve(ctx, s, logger, *listen, *fps, *quiet); err != nil {
			fail(err)
		}
	} else {
		run(ctx, s, *quiet)
	}

	if *writeStockPath != "" {
		if err := wp.WritePNGFile(*writeStockPath, 0, cfg.Stock.Top); err != nil {
			fail(err)
		}
	}
	if *stlPath != "" {
		if err := surface.WriteSTLFile(*stlPath, wp); err != nil {
			fail(err)
		}
	}
	if *gcodePath != "" {
		start := cfg.Parser.Start
		gcode := toolpath.Format(s.Program(), toolpath.FormatOptions{Start: mgl64.Vec3{start.X, start.Y, start.Z}})
		if err := os.WriteFile(*gcodePath, []byte(gcode), 0o644); err != nil {
			fail(err)
		}
	}

	if !*quiet {
		st := s.Stats()
		fmt.Fprintf(os.Stderr, "Removed %.1f mm3 in %d frames. Cycle time estimate: %g secs\n",
			st.Volume, st.Frames, s.CycleTime().Seconds())
	}
}

// run mills as fast as possible until the program completes or ctx ends.
func run(ctx context.Context, s *scene.Scene, quiet bool) {
	if !quiet {
		fmt.Fprintf(os.Stderr, "Milling: 0%%")
	}
	for s.State() == driver.Running && ctx.Err() == nil {
		s.PerformGradualMill()
		if !quiet {
			fmt.Fprintf(os.Stderr, "   \rMilling: %.0f%%", 100*s.Progress().Fraction())
		}
	}
	if !quiet {
		fmt.Fprintf(os.Stderr, "   \rMilling: done\n")
	}
}

// serve mills one frame per tick and publishes every change. It keeps
// serving the finished surface until ctx ends.
func serve(ctx context.Context, s *scene.Scene, logger *slog.Logger, addr string, fps int, quiet bool) error {
	if fps <= 0 {
		fps = 60
	}
	streamer := stream.NewServer(logger)
	mux := http.NewServeMux()
	mux.Handle("/stream", streamer.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errc := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()
	logger.Info("streaming", "addr", addr, "path", "/stream")

	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	done := false
	for {
		select {
		case <-ctx.Done():
			shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdown)
		case err := <-errc:
			return err
		case <-ticker.C:
		}

		changed := s.PerformGradualMill()
		meta := stream.Meta{
			Run:      s.RunID().String(),
			State:    s.State().String(),
			Progress: s.Progress().Fraction(),
		}
		switch {
		case changed:
			streamer.Publish(s.Surface(), meta)
		case streamer.PendingFull() > 0:
			// a client joined, or dropped a frame, after the last change
			streamer.Refresh(s.Surface(), meta)
		}

		if !done && s.State() == driver.Completed {
			done = true
			if !quiet {
				fmt.Fprintf(os.Stderr, "Milling: done, serving until interrupted\n")
			}
		}
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "%v\n", err)
	os.Exit(1)
}
