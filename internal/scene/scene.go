// Package scene owns one milling session: the stock, the active tool, the
// program being run and the surface shown to the user. Hosts drive it
// once per frame with PerformGradualMill.
package scene

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"github.com/feedop/Fraessimulator/internal/config"
	"github.com/feedop/Fraessimulator/internal/driver"
	"github.com/feedop/Fraessimulator/internal/logging"
	"github.com/feedop/Fraessimulator/internal/mill"
	"github.com/feedop/Fraessimulator/internal/surface"
	"github.com/feedop/Fraessimulator/internal/tool"
	"github.com/feedop/Fraessimulator/internal/toolpath"
	"github.com/feedop/Fraessimulator/internal/workpiece"
)

// Stats totals the work done in the current run.
type Stats struct {
	Frames          int
	Segments        int
	Cells           int
	Volume          float64
	RapidCollisions int
}

type Option func(*Scene)

func WithLogger(l *slog.Logger) Option {
	return func(s *Scene) { s.log = logging.OrNop(l) }
}

type Scene struct {
	cfg config.Config
	log *slog.Logger

	wp        *workpiece.Workpiece
	tool      tool.Tool
	engine    *mill.Engine
	driver    *driver.Driver
	extractor *surface.Extractor
	mesh      *surface.Mesh

	runID uuid.UUID
	stats Stats
}

// New builds a scene with a fresh block of stock and the configured tool.
// No program is loaded.
func New(cfg config.Config, opts ...Option) (*Scene, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tl, err := cfg.Tool.New()
	if err != nil {
		return nil, err
	}
	wp, err := workpiece.New(cfg.Stock.WorkpieceSpec())
	if err != nil {
		return nil, err
	}

	s := &Scene{
		cfg:       cfg,
		log:       logging.Nop(),
		wp:        wp,
		tool:      tl,
		extractor: surface.NewExtractor(surface.Options{Workers: cfg.Surface.Workers}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.engine = mill.NewEngine(wp, tl)
	s.driver = driver.New(s.engine, driver.Budget{
		Segments:  cfg.Driver.SegmentsPerFrame,
		Time:      time.Duration(cfg.Driver.TimePerFrameMs) * time.Millisecond,
		RapidFeed: cfg.Driver.RapidFeed,
	})
	s.refresh()

	s.log.Info("scene ready",
		"grid", fmt.Sprintf("%dx%d", wp.Cols(), wp.Rows()),
		"cell", cfg.Stock.CellSize,
		"tool", tl)
	return s, nil
}

// SetDrill swaps the tool and starts over: the stock is restored and the
// program rewound to Idle. size is the diameter; ballNose selects the tip.
// An invalid tool leaves the scene as it was.
func (s *Scene) SetDrill(size float64, ballNose bool) error {
	tl, err := tool.FromDrill(size, ballNose)
	if err != nil {
		return fmt.Errorf("set drill: %w", err)
	}

	s.tool = tl
	s.engine.SetTool(tl)
	s.rewind()
	s.driver.Reset()

	s.log.Info("drill set", "tool", tl)
	return nil
}

// LoadProgram parses text and runs it from the start on fresh stock. On a
// parse error nothing changes.
func (s *Scene) LoadProgram(text string) error {
	start := s.cfg.Parser.Start
	segs, err := toolpath.ParseString(text, toolpath.Options{
		Incremental:   s.cfg.Parser.Incremental,
		ArcResolution: s.cfg.Parser.ArcResolution,
		Start:         mgl64.Vec3{start.X, start.Y, start.Z},
	})
	if err != nil {
		return err
	}
	s.LoadSegments(segs)
	return nil
}

// LoadSegments runs a path from the start on fresh stock.
func (s *Scene) LoadSegments(segs []toolpath.Segment) {
	s.runID = uuid.New()
	s.driver.Load(segs)
	s.rewind()
	s.driver.Start()

	s.log.Info("program loaded",
		"run", s.runID,
		"segments", len(segs),
		"cycle_time", toolpath.CycleTime(segs, s.cfg.Driver.RapidFeed).Round(time.Second))
}

// LoadDemo pockets the middle of the stock 6 mm deep with the current
// tool, for hosts started without a program.
func (s *Scene) LoadDemo() {
	b := s.wp.Bounds()
	top := s.cfg.Stock.Top
	margin := s.tool.Radius() + 5
	s.LoadSegments(toolpath.Raster(toolpath.RasterOptions{
		MinX:       b.Min.X() + margin,
		MinY:       b.Min.Y() + margin,
		MaxX:       b.Max.X() - margin,
		MaxY:       b.Max.Y() - margin,
		Top:        top,
		Depth:      top - 6,
		StepOver:   s.tool.Diameter() / 2,
		StepDown:   2,
		SafeZ:      top + 5,
		Feed:       400,
		PlungeFeed: 50,
	}))
}

// SetStockShape replaces the uniform stock block with per-sample heights
// and starts the loaded program over on it.
func (s *Scene) SetStockShape(heights []float64) error {
	if err := s.wp.ResetShape(heights); err != nil {
		return err
	}
	s.Restart()
	return nil
}

// Restart runs the loaded program again from the start on fresh stock.
func (s *Scene) Restart() {
	s.driver.Reset()
	s.rewind()
	s.driver.Start()
	if len(s.driver.Segments()) > 0 {
		s.runID = uuid.New()
	}
}

func (s *Scene) Pause()  { s.driver.Pause() }
func (s *Scene) Resume() { s.driver.Resume() }

// PerformGradualMill advances the program by one frame's budget and brings
// the surface up to date. It reports whether the surface changed.
func (s *Scene) PerformGradualMill() bool {
	step := s.driver.Advance()
	if step.Segments == 0 {
		return false
	}

	s.stats.Frames++
	s.stats.Segments += step.Segments
	s.stats.Cells += step.Result.Cells
	s.stats.Volume += step.Result.Volume
	s.stats.RapidCollisions += len(step.Collisions)
	for _, seg := range step.Collisions {
		s.log.Warn("rapid move cut material", "run", s.runID, "line", seg.Line, "segment", seg)
	}

	changed := false
	if dirty := s.wp.TakeDirty(); !dirty.Empty() {
		s.mesh = s.extractor.Extract(s.wp, &dirty)
		changed = true
	}

	s.log.Debug("frame",
		"segments", step.Segments,
		"cells", step.Result.Cells,
		"region", step.Region,
		"progress", s.driver.Fraction())

	if s.driver.State() == driver.Completed {
		s.log.Info("run completed",
			"run", s.runID,
			"segments", s.stats.Segments,
			"machining_time", s.driver.Progress().Elapsed.Round(time.Millisecond),
			"volume", s.stats.Volume,
			"rapid_collisions", s.stats.RapidCollisions)
	}
	return changed
}

// rewind restores the stock and rebuilds the whole surface.
func (s *Scene) rewind() {
	s.wp.Restore()
	s.stats = Stats{}
	s.refresh()
}

func (s *Scene) refresh() {
	s.wp.TakeDirty()
	s.mesh = s.extractor.Extract(s.wp, nil)
}

func (s *Scene) Surface() *surface.Mesh          { return s.mesh }
func (s *Scene) Workpiece() *workpiece.Workpiece { return s.wp }
func (s *Scene) Tool() tool.Tool                 { return s.tool }
func (s *Scene) Progress() driver.Progress       { return s.driver.Progress() }
func (s *Scene) State() driver.State             { return s.driver.State() }
func (s *Scene) Program() []toolpath.Segment     { return s.driver.Segments() }
func (s *Scene) Stats() Stats                    { return s.stats }
func (s *Scene) Config() config.Config           { return s.cfg }

// RunID identifies the current run in logs and streamed frames. It is the
// zero UUID until a program is loaded.
func (s *Scene) RunID() uuid.UUID { return s.runID }

// CycleTime estimates how long the loaded program takes on a real machine.
func (s *Scene) CycleTime() time.Duration {
	return toolpath.CycleTime(s.driver.Segments(), s.cfg.Driver.RapidFeed)
}
