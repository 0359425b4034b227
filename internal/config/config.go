// Package config loads simulator settings from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/feedop/Fraessimulator/internal/tool"
	"github.com/feedop/Fraessimulator/internal/workpiece"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Stock   Stock   `yaml:"stock"`
	Tool    Tool    `yaml:"tool"`
	Driver  Driver  `yaml:"driver"`
	Parser  Parser  `yaml:"parser"`
	Surface Surface `yaml:"surface"`
	Log     Log     `yaml:"log"`
}

type Stock struct {
	OriginX   float64 `yaml:"origin_x"`
	OriginY   float64 `yaml:"origin_y"`
	CellSize  float64 `yaml:"cell_size"`
	Width     int     `yaml:"width"`
	Height    int     `yaml:"height"`
	Top       float64 `yaml:"top"`
	Unbounded bool    `yaml:"unbounded"`
	MaxCells  int     `yaml:"max_cells"`
}

type Tool struct {
	Shape    string  `yaml:"shape"`
	Diameter float64 `yaml:"diameter"`
}

type Driver struct {
	SegmentsPerFrame int     `yaml:"segments_per_frame"`
	TimePerFrameMs   int     `yaml:"time_per_frame_ms"`
	RapidFeed        float64 `yaml:"rapid_feed"`
}

type Parser struct {
	Incremental   bool    `yaml:"incremental"`
	ArcResolution float64 `yaml:"arc_resolution"`
	// Start is where the tool is before the first move of a program.
	Start Point `yaml:"start"`
}

type Point struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

type Surface struct {
	Workers int `yaml:"workers"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default is a 100x100 mm block, 10 mm tall, sampled every millimetre and
// cut with an 8 mm flat end mill.
func Default() Config {
	return Config{
		Stock: Stock{
			CellSize: 1,
			Width:    100,
			Height:   100,
			Top:      10,
			MaxCells: workpiece.DefaultMaxCells,
		},
		Tool: Tool{
			Shape:    "flat",
			Diameter: 8,
		},
		Driver: Driver{
			SegmentsPerFrame: 10,
			RapidFeed:        10000,
		},
		Parser: Parser{
			ArcResolution: 0.5,
			Start:         Point{Z: 50},
		},
		Surface: Surface{
			Workers: 1,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults, so a file only needs the settings it
// changes.
func Load(path string) (Config, error) {
	c := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("%s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if !(c.Stock.CellSize > 0) {
		bad("stock.cell_size must be positive, got %g", c.Stock.CellSize)
	}
	if c.Stock.Width < 2 || c.Stock.Height < 2 {
		bad("stock must be at least 2x2 samples, got %dx%d", c.Stock.Width, c.Stock.Height)
	}
	if c.Stock.MaxCells < 0 {
		bad("stock.max_cells must not be negative, got %d", c.Stock.MaxCells)
	}

	if _, err := c.Tool.New(); err != nil {
		bad("tool: %v", err)
	}

	if c.Driver.SegmentsPerFrame < 1 {
		bad("driver.segments_per_frame must be at least 1, got %d", c.Driver.SegmentsPerFrame)
	}
	if c.Driver.TimePerFrameMs < 0 {
		bad("driver.time_per_frame_ms must not be negative, got %d", c.Driver.TimePerFrameMs)
	}
	if c.Driver.RapidFeed < 0 {
		bad("driver.rapid_feed must not be negative, got %g", c.Driver.RapidFeed)
	}

	if !(c.Parser.ArcResolution > 0) {
		bad("parser.arc_resolution must be positive, got %g", c.Parser.ArcResolution)
	}
	if c.Surface.Workers < 0 {
		bad("surface.workers must not be negative, got %d", c.Surface.Workers)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		bad("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		bad("log.format %q is not text or json", c.Log.Format)
	}

	return errors.Join(errs...)
}

// WorkpieceSpec is the grid described by the stock section.
func (s Stock) WorkpieceSpec() workpiece.Spec {
	return workpiece.Spec{
		OriginX:       s.OriginX,
		OriginY:       s.OriginY,
		CellW:         s.CellSize,
		CellD:         s.CellSize,
		Width:         s.Width,
		Height:        s.Height,
		InitialHeight: s.Top,
		Unbounded:     s.Unbounded,
		MaxCells:      s.MaxCells,
	}
}

func (t Tool) New() (tool.Tool, error) {
	shape, err := tool.ParseShape(t.Shape)
	if err != nil {
		return nil, err
	}
	return tool.New(shape, t.Diameter)
}
