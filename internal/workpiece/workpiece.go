// Package workpiece holds the stock material as a height field: one
// material-top Z per sample on a regular X/Y grid.
package workpiece

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/paulmach/orb"
)

// DefaultMaxCells bounds the grid size when Spec.MaxCells is zero.
const DefaultMaxCells = 16 << 20

var (
	ErrInvalidSpec           = errors.New("invalid workpiece spec")
	ErrGridResourceExhausted = errors.New("workpiece grid too large")
	ErrOutOfBounds           = errors.New("position outside workpiece")
)

// Spec describes the stock. Sample (i, j) sits at
// (OriginX + i*CellW, OriginY + j*CellD).
type Spec struct {
	OriginX float64
	OriginY float64
	CellW   float64
	CellD   float64
	Width   int
	Height  int

	InitialHeight float64

	// Unbounded makes HeightAt report InitialHeight outside the
	// footprint instead of ErrOutOfBounds.
	Unbounded bool

	MaxCells int
}

// Region is a half-open rectangle of sample indices. The zero value is empty.
type Region = image.Rectangle

// Cell is the region holding just sample (i, j).
func Cell(i, j int) Region {
	return image.Rect(i, j, i+1, j+1)
}

type Workpiece struct {
	spec   Spec
	w      int
	h      int
	height []float64
	// initial is nil for a uniform block of spec.InitialHeight
	initial []float64
	dirty   Region
}

func New(spec Spec) (*Workpiece, error) {
	if spec.Width < 2 || spec.Height < 2 {
		return nil, fmt.Errorf("%w: grid must be at least 2x2 samples, got %dx%d", ErrInvalidSpec, spec.Width, spec.Height)
	}
	if !(spec.CellW > 0) || !(spec.CellD > 0) {
		return nil, fmt.Errorf("%w: cell size must be positive, got %gx%g", ErrInvalidSpec, spec.CellW, spec.CellD)
	}
	if math.IsNaN(spec.InitialHeight) || math.IsInf(spec.InitialHeight, 0) {
		return nil, fmt.Errorf("%w: initial height %g", ErrInvalidSpec, spec.InitialHeight)
	}
	maxCells := spec.MaxCells
	if maxCells <= 0 {
		maxCells = DefaultMaxCells
	}
	if spec.Width > maxCells/spec.Height {
		return nil, fmt.Errorf("%w: %dx%d samples exceeds limit of %d", ErrGridResourceExhausted, spec.Width, spec.Height, maxCells)
	}

	wp := &Workpiece{
		spec:   spec,
		w:      spec.Width,
		h:      spec.Height,
		height: make([]float64, spec.Width*spec.Height),
	}
	wp.Reset(spec.InitialHeight)

	return wp, nil
}

func (wp *Workpiece) Spec() Spec     { return wp.spec }
func (wp *Workpiece) Cols() int      { return wp.w }
func (wp *Workpiece) Rows() int      { return wp.h }
func (wp *Workpiece) CellW() float64 { return wp.spec.CellW }
func (wp *Workpiece) CellD() float64 { return wp.spec.CellD }

// Rect is the region covering every sample.
func (wp *Workpiece) Rect() Region {
	return image.Rect(0, 0, wp.w, wp.h)
}

// Bounds is the X/Y footprint spanned by the sample positions.
func (wp *Workpiece) Bounds() orb.Bound {
	x0, y0 := wp.Position(0, 0)
	x1, y1 := wp.Position(wp.w-1, wp.h-1)
	return orb.Bound{Min: orb.Point{x0, y0}, Max: orb.Point{x1, y1}}
}

// Position is the X/Y location of sample (i, j).
func (wp *Workpiece) Position(i, j int) (float64, float64) {
	return wp.spec.OriginX + float64(i)*wp.spec.CellW, wp.spec.OriginY + float64(j)*wp.spec.CellD
}

// Index finds the sample nearest to (x, y). ok is false when that sample
// would lie outside the grid.
func (wp *Workpiece) Index(x, y float64) (i, j int, ok bool) {
	fi := math.Round((x - wp.spec.OriginX) / wp.spec.CellW)
	fj := math.Round((y - wp.spec.OriginY) / wp.spec.CellD)
	if !(fi >= 0 && fj >= 0 && fi < float64(wp.w) && fj < float64(wp.h)) {
		return 0, 0, false
	}
	return int(fi), int(fj), true
}

// Height is the material top at sample (i, j). Indices must be in range.
func (wp *Workpiece) Height(i, j int) float64 {
	return wp.height[j*wp.w+i]
}

// HeightAt is the material top at the sample nearest (x, y).
func (wp *Workpiece) HeightAt(x, y float64) (float64, error) {
	i, j, ok := wp.Index(x, y)
	if !ok {
		if wp.spec.Unbounded {
			return wp.spec.InitialHeight, nil
		}
		return 0, fmt.Errorf("%w: (%g, %g)", ErrOutOfBounds, x, y)
	}
	return wp.Height(i, j), nil
}

// LowerHeightAt lowers the sample nearest (x, y) to z if z is below it.
// Positions outside the footprint are ignored.
func (wp *Workpiece) LowerHeightAt(x, y, z float64) bool {
	i, j, ok := wp.Index(x, y)
	if !ok {
		return false
	}
	return wp.LowerCell(i, j, z)
}

// LowerCell sets sample (i, j) to min(current, z) and reports whether it
// changed. Material is never added this way.
func (wp *Workpiece) LowerCell(i, j int, z float64) bool {
	n := j*wp.w + i
	if !(z < wp.height[n]) {
		return false
	}
	wp.height[n] = z
	wp.dirty = wp.dirty.Union(Cell(i, j))
	return true
}

// Reset makes the stock a uniform block of height z again.
func (wp *Workpiece) Reset(z float64) {
	wp.spec.InitialHeight = z
	wp.initial = nil
	for n := range wp.height {
		wp.height[n] = z
	}
	wp.dirty = wp.Rect()
}

// ResetShape makes the stock follow per-sample initial heights, row-major
// with j*Width+i indexing. Restore returns to this shape.
func (wp *Workpiece) ResetShape(heights []float64) error {
	if len(heights) != len(wp.height) {
		return fmt.Errorf("%w: shape has %d samples, grid has %d", ErrInvalidSpec, len(heights), len(wp.height))
	}
	top := math.Inf(-1)
	for _, z := range heights {
		if math.IsNaN(z) || math.IsInf(z, 0) {
			return fmt.Errorf("%w: shape height %g", ErrInvalidSpec, z)
		}
		top = math.Max(top, z)
	}

	wp.initial = append(wp.initial[:0], heights...)
	wp.spec.InitialHeight = top
	wp.Restore()
	return nil
}

// Restore puts back the stock as it was after the last Reset or ResetShape.
func (wp *Workpiece) Restore() {
	if wp.initial == nil {
		wp.Reset(wp.spec.InitialHeight)
		return
	}
	copy(wp.height, wp.initial)
	wp.dirty = wp.Rect()
}

// InitialHeight is the stock height of sample (i, j) before any cutting.
func (wp *Workpiece) InitialHeight(i, j int) float64 {
	if wp.initial == nil {
		return wp.spec.InitialHeight
	}
	return wp.initial[j*wp.w+i]
}

// Dirty is the region lowered since the last TakeDirty.
func (wp *Workpiece) Dirty() Region {
	return wp.dirty
}

func (wp *Workpiece) TakeDirty() Region {
	r := wp.dirty
	wp.dirty = Region{}
	return r
}

// Heights returns a copy of the height grid.
func (wp *Workpiece) Heights() []float64 {
	return append([]float64(nil), wp.height...)
}

func (wp *Workpiece) MinHeight() float64 {
	lowest := math.Inf(1)
	for _, z := range wp.height {
		lowest = math.Min(lowest, z)
	}
	return lowest
}

// RemovedVolume is the material removed since the stock was last reset,
// with each sample standing for one cell of area CellW*CellD.
func (wp *Workpiece) RemovedVolume() float64 {
	sum := 0.0
	for j := 0; j < wp.h; j++ {
		for i := 0; i < wp.w; i++ {
			sum += wp.InitialHeight(i, j) - wp.Height(i, j)
		}
	}
	return sum * wp.spec.CellW * wp.spec.CellD
}
