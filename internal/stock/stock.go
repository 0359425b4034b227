// Package stock derives an initial workpiece shape from a triangle model,
// for simulating work on a part that has already been roughed out or cast.
package stock

import (
	"errors"
	"fmt"
	"math"

	"github.com/hschendel/stl"
)

var ErrEmptyModel = errors.New("stl model has no triangles")

// Grid is the sample layout to rasterise onto. *workpiece.Workpiece
// satisfies it.
type Grid interface {
	Cols() int
	Rows() int
	Position(i, j int) (float64, float64)
	CellW() float64
	CellD() float64
}

// Bounds returns the extent of the model.
func Bounds(solid *stl.Solid) (lo, hi stl.Vec3) {
	for a := 0; a < 3; a++ {
		lo[a] = float32(math.Inf(1))
		hi[a] = float32(math.Inf(-1))
	}
	for i := range solid.Triangles {
		for _, v := range solid.Triangles[i].Vertices {
			for a := 0; a < 3; a++ {
				lo[a] = min(lo[a], v[a])
				hi[a] = max(hi[a], v[a])
			}
		}
	}
	return lo, hi
}

// Place moves the model so its lowest X, Y and Z sit at (x, y, z).
func Place(solid *stl.Solid, x, y, z float64) {
	lo, _ := Bounds(solid)
	solid.Translate(stl.Vec3{float32(x) - lo[0], float32(y) - lo[1], float32(z) - lo[2]})
}

// FromSTL rasterises the upper envelope of the model onto the grid, one
// height per sample in row-major order. Samples the model does not cover
// get the model's lowest Z.
func FromSTL(solid *stl.Solid, grid Grid) ([]float64, error) {
	if len(solid.Triangles) == 0 {
		return nil, ErrEmptyModel
	}

	r := newRaster(grid)
	for i := range solid.Triangles {
		t := solid.Triangles[i]
		r.drawTriangle(r.toGrid(t.Vertices[0]), r.toGrid(t.Vertices[1]), r.toGrid(t.Vertices[2]))
	}

	lo, _ := Bounds(solid)
	floor := float64(lo[2])
	for n, z := range r.height {
		if math.IsNaN(z) {
			r.height[n] = floor
		}
	}
	return r.height, nil
}

func ReadFile(path string, grid Grid) ([]float64, error) {
	solid, err := stl.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	heights, err := FromSTL(solid, grid)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return heights, nil
}

type raster struct {
	w, h   int
	ox, oy float64
	cw, cd float64
	// NaN until a triangle covers the sample
	height []float64
}

func newRaster(grid Grid) *raster {
	r := &raster{w: grid.Cols(), h: grid.Rows(), cw: grid.CellW(), cd: grid.CellD()}
	r.ox, r.oy = grid.Position(0, 0)
	r.height = make([]float64, r.w*r.h)
	for n := range r.height {
		r.height[n] = math.NaN()
	}
	return r
}

// toGrid converts model coordinates to fractional sample indices.
func (r *raster) toGrid(v stl.Vec3) [3]float64 {
	return [3]float64{
		(float64(v[0]) - r.ox) / r.cw,
		(float64(v[1]) - r.oy) / r.cd,
		float64(v[2]),
	}
}

type span struct {
	left, right   int
	leftZ, rightZ float64
}

func (r *raster) drawTriangle(a, b, c [3]float64) {
	// find the outline of the triangle, one span per row
	spans := map[int]*span{}
	minY, maxY := math.MaxInt, math.MinInt
	perimeter := func(x, y int, z float64) {
		s, got := spans[y]
		if !got {
			spans[y] = &span{left: x, right: x, leftZ: z, rightZ: z}
		} else {
			if x < s.left {
				s.left, s.leftZ = x, z
			}
			if x > s.right {
				s.right, s.rightZ = x, z
			}
		}
		minY = min(minY, y)
		maxY = max(maxY, y)
	}
	iterateLine(a, b, perimeter)
	iterateLine(b, c, perimeter)
	iterateLine(c, a, perimeter)

	// fill in scanlines
	for y := max(minY, 0); y <= min(maxY, r.h-1); y++ {
		s, got := spans[y]
		if !got {
			continue
		}
		dx := float64(s.right - s.left)
		for x := max(s.left, 0); x <= min(s.right, r.w-1); x++ {
			k := 1.0
			if dx != 0 {
				k = float64(x-s.left) / dx
			}
			r.plot(x, y, s.leftZ+(s.rightZ-s.leftZ)*k)
		}
	}
}

func (r *raster) plot(x, y int, z float64) {
	n := y*r.w + x
	if math.IsNaN(r.height[n]) || z > r.height[n] {
		r.height[n] = z
	}
}

// iterateLine visits the samples nearest to the line from a to b in steps
// of at most half a sample.
func iterateLine(a, b [3]float64, cb func(int, int, float64)) {
	cb(int(math.Round(a[0])), int(math.Round(a[1])), a[2])

	dx := b[0] - a[0]
	dy := b[1] - a[1]
	dz := b[2] - a[2]
	steps := int(math.Ceil(2 * math.Hypot(dx, dy)))
	for i := 1; i <= steps; i++ {
		k := float64(i) / float64(steps)
		cb(int(math.Round(a[0]+dx*k)), int(math.Round(a[1]+dy*k)), a[2]+dz*k)
	}
}
