// Package surface turns the workpiece height field into a triangle mesh for
// rendering, rebuilding only what changed since the previous frame.
package surface

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"golang.org/x/sync/errgroup"

	"github.com/feedop/Fraessimulator/internal/workpiece"
)

// minRowsPerWorker keeps tiny updates on the calling goroutine.
const minRowsPerWorker = 16

type Options struct {
	// Workers splits rebuilt rows across goroutines when greater than 1.
	Workers int
}

// Mesh is a height-field surface with one vertex per sample, laid out
// row-major like the workpiece. Vertex n is sample (n%Width, n/Width).
type Mesh struct {
	Width  int
	Height int

	Positions []float32 // x, y, z per vertex
	Normals   []float32 // unit x, y, z per vertex
	Indices   []uint32  // two triangles per 2x2 block of samples

	updated workpiece.Region
}

func (m *Mesh) VertexCount() int   { return m.Width * m.Height }
func (m *Mesh) TriangleCount() int { return len(m.Indices) / 3 }

// Updated is the range of samples whose vertices the last Extract rewrote.
func (m *Mesh) Updated() workpiece.Region {
	return m.updated
}

// Rows returns the positions and normals of rows [j0, j1).
func (m *Mesh) Rows(j0, j1 int) (positions, normals []float32) {
	lo, hi := j0*m.Width*3, j1*m.Width*3
	return m.Positions[lo:hi], m.Normals[lo:hi]
}

// AppendBinary appends a little-endian image of the mesh: width and height
// as uint32, then positions, normals and indices.
func (m *Mesh) AppendBinary(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, uint32(m.Width))
	b = binary.LittleEndian.AppendUint32(b, uint32(m.Height))
	for _, f := range m.Positions {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(f))
	}
	for _, f := range m.Normals {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(f))
	}
	for _, n := range m.Indices {
		b = binary.LittleEndian.AppendUint32(b, n)
	}
	return b
}

func (m *Mesh) Bytes() []byte {
	return m.AppendBinary(make([]byte, 0, 8+4*(len(m.Positions)+len(m.Normals)+len(m.Indices))))
}

// Extractor keeps the mesh between frames.
type Extractor struct {
	opt  Options
	mesh *Mesh

	originX, originY float64
	cellW, cellD     float64
}

func NewExtractor(opt Options) *Extractor {
	if opt.Workers < 1 {
		opt.Workers = 1
	}
	return &Extractor{opt: opt}
}

// Extract brings the mesh up to date with wp. With a nil region the whole
// grid is rebuilt; otherwise only the region and a one-sample halo are.
// The returned mesh is reused by later calls.
func (e *Extractor) Extract(wp *workpiece.Workpiece, region *workpiece.Region) *Mesh {
	full := region == nil || e.mesh == nil || !e.sameGrid(wp)
	if full {
		e.resize(wp)
	}

	var r workpiece.Region
	switch {
	case full:
		r = wp.Rect()
	case region.Empty():
		// nothing changed, and no halo either
	default:
		r = region.Inset(-1).Intersect(wp.Rect())
	}
	e.mesh.updated = r
	if r.Empty() {
		return e.mesh
	}

	rows := r.Dy()
	workers := e.opt.Workers
	if limit := rows / minRowsPerWorker; workers > limit {
		workers = limit
	}
	if workers <= 1 {
		e.rebuild(wp, r)
		return e.mesh
	}

	g := errgroup.Group{}
	per := (rows + workers - 1) / workers
	for j0 := r.Min.Y; j0 < r.Max.Y; j0 += per {
		part := r
		part.Min.Y = j0
		part.Max.Y = min(j0+per, r.Max.Y)
		g.Go(func() error {
			e.rebuild(wp, part)
			return nil
		})
	}
	g.Wait()

	return e.mesh
}

func (e *Extractor) sameGrid(wp *workpiece.Workpiece) bool {
	spec := wp.Spec()
	return e.mesh.Width == wp.Cols() && e.mesh.Height == wp.Rows() &&
		e.originX == spec.OriginX && e.originY == spec.OriginY &&
		e.cellW == spec.CellW && e.cellD == spec.CellD
}

func (e *Extractor) resize(wp *workpiece.Workpiece) {
	spec := wp.Spec()
	e.originX, e.originY = spec.OriginX, spec.OriginY
	e.cellW, e.cellD = spec.CellW, spec.CellD

	w, h := wp.Cols(), wp.Rows()
	if e.mesh != nil && e.mesh.Width == w && e.mesh.Height == h {
		return
	}
	e.mesh = &Mesh{
		Width:     w,
		Height:    h,
		Positions: make([]float32, 3*w*h),
		Normals:   make([]float32, 3*w*h),
		Indices:   gridIndices(w, h),
	}
}

// gridIndices triangulates a w by h grid, counter-clockwise seen from +Z.
func gridIndices(w, h int) []uint32 {
	indices := make([]uint32, 0, 6*(w-1)*(h-1))
	for j := 0; j < h-1; j++ {
		for i := 0; i < w-1; i++ {
			v00 := uint32(j*w + i)
			v10 := v00 + 1
			v01 := v00 + uint32(w)
			v11 := v01 + 1
			indices = append(indices, v00, v10, v11, v00, v11, v01)
		}
	}
	return indices
}

// rebuild rewrites the vertices of samples in r. Calls on disjoint row
// ranges write disjoint parts of the mesh.
func (e *Extractor) rebuild(wp *workpiece.Workpiece, r workpiece.Region) {
	m := e.mesh
	w, h := m.Width, m.Height
	cw, cd := wp.CellW(), wp.CellD()

	for j := r.Min.Y; j < r.Max.Y; j++ {
		for i := r.Min.X; i < r.Max.X; i++ {
			n := 3 * (j*w + i)
			x, y := wp.Position(i, j)
			m.Positions[n] = float32(x)
			m.Positions[n+1] = float32(y)
			m.Positions[n+2] = float32(wp.Height(i, j))

			// central differences, one-sided at the border
			il, ir := max(i-1, 0), min(i+1, w-1)
			jd, ju := max(j-1, 0), min(j+1, h-1)
			dzdx := (wp.Height(ir, j) - wp.Height(il, j)) / (float64(ir-il) * cw)
			dzdy := (wp.Height(i, ju) - wp.Height(i, jd)) / (float64(ju-jd) * cd)

			normal := mgl64.Vec3{-dzdx, -dzdy, 1}.Normalize()
			m.Normals[n] = float32(normal.X())
			m.Normals[n+1] = float32(normal.Y())
			m.Normals[n+2] = float32(normal.Z())
		}
	}
}
