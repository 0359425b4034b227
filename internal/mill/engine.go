// Package mill removes material from a workpiece along straight tool moves.
package mill

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/feedop/Fraessimulator/internal/tool"
	"github.com/feedop/Fraessimulator/internal/toolpath"
	"github.com/feedop/Fraessimulator/internal/workpiece"
)

// maxSlopeSamples caps the parameter samples taken per cell on sloped moves.
const maxSlopeSamples = 64

// Result describes what one Cut removed.
type Result struct {
	// Region covers every sample that was lowered.
	Region workpiece.Region
	Cells  int
	Volume float64
	// RapidCollision is set when a rapid move removed material.
	RapidCollision bool
}

// Add merges another result into r.
func (r *Result) Add(o Result) {
	r.Region = r.Region.Union(o.Region)
	r.Cells += o.Cells
	r.Volume += o.Volume
	r.RapidCollision = r.RapidCollision || o.RapidCollision
}

// Engine sweeps the active tool along segments and lowers the workpiece
// under it.
type Engine struct {
	wp   *workpiece.Workpiece
	tool tool.Tool
}

func NewEngine(wp *workpiece.Workpiece, t tool.Tool) *Engine {
	return &Engine{wp: wp, tool: t}
}

func (e *Engine) Tool() tool.Tool                 { return e.tool }
func (e *Engine) SetTool(t tool.Tool)             { e.tool = t }
func (e *Engine) Workpiece() *workpiece.Workpiece { return e.wp }

// Cut removes the material swept by the tool moving along seg. Segments
// that miss the stock, and segments that do not move, remove nothing.
func (e *Engine) Cut(seg toolpath.Segment) Result {
	res := Result{}
	if seg.IsZero() {
		return res
	}

	wp := e.wp
	r := e.tool.Radius()
	rr := r * r

	a := orb.Point{seg.Start.X(), seg.Start.Y()}
	b := orb.Point{seg.End.X(), seg.End.Y()}

	box := orb.Bound{Min: a, Max: a}.Extend(b).Pad(r)
	if !box.Intersects(wp.Bounds()) {
		return res
	}

	spec := wp.Spec()
	i0 := clampIndex(math.Ceil((box.Min.X()-spec.OriginX)/spec.CellW), wp.Cols())
	i1 := clampIndex(math.Floor((box.Max.X()-spec.OriginX)/spec.CellW), wp.Cols())
	j0 := clampIndex(math.Ceil((box.Min.Y()-spec.OriginY)/spec.CellD), wp.Rows())
	j1 := clampIndex(math.Floor((box.Max.Y()-spec.OriginY)/spec.CellD), wp.Rows())

	sweep := newSweep(seg, e.tool, math.Min(spec.CellW, spec.CellD))
	cellArea := spec.CellW * spec.CellD
	tolerance := rr*1e-12 + 1e-12

	for j := j0; j <= j1; j++ {
		for i := i0; i <= i1; i++ {
			x, y := wp.Position(i, j)
			p := orb.Point{x, y}

			dSqr := planar.DistanceFromSegmentSquared(a, b, p)
			if dSqr > rr+tolerance {
				continue
			}
			if dSqr > rr {
				dSqr = rr
			}

			z := sweep.depth(p, dSqr)
			old := wp.Height(i, j)
			if wp.LowerCell(i, j, z) {
				res.Region = res.Region.Union(workpiece.Cell(i, j))
				res.Cells++
				res.Volume += (old - z) * cellArea
			}
		}
	}

	res.RapidCollision = seg.Kind == toolpath.Rapid && res.Cells > 0
	return res
}

func clampIndex(f float64, n int) int {
	if f < 0 {
		return 0
	}
	if f > float64(n-1) {
		return n - 1
	}
	return int(f)
}

// sweep holds the per-segment constants of the depth computation.
type sweep struct {
	tool tool.Tool
	rr   float64

	sx, sy, sz float64
	vx, vy, dz float64
	vv         float64

	level  bool
	plunge bool
	step   float64
}

func newSweep(seg toolpath.Segment, t tool.Tool, cell float64) *sweep {
	s := &sweep{
		tool: t,
		rr:   t.Radius() * t.Radius(),
		sx:   seg.Start.X(),
		sy:   seg.Start.Y(),
		sz:   seg.Start.Z(),
		vx:   seg.End.X() - seg.Start.X(),
		vy:   seg.End.Y() - seg.Start.Y(),
		dz:   seg.End.Z() - seg.Start.Z(),
	}
	s.vv = s.vx*s.vx + s.vy*s.vy
	s.level = math.Abs(s.dz) < 1e-12
	s.plunge = s.vv < 1e-18
	s.step = cell / 2
	return s
}

// depth is the lowest Z the tool's cutting surface reaches at p over the
// whole move. dSqr is p's squared distance from the path in X/Y.
func (s *sweep) depth(p orb.Point, dSqr float64) float64 {
	if s.level {
		return s.sz + s.tool.HeightAtRadiusSqr(dSqr)
	}
	if s.plunge {
		return s.sz + math.Min(0, s.dz) + s.tool.HeightAtRadiusSqr(dSqr)
	}

	// interval of the path parameter over which p is under the tool
	wx := p.X() - s.sx
	wy := p.Y() - s.sy
	wv := wx*s.vx + wy*s.vy
	ww := wx*wx + wy*wy
	disc := wv*wv - s.vv*(ww-s.rr)
	if disc < 0 {
		disc = 0
	}
	sq := math.Sqrt(disc)
	t0 := math.Max(0, (wv-sq)/s.vv)
	t1 := math.Min(1, (wv+sq)/s.vv)
	if t1 < t0 {
		t0, t1 = t1, t0
	}

	switch s.tool.Shape() {
	case tool.Flat:
		// the flat bottom is lowest at whichever end of the interval is deeper
		if s.dz > 0 {
			return s.sz + t0*s.dz
		}
		return s.sz + t1*s.dz
	case tool.Ball:
		return s.lowestSampled(wx, wy, wv, t0, t1)
	}
	panic("mill: unknown tool shape")
}

// lowestSampled finds a ball's lowest point over a sloped move by sampling
// the interval [t0, t1] at half-cell steps.
func (s *sweep) lowestSampled(wx, wy, wv, t0, t1 float64) float64 {
	tStar := math.Max(0, math.Min(1, wv/s.vv))
	best := s.at(wx, wy, tStar)
	best = math.Min(best, s.at(wx, wy, t0))
	best = math.Min(best, s.at(wx, wy, t1))

	n := int(math.Ceil((t1 - t0) * math.Sqrt(s.vv) / s.step))
	if n > maxSlopeSamples {
		n = maxSlopeSamples
	}
	for k := 1; k < n; k++ {
		t := t0 + (t1-t0)*float64(k)/float64(n)
		best = math.Min(best, s.at(wx, wy, t))
	}

	return best
}

// at is the cutting surface Z over p when the tip is at parameter t.
func (s *sweep) at(wx, wy, t float64) float64 {
	ex := wx - t*s.vx
	ey := wy - t*s.vy
	dSqr := ex*ex + ey*ey
	if dSqr > s.rr {
		dSqr = s.rr
	}
	return s.sz + t*s.dz + s.tool.HeightAtRadiusSqr(dSqr)
}
