package toolpath

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// arcCenterFromRadius finds the centre of an R-form arc. A positive radius
// selects the shorter arc, a negative one the longer.
func arcCenterFromRadius(start, end mgl64.Vec3, radius float64, clockwise bool) (mgl64.Vec2, bool) {
	dx := end.X() - start.X()
	dy := end.Y() - start.Y()
	d := math.Hypot(dx, dy)
	if d < 1e-9 || radius == 0 {
		return mgl64.Vec2{}, false
	}

	hSqr := radius*radius - d*d/4
	if hSqr < 0 {
		// rounding in the program can leave a half-circle very slightly short
		if hSqr < -1e-6*radius*radius {
			return mgl64.Vec2{}, false
		}
		hSqr = 0
	}
	h := math.Sqrt(hSqr)

	side := 1.0
	if !clockwise {
		side = -side
	}
	if radius < 0 {
		side = -side
	}

	mx := (start.X() + end.X()) / 2
	my := (start.Y() + end.Y()) / 2
	return mgl64.Vec2{mx + side*h*dy/d, my - side*h*dx/d}, true
}

// arc emits chords approximating an XY arc about center, with Z moving
// linearly (helical interpolation).
func (p *Parser) arc(end mgl64.Vec3, center mgl64.Vec2, clockwise bool) error {
	start := p.pos

	r0 := math.Hypot(start.X()-center.X(), start.Y()-center.Y())
	r1 := math.Hypot(end.X()-center.X(), end.Y()-center.Y())
	if r0 < 1e-9 {
		return p.errorf("arc start point is the centre")
	}
	if math.Abs(r0-r1) > 0.01+0.001*r0 {
		return p.errorf("arc end point is not on the circle (radius %.4f vs %.4f)", r0, r1)
	}

	a0 := math.Atan2(start.Y()-center.Y(), start.X()-center.X())
	a1 := math.Atan2(end.Y()-center.Y(), end.X()-center.X())

	sweep := a1 - a0
	if clockwise {
		sweep = a0 - a1
	}
	for sweep <= 1e-9 {
		sweep += 2 * math.Pi
	}
	if sweep > 2*math.Pi+1e-9 {
		sweep -= 2 * math.Pi
	}

	arcLen := sweep * (r0 + r1) / 2
	n := int(math.Ceil(arcLen / p.opt.ArcResolution))
	if n < 1 {
		n = 1
	}

	dir := 1.0
	if clockwise {
		dir = -1
	}

	prev := start
	for k := 1; k <= n; k++ {
		var next mgl64.Vec3
		if k == n {
			next = end
		} else {
			f := float64(k) / float64(n)
			a := a0 + dir*sweep*f
			rad := r0 + (r1-r0)*f
			next = mgl64.Vec3{
				center.X() + rad*math.Cos(a),
				center.Y() + rad*math.Sin(a),
				start.Z() + (end.Z()-start.Z())*f,
			}
		}
		p.emit(Segment{Start: prev, End: next, Kind: Arc, Feed: p.feed})
		prev = next
	}

	return nil
}
