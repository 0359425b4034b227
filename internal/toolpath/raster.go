package toolpath

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

type Direction int

const (
	Horizontal Direction = iota
	Vertical
)

// RasterOptions describes a zig-zag pocket over a rectangle.
type RasterOptions struct {
	MinX, MinY float64
	MaxX, MaxY float64

	// Top is the stock surface; Depth the final floor Z.
	Top   float64
	Depth float64

	StepOver float64
	StepDown float64
	SafeZ    float64

	Feed       float64
	PlungeFeed float64

	Direction Direction
}

// Raster generates a pocketing path: one zig-zag level per step-down from
// just below Top to Depth, with rapids at SafeZ between levels.
func Raster(opt RasterOptions) []Segment {
	segs := []Segment{}
	if opt.StepOver <= 0 || opt.MaxX < opt.MinX || opt.MaxY < opt.MinY {
		return segs
	}
	stepDown := opt.StepDown
	if stepDown <= 0 {
		stepDown = math.Inf(1)
	}
	plunge := opt.PlungeFeed
	if plunge <= 0 {
		plunge = opt.Feed
	}

	pos := mgl64.Vec3{opt.MinX, opt.MinY, opt.SafeZ}
	moveTo := func(p mgl64.Vec3, kind Kind, feed float64) {
		if p.ApproxEqual(pos) {
			return
		}
		segs = append(segs, Segment{Start: pos, End: p, Kind: kind, Feed: feed})
		pos = p
	}

	// pass coordinates along and across the raster direction
	alongMin, alongMax := opt.MinX, opt.MaxX
	acrossMin, acrossMax := opt.MinY, opt.MaxY
	if opt.Direction == Vertical {
		alongMin, alongMax = opt.MinY, opt.MaxY
		acrossMin, acrossMax = opt.MinX, opt.MaxX
	}
	point := func(along, across, z float64) mgl64.Vec3 {
		if opt.Direction == Vertical {
			return mgl64.Vec3{across, along, z}
		}
		return mgl64.Vec3{along, across, z}
	}

	for z := opt.Top - stepDown; ; z -= stepDown {
		if z < opt.Depth {
			z = opt.Depth
		}

		moveTo(point(alongMin, acrossMin, opt.SafeZ), Rapid, 0)
		moveTo(point(alongMin, acrossMin, z), Feed, plunge)

		forward := true
		for across := acrossMin; ; across += opt.StepOver {
			if across > acrossMax {
				across = acrossMax
			}
			from, to := alongMin, alongMax
			if !forward {
				from, to = alongMax, alongMin
			}
			moveTo(point(from, across, z), Feed, opt.Feed)
			moveTo(point(to, across, z), Feed, opt.Feed)
			forward = !forward

			if across >= acrossMax {
				break
			}
		}

		moveTo(mgl64.Vec3{pos.X(), pos.Y(), opt.SafeZ}, Rapid, 0)

		if z <= opt.Depth {
			break
		}
	}

	return segs
}
