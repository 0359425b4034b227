package surface

import (
	"fmt"
	"io"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/hschendel/stl"

	"github.com/feedop/Fraessimulator/internal/workpiece"
)

// Solid builds a closed model of the workpiece: the cut top surface, four
// side walls and a flat bottom. The bottom sits at Z=0, or below the lowest
// sample if material was cut beneath that.
func Solid(wp *workpiece.Workpiece) *stl.Solid {
	w, h := wp.Cols(), wp.Rows()
	floor := 0.0
	if lowest := wp.MinHeight(); lowest <= floor {
		floor = lowest - 1
	}

	s := &stl.Solid{Name: "workpiece"}
	s.Triangles = make([]stl.Triangle, 0, 2*(w-1)*(h-1)+6*(w-1)+6*(h-1))

	top := func(i, j int) mgl64.Vec3 {
		x, y := wp.Position(i, j)
		return mgl64.Vec3{x, y, wp.Height(i, j)}
	}
	bottom := func(i, j int) mgl64.Vec3 {
		x, y := wp.Position(i, j)
		return mgl64.Vec3{x, y, floor}
	}

	for j := 0; j < h-1; j++ {
		for i := 0; i < w-1; i++ {
			s.Triangles = append(s.Triangles,
				triangle(top(i, j), top(i+1, j), top(i+1, j+1)),
				triangle(top(i, j), top(i+1, j+1), top(i, j+1)))
		}
	}

	// walls, wound to face outwards
	for i := 0; i < w-1; i++ {
		s.Triangles = append(s.Triangles, quad(bottom(i, 0), bottom(i+1, 0), top(i+1, 0), top(i, 0))...)
		s.Triangles = append(s.Triangles, quad(bottom(i+1, h-1), bottom(i, h-1), top(i, h-1), top(i+1, h-1))...)
	}
	for j := 0; j < h-1; j++ {
		s.Triangles = append(s.Triangles, quad(bottom(0, j+1), bottom(0, j), top(0, j), top(0, j+1))...)
		s.Triangles = append(s.Triangles, quad(bottom(w-1, j), bottom(w-1, j+1), top(w-1, j+1), top(w-1, j))...)
	}

	// the bottom is a fan over the wall edges so the solid has no T-junctions
	x0, y0 := wp.Position(0, 0)
	x1, y1 := wp.Position(w-1, h-1)
	centre := mgl64.Vec3{(x0 + x1) / 2, (y0 + y1) / 2, floor}
	rim := make([]mgl64.Vec3, 0, 2*(w-1)+2*(h-1))
	for i := 0; i < w-1; i++ {
		rim = append(rim, bottom(i, 0))
	}
	for j := 0; j < h-1; j++ {
		rim = append(rim, bottom(w-1, j))
	}
	for i := w - 1; i > 0; i-- {
		rim = append(rim, bottom(i, h-1))
	}
	for j := h - 1; j > 0; j-- {
		rim = append(rim, bottom(0, j))
	}
	for k := range rim {
		s.Triangles = append(s.Triangles, triangle(centre, rim[(k+1)%len(rim)], rim[k]))
	}

	return s
}

// WriteSTL writes the workpiece as a binary STL.
func WriteSTL(w io.Writer, wp *workpiece.Workpiece) error {
	return Solid(wp).WriteAll(w)
}

func WriteSTLFile(path string, wp *workpiece.Workpiece) error {
	if err := Solid(wp).WriteFile(path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// quad splits a counter-clockwise quad into two triangles.
func quad(a, b, c, d mgl64.Vec3) []stl.Triangle {
	return []stl.Triangle{triangle(a, b, c), triangle(a, c, d)}
}

func triangle(a, b, c mgl64.Vec3) stl.Triangle {
	n := b.Sub(a).Cross(c.Sub(a))
	if l := n.Len(); l > 0 && !math.IsInf(l, 0) {
		n = n.Mul(1 / l)
	}
	return stl.Triangle{
		Normal:   vec3(n),
		Vertices: [3]stl.Vec3{vec3(a), vec3(b), vec3(c)},
	}
}

func vec3(v mgl64.Vec3) stl.Vec3 {
	return stl.Vec3{float32(v.X()), float32(v.Y()), float32(v.Z())}
}
