package surface

import (
	"bytes"
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/hschendel/stl"

	"github.com/feedop/Fraessimulator/internal/mill"
	"github.com/feedop/Fraessimulator/internal/tool"
	"github.com/feedop/Fraessimulator/internal/toolpath"
	"github.com/feedop/Fraessimulator/internal/workpiece"
)

func newTestWorkpiece(t *testing.T, w, h int) *workpiece.Workpiece {
	t.Helper()
	wp, err := workpiece.New(workpiece.Spec{OriginX: -5, OriginY: 3, CellW: 0.5, CellD: 0.75, Width: w, Height: h, InitialHeight: 10})
	if err != nil {
		t.Fatalf("can't create workpiece: %v", err)
	}
	return wp
}

func randomCut(rng *rand.Rand, e *mill.Engine) workpiece.Region {
	wp := e.Workpiece()
	b := wp.Bounds()
	pick := func() mgl64.Vec3 {
		return mgl64.Vec3{
			b.Min.X() + rng.Float64()*(b.Max.X()-b.Min.X()),
			b.Min.Y() + rng.Float64()*(b.Max.Y()-b.Min.Y()),
			4 + rng.Float64()*5,
		}
	}
	return e.Cut(toolpath.Segment{Start: pick(), End: pick(), Kind: toolpath.Feed}).Region
}

func TestTriangulation(t *testing.T) {
	wp := newTestWorkpiece(t, 7, 5)
	m := NewExtractor(Options{}).Extract(wp, nil)

	if m.VertexCount() != 35 || len(m.Positions) != 105 || len(m.Normals) != 105 {
		t.Errorf("expected 35 vertices, got %d (%d positions, %d normals)", m.VertexCount(), len(m.Positions), len(m.Normals))
	}
	if m.TriangleCount() != 2*6*4 {
		t.Errorf("expected %d triangles, got %d", 2*6*4, m.TriangleCount())
	}
	for _, n := range m.Indices {
		if int(n) >= m.VertexCount() {
			t.Fatalf("index %d out of range", n)
		}
	}

	// vertex 8 is sample (1, 1)
	checkFloat32(t, "x", m.Positions[3*8], -4.5)
	checkFloat32(t, "y", m.Positions[3*8+1], 3.75)
	checkFloat32(t, "z", m.Positions[3*8+2], 10)
	checkFloat32(t, "flat normal", m.Normals[3*8+2], 1)

	if m.Updated() != wp.Rect() {
		t.Errorf("full extraction updated %v, expected %v", m.Updated(), wp.Rect())
	}
}

func TestNormals(t *testing.T) {
	wp := newTestWorkpiece(t, 10, 10)
	// a ramp falling 0.5 per sample in X, i.e. slope 1
	for j := 0; j < 10; j++ {
		for i := 0; i < 10; i++ {
			wp.LowerCell(i, j, 10-0.5*float64(i))
		}
	}

	m := NewExtractor(Options{}).Extract(wp, nil)
	for _, i := range []int{0, 4, 9} {
		n := 3 * (5*10 + i)
		got := mgl64.Vec3{float64(m.Normals[n]), float64(m.Normals[n+1]), float64(m.Normals[n+2])}
		want := mgl64.Vec3{1, 0, 1}.Normalize()
		if !got.ApproxEqualThreshold(want, 1e-5) {
			t.Errorf("normal at column %d is %v, expected %v", i, got, want)
		}
	}
}

func TestIdempotence(t *testing.T) {
	wp := newTestWorkpiece(t, 40, 30)
	tl, _ := tool.New(tool.Ball, 3)
	e := mill.NewEngine(wp, tl)
	randomCut(rand.New(rand.NewSource(3)), e)

	x := NewExtractor(Options{})
	first := x.Extract(wp, nil).Bytes()
	second := x.Extract(wp, nil).Bytes()
	if !bytes.Equal(first, second) {
		t.Errorf("extracting twice gave different geometry")
	}

	empty := workpiece.Region{}
	third := x.Extract(wp, &empty)
	if !third.Updated().Empty() {
		t.Errorf("empty region updated %v", third.Updated())
	}
	if !bytes.Equal(first, third.Bytes()) {
		t.Errorf("extracting an empty region changed the geometry")
	}
}

func TestEmptyRegionAfterCut(t *testing.T) {
	wp := newTestWorkpiece(t, 30, 20)
	tl, _ := tool.New(tool.Flat, 2)
	e := mill.NewEngine(wp, tl)

	x := NewExtractor(Options{})
	x.Extract(wp, nil)
	wp.TakeDirty()

	randomCut(rand.New(rand.NewSource(8)), e)
	dirty := wp.TakeDirty()
	before := x.Extract(wp, &dirty).Bytes()

	empty := wp.TakeDirty()
	m := x.Extract(wp, &empty)
	if !m.Updated().Empty() {
		t.Errorf("nothing was cut but %v was reported updated", m.Updated())
	}
	if !bytes.Equal(before, m.Bytes()) {
		t.Errorf("extracting nothing changed the geometry")
	}
}

func TestPartialMatchesFull(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	wp := newTestWorkpiece(t, 60, 45)
	tl, _ := tool.New(tool.Flat, 2)
	e := mill.NewEngine(wp, tl)

	partial := NewExtractor(Options{})
	partial.Extract(wp, nil)
	wp.TakeDirty()

	for n := 0; n < 40; n++ {
		randomCut(rng, e)
		dirty := wp.TakeDirty()

		got := partial.Extract(wp, &dirty).Bytes()
		want := NewExtractor(Options{}).Extract(wp, nil).Bytes()
		if !bytes.Equal(got, want) {
			t.Fatalf("cut %d: partial extraction of %v differs from a full rebuild", n, dirty)
		}
	}
}

func TestWorkers(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	wp := newTestWorkpiece(t, 80, 100)
	tl, _ := tool.New(tool.Ball, 6)
	e := mill.NewEngine(wp, tl)

	serial := NewExtractor(Options{Workers: 1})
	parallel := NewExtractor(Options{Workers: 4})
	serial.Extract(wp, nil)
	parallel.Extract(wp, nil)
	wp.TakeDirty()

	for n := 0; n < 10; n++ {
		randomCut(rng, e)
		dirty := wp.TakeDirty()
		if !bytes.Equal(serial.Extract(wp, &dirty).Bytes(), parallel.Extract(wp, &dirty).Bytes()) {
			t.Fatalf("cut %d: parallel extraction differs from serial", n)
		}
	}
	if !bytes.Equal(serial.Extract(wp, nil).Bytes(), parallel.Extract(wp, nil).Bytes()) {
		t.Errorf("parallel full extraction differs from serial")
	}
}

func TestGridChange(t *testing.T) {
	x := NewExtractor(Options{})
	x.Extract(newTestWorkpiece(t, 10, 10), nil)

	bigger := newTestWorkpiece(t, 20, 12)
	region := workpiece.Cell(3, 3)
	m := x.Extract(bigger, &region)
	if m.Width != 20 || m.Height != 12 {
		t.Errorf("mesh is %dx%d, expected a rebuild at 20x12", m.Width, m.Height)
	}
	if m.Updated() != bigger.Rect() {
		t.Errorf("grid change should rebuild everything, updated %v", m.Updated())
	}
}

func TestSTL(t *testing.T) {
	wp := newTestWorkpiece(t, 20, 15)
	tl, _ := tool.New(tool.Flat, 2)
	mill.NewEngine(wp, tl).Cut(toolpath.Segment{Start: mgl64.Vec3{-4, 6, 5}, End: mgl64.Vec3{3, 10, 5}, Kind: toolpath.Feed})

	s := Solid(wp)
	want := 2*19*14 + 6*19 + 6*14
	if len(s.Triangles) != want {
		t.Errorf("expected %d triangles, got %d", want, len(s.Triangles))
	}

	// every edge of a closed solid is shared by exactly two triangles
	edges := map[[2]stl.Vec3]int{}
	for _, tri := range s.Triangles {
		for k := 0; k < 3; k++ {
			a, b := tri.Vertices[k], tri.Vertices[(k+1)%3]
			if less(b, a) {
				a, b = b, a
			}
			edges[[2]stl.Vec3{a, b}]++
		}
	}
	for e, n := range edges {
		if n != 2 {
			t.Fatalf("edge %v is used by %d triangles", e, n)
		}
	}

	path := filepath.Join(t.TempDir(), "workpiece.stl")
	if err := WriteSTLFile(path, wp); err != nil {
		t.Fatalf("write stl: %v", err)
	}
	back, err := stl.ReadFile(path)
	if err != nil {
		t.Fatalf("read stl: %v", err)
	}
	if len(back.Triangles) != want {
		t.Errorf("read back %d triangles, expected %d", len(back.Triangles), want)
	}
}

func less(a, b stl.Vec3) bool {
	for k := 0; k < 3; k++ {
		if a[k] != b[k] {
			return a[k] < b[k]
		}
	}
	return false
}

func checkFloat32(t *testing.T, what string, got float32, want float64) {
	t.Helper()
	if math.Abs(float64(got)-want) > 0.0001 {
		t.Errorf("%s should be %v, got %v", what, want, got)
	}
}
