package driver

import (
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/feedop/Fraessimulator/internal/mill"
	"github.com/feedop/Fraessimulator/internal/tool"
	"github.com/feedop/Fraessimulator/internal/toolpath"
	"github.com/feedop/Fraessimulator/internal/workpiece"
)

func newTestDriver(t *testing.T, budget Budget) (*Driver, *workpiece.Workpiece) {
	t.Helper()
	wp, err := workpiece.New(workpiece.Spec{CellW: 1, CellD: 1, Width: 100, Height: 100, InitialHeight: 10})
	if err != nil {
		t.Fatalf("can't create workpiece: %v", err)
	}
	tl, err := tool.New(tool.Ball, 4)
	if err != nil {
		t.Fatalf("can't create tool: %v", err)
	}
	return New(mill.NewEngine(wp, tl), budget), wp
}

// zigzag makes n unit-length feed moves that wander across the stock
// getting deeper as they go.
func zigzag(n int) []toolpath.Segment {
	segs := make([]toolpath.Segment, n)
	p := mgl64.Vec3{5, 5, 9}
	for k := range segs {
		next := p.Add(mgl64.Vec3{1, 0, 0})
		if next.X() > 95 {
			next = mgl64.Vec3{5, p.Y() + 3, p.Z() - 0.05}
		}
		segs[k] = toolpath.Segment{Start: p, End: next, Kind: toolpath.Feed, Feed: 600}
		p = next
	}
	return segs
}

func TestPacing(t *testing.T) {
	d, wp := newTestDriver(t, Budget{Segments: 10})
	d.Load(zigzag(1000))
	d.Start()

	advances := 0
	for d.State() == Running {
		step := d.Advance()
		advances++
		if step.Segments != 10 {
			t.Fatalf("advance %d consumed %d segments, expected 10", advances, step.Segments)
		}
		if advances > 1000 {
			t.Fatalf("driver never completed")
		}
	}

	if advances != 100 {
		t.Errorf("completed after %d advances, expected 100", advances)
	}
	if d.State() != Completed {
		t.Errorf("state %v, expected completed", d.State())
	}

	wp.TakeDirty()
	before := wp.Heights()
	for n := 0; n < 5; n++ {
		if step := d.Advance(); step.Segments != 0 || !step.Region.Empty() {
			t.Errorf("advance after completion did work: %+v", step)
		}
	}
	after := wp.Heights()
	for k := range after {
		if after[k] != before[k] {
			t.Fatalf("sample %d changed after completion", k)
		}
	}
	if !wp.Dirty().Empty() {
		t.Errorf("workpiece dirtied after completion: %v", wp.Dirty())
	}

	p := d.Progress()
	if p.Done != 1000 || p.Total != 1000 || d.Fraction() != 1 {
		t.Errorf("progress %+v, fraction %v", p, d.Fraction())
	}
}

func TestTimeBudget(t *testing.T) {
	// each unit move at 600 units/min takes 100ms
	d, _ := newTestDriver(t, Budget{Segments: 100, Time: 250 * time.Millisecond})
	d.Load(zigzag(10))
	d.Start()

	step := d.Advance()
	if step.Segments != 3 {
		t.Errorf("consumed %d segments, expected 3", step.Segments)
	}
	if step.Elapsed != 300*time.Millisecond {
		t.Errorf("elapsed %v, expected 300ms", step.Elapsed)
	}

	// a single segment longer than the budget still makes progress
	d.SetBudget(Budget{Segments: 5, Time: time.Millisecond})
	if step := d.Advance(); step.Segments != 1 {
		t.Errorf("consumed %d segments, expected 1", step.Segments)
	}
	if got := d.Progress().Elapsed; got != 400*time.Millisecond {
		t.Errorf("total elapsed %v, expected 400ms", got)
	}
}

func TestStates(t *testing.T) {
	d, wp := newTestDriver(t, Budget{Segments: 2})

	if step := d.Advance(); step.Segments != 0 {
		t.Errorf("idle driver advanced")
	}

	d.Load(zigzag(6))
	if d.State() != Idle {
		t.Errorf("state after load %v, expected idle", d.State())
	}
	d.Advance()
	if d.Progress().Done != 0 {
		t.Errorf("advance before start moved the cursor")
	}

	d.Start()
	d.Advance()
	d.Pause()
	if d.State() != Paused {
		t.Errorf("state %v, expected paused", d.State())
	}
	if step := d.Advance(); step.Segments != 0 {
		t.Errorf("paused driver advanced")
	}
	if d.Progress().Done != 2 {
		t.Errorf("cursor %d, expected 2", d.Progress().Done)
	}

	d.Resume()
	d.Advance()
	d.Advance()
	if d.State() != Completed {
		t.Errorf("state %v, expected completed", d.State())
	}
	d.Pause()
	d.Resume()
	if d.State() != Completed {
		t.Errorf("pause/resume left completed state: %v", d.State())
	}

	d.Reset()
	if d.State() != Idle || d.Progress().Done != 0 || d.Progress().Elapsed != 0 {
		t.Errorf("reset left state %v progress %+v", d.State(), d.Progress())
	}
	if wp.Height(6, 5) == 10 {
		t.Errorf("reset should not restore the workpiece")
	}
}

func TestEmptyPath(t *testing.T) {
	d, _ := newTestDriver(t, Budget{})
	if d.Budget().Segments != DefaultSegments {
		t.Errorf("default segment budget %d, expected %d", d.Budget().Segments, DefaultSegments)
	}

	d.Load(nil)
	d.Start()
	if d.State() != Completed {
		t.Errorf("empty path should complete at once, state %v", d.State())
	}
	if d.Fraction() != 1 {
		t.Errorf("empty path fraction %v, expected 1", d.Fraction())
	}
}

func TestCollisions(t *testing.T) {
	d, wp := newTestDriver(t, Budget{Segments: 10, RapidFeed: 6000})
	d.Load([]toolpath.Segment{
		{Start: mgl64.Vec3{10, 10, 20}, End: mgl64.Vec3{50, 10, 20}, Kind: toolpath.Rapid, Line: 1},
		{Start: mgl64.Vec3{50, 10, 20}, End: mgl64.Vec3{50, 10, 8}, Kind: toolpath.Rapid, Line: 2},
		{Start: mgl64.Vec3{50, 10, 8}, End: mgl64.Vec3{80, 10, 8}, Kind: toolpath.Feed, Feed: 300, Line: 3},
	})
	d.Start()

	step := d.Advance()
	if d.State() != Completed {
		t.Fatalf("state %v, expected completed", d.State())
	}
	if len(step.Collisions) != 1 || step.Collisions[0].Line != 2 {
		t.Errorf("expected the plunge on line 2 to collide, got %v", step.Collisions)
	}
	if step.Region != step.Result.Region || step.Region.Empty() {
		t.Errorf("step region %v, result region %v", step.Region, step.Result.Region)
	}
	if got := wp.Height(65, 10); got != 8 {
		t.Errorf("feed move left %v, expected 8", got)
	}

	// 40mm + 12mm at 6000mm/min, then 30mm at 300mm/min
	want := 520*time.Millisecond + 6*time.Second
	if diff := step.Elapsed - want; diff < -time.Millisecond || diff > time.Millisecond {
		t.Errorf("elapsed %v, expected %v", step.Elapsed, want)
	}
}
