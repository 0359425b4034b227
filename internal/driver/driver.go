// Package driver feeds a toolpath to the milling engine a little at a time,
// once per frame, so the cut can be watched as it happens.
package driver

import (
	"fmt"
	"time"

	"github.com/feedop/Fraessimulator/internal/mill"
	"github.com/feedop/Fraessimulator/internal/toolpath"
	"github.com/feedop/Fraessimulator/internal/workpiece"
)

// DefaultSegments is the per-advance segment budget used when Budget.Segments is zero.
const DefaultSegments = 10

type State int

const (
	Idle State = iota
	Running
	Paused
	Completed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Completed:
		return "completed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Budget bounds the work of a single Advance.
type Budget struct {
	// Segments is the most segments consumed per advance.
	Segments int
	// Time, if positive, also stops an advance once the simulated
	// machining time of the consumed segments reaches it.
	Time time.Duration
	// RapidFeed is the feedrate assumed for rapid moves, in units/min.
	RapidFeed float64
}

// Step is what one Advance did.
type Step struct {
	Region   workpiece.Region
	Segments int
	Elapsed  time.Duration
	Result   mill.Result
	// Collisions lists the rapid moves that removed material.
	Collisions []toolpath.Segment
}

type Progress struct {
	Done    int
	Total   int
	Elapsed time.Duration
}

// Fraction is the share of segments consumed, in [0, 1].
func (p Progress) Fraction() float64 {
	if p.Total == 0 {
		return 1
	}
	return float64(p.Done) / float64(p.Total)
}

// Driver steps through a path. It never blocks and never starts
// goroutines; each Advance does a bounded amount of work.
type Driver struct {
	engine *mill.Engine
	budget Budget

	segs    []toolpath.Segment
	cursor  int
	elapsed time.Duration
	state   State
}

func New(engine *mill.Engine, budget Budget) *Driver {
	if budget.Segments <= 0 {
		budget.Segments = DefaultSegments
	}
	return &Driver{engine: engine, budget: budget}
}

func (d *Driver) Budget() Budget { return d.budget }

// SetBudget changes the budget for subsequent advances.
func (d *Driver) SetBudget(b Budget) {
	if b.Segments <= 0 {
		b.Segments = DefaultSegments
	}
	d.budget = b
}

func (d *Driver) State() State { return d.state }

func (d *Driver) Segments() []toolpath.Segment { return d.segs }

// Load replaces the path and rewinds to Idle.
func (d *Driver) Load(segs []toolpath.Segment) {
	d.segs = segs
	d.Reset()
}

// Start begins consuming the loaded path. An empty path completes at once.
func (d *Driver) Start() {
	if d.state != Idle {
		return
	}
	if len(d.segs) == 0 {
		d.state = Completed
		return
	}
	d.state = Running
}

func (d *Driver) Pause() {
	if d.state == Running {
		d.state = Paused
	}
}

func (d *Driver) Resume() {
	if d.state == Paused {
		d.state = Running
	}
}

// Reset rewinds the cursor and returns to Idle. The workpiece is not touched.
func (d *Driver) Reset() {
	d.cursor = 0
	d.elapsed = 0
	d.state = Idle
}

// Advance consumes the next slice of the path. Outside Running it does nothing.
func (d *Driver) Advance() Step {
	step := Step{}
	if d.state != Running {
		return step
	}

	for step.Segments < d.budget.Segments && d.cursor < len(d.segs) {
		if d.budget.Time > 0 && step.Segments > 0 && step.Elapsed >= d.budget.Time {
			break
		}

		seg := d.segs[d.cursor]
		res := d.engine.Cut(seg)
		if res.RapidCollision {
			step.Collisions = append(step.Collisions, seg)
		}
		step.Result.Add(res)
		step.Elapsed += seg.Duration(d.budget.RapidFeed)
		step.Segments++
		d.cursor++
	}

	step.Region = step.Result.Region
	d.elapsed += step.Elapsed
	if d.cursor >= len(d.segs) {
		d.state = Completed
	}
	return step
}

func (d *Driver) Progress() Progress {
	return Progress{Done: d.cursor, Total: len(d.segs), Elapsed: d.elapsed}
}

func (d *Driver) Fraction() float64 {
	return d.Progress().Fraction()
}
