// Package toolpath turns tool-motion programs into ordered straight segments
// and writes or generates such programs.
package toolpath

import (
	"fmt"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// Kind is the motion kind of a segment.
type Kind int

const (
	Rapid Kind = iota
	Feed
	// Arc marks a chord of a linearised G2/G3 move. Arc segments are straight.
	Arc
)

func (k Kind) String() string {
	switch k {
	case Rapid:
		return "rapid"
	case Feed:
		return "feed"
	case Arc:
		return "arc"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Segment is one straight tool motion from Start to End.
type Segment struct {
	Start mgl64.Vec3
	End   mgl64.Vec3
	Kind  Kind
	// Feed is in units per minute. It is only used for pacing.
	Feed float64
	// Line is the 1-based source line, or 0 for generated segments.
	Line int
}

func (s Segment) Length() float64 {
	return s.End.Sub(s.Start).Len()
}

// IsZero reports whether the segment does not move the tool.
func (s Segment) IsZero() bool {
	return s.Start.ApproxEqual(s.End)
}

// Duration is the time the move takes at its feedrate. Rapids use
// rapidFeed. A non-positive feed means the move is instantaneous.
func (s Segment) Duration(rapidFeed float64) time.Duration {
	feed := s.Feed
	if s.Kind == Rapid {
		feed = rapidFeed
	}
	if feed <= 0 {
		return 0
	}
	return time.Duration(60 * s.Length() / feed * float64(time.Second))
}

func (s Segment) String() string {
	return fmt.Sprintf("%s (%.4f,%.4f,%.4f)->(%.4f,%.4f,%.4f) F%g", s.Kind,
		s.Start.X(), s.Start.Y(), s.Start.Z(), s.End.X(), s.End.Y(), s.End.Z(), s.Feed)
}

// CycleTime estimates the machining time of a whole path.
func CycleTime(segs []Segment, rapidFeed float64) time.Duration {
	var total time.Duration
	for i := range segs {
		total += segs[i].Duration(rapidFeed)
	}
	return total
}

// Bounds returns the XYZ extent of a path. ok is false for an empty path.
func Bounds(segs []Segment) (lo, hi mgl64.Vec3, ok bool) {
	if len(segs) == 0 {
		return lo, hi, false
	}
	lo, hi = segs[0].Start, segs[0].Start
	for i := range segs {
		for _, p := range [2]mgl64.Vec3{segs[i].Start, segs[i].End} {
			for a := 0; a < 3; a++ {
				lo[a] = math.Min(lo[a], p[a])
				hi[a] = math.Max(hi[a], p[a])
			}
		}
	}
	return lo, hi, true
}
