package toolpath

import (
	"fmt"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
)

// FormatOptions controls Format.
type FormatOptions struct {
	// Start is where the machine is before the program runs. A rapid to
	// the first segment's start is written when it differs.
	Start mgl64.Vec3
	// RPM is the spindle speed written with M3. Zero omits the spindle.
	RPM float64
}

// Format writes segments as a G-code program that Parse reads back into
// the same sequence. Arc chords are written as G1 moves.
func Format(segs []Segment, opt FormatOptions) string {
	gcode := strings.Builder{}

	gcode.WriteString("G21\n") // mm
	gcode.WriteString("G90\n") // absolute coordinates
	gcode.WriteString("G54\n") // work coordinate system
	if opt.RPM > 0 {
		fmt.Fprintf(&gcode, "M3 S%g\n", opt.RPM)
	}

	if len(segs) > 0 && !segs[0].Start.ApproxEqual(opt.Start) {
		p := segs[0].Start
		fmt.Fprintf(&gcode, "G0 X%.04f Y%.04f Z%.04f\n", p.X(), p.Y(), p.Z())
	}

	for i := range segs {
		p := segs[i].End
		if segs[i].Kind == Rapid {
			fmt.Fprintf(&gcode, "G0 X%.04f Y%.04f Z%.04f\n", p.X(), p.Y(), p.Z())
		} else {
			fmt.Fprintf(&gcode, "G1 X%.04f Y%.04f Z%.04f F%g\n", p.X(), p.Y(), p.Z(), segs[i].Feed)
		}
	}

	if opt.RPM > 0 {
		gcode.WriteString("M5\n") // stop spindle
	}
	gcode.WriteString("M2\n") // end program

	return gcode.String()
}
