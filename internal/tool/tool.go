// Package tool describes the cutting instrument: its tip geometry and size.
package tool

import (
	"errors"
	"fmt"
	"math"
)

// Shape names the tip geometry of an end mill.
type Shape int

const (
	Flat Shape = iota
	Ball
)

func (s Shape) String() string {
	switch s {
	case Flat:
		return "flat"
	case Ball:
		return "ball"
	}
	return fmt.Sprintf("Shape(%d)", int(s))
}

// ParseShape accepts the names used in configs and on the command line.
func ParseShape(name string) (Shape, error) {
	switch name {
	case "flat", "flat-end":
		return Flat, nil
	case "ball", "ball-nose", "ball-end":
		return Ball, nil
	}
	return 0, &InvalidToolError{Reason: fmt.Sprintf("unrecognised tool shape: %q", name)}
}

var ErrInvalidTool = errors.New("invalid tool")

// InvalidToolError is returned when a tool cannot be constructed.
type InvalidToolError struct {
	Shape    Shape
	Diameter float64
	Reason   string
}

func (e *InvalidToolError) Error() string {
	if e.Reason != "" {
		return "invalid tool: " + e.Reason
	}
	return fmt.Sprintf("invalid tool: %s end mill with diameter %g", e.Shape, e.Diameter)
}

func (e *InvalidToolError) Is(target error) bool { return target == ErrInvalidTool }

// Tool is one of FlatEndMill or BallEndMill. The set is closed.
type Tool interface {
	Shape() Shape
	Radius() float64
	Diameter() float64
	// HeightAtRadius is how far above the tip the cutting surface sits at
	// horizontal distance r from the axis, or +Inf outside the tool.
	HeightAtRadius(r float64) float64
	// HeightAtRadiusSqr is HeightAtRadius taking r*r.
	HeightAtRadiusSqr(rSqr float64) float64

	sealed()
}

type FlatEndMill struct{ radius float64 }
type BallEndMill struct{ radius float64 }

func New(shape Shape, diameter float64) (Tool, error) {
	if !(diameter > 0) || math.IsInf(diameter, 0) {
		return nil, &InvalidToolError{Shape: shape, Diameter: diameter}
	}
	switch shape {
	case Flat:
		return &FlatEndMill{radius: diameter / 2}, nil
	case Ball:
		return &BallEndMill{radius: diameter / 2}, nil
	}
	return nil, &InvalidToolError{Shape: shape, Diameter: diameter, Reason: fmt.Sprintf("unsupported tool mode %d", int(shape))}
}

// FromDrill maps the host's (size, mode) drill setting onto a tool:
// size is the diameter and the flag selects a ball-nosed tip.
func FromDrill(size float64, ballNose bool) (Tool, error) {
	if ballNose {
		return New(Ball, size)
	}
	return New(Flat, size)
}

func (t *FlatEndMill) Shape() Shape { return Flat }
func (t *BallEndMill) Shape() Shape { return Ball }

func (t *FlatEndMill) Radius() float64 { return t.radius }
func (t *BallEndMill) Radius() float64 { return t.radius }

func (t *FlatEndMill) Diameter() float64 { return 2 * t.radius }
func (t *BallEndMill) Diameter() float64 { return 2 * t.radius }

func (t *FlatEndMill) HeightAtRadius(r float64) float64 { return t.HeightAtRadiusSqr(r * r) }
func (t *BallEndMill) HeightAtRadius(r float64) float64 { return t.HeightAtRadiusSqr(r * r) }

func (t *FlatEndMill) HeightAtRadiusSqr(rSqr float64) float64 {
	if rSqr > t.radius*t.radius {
		return math.Inf(1)
	}
	return 0
}

func (t *BallEndMill) HeightAtRadiusSqr(rSqr float64) float64 {
	rr := t.radius * t.radius
	if rSqr > rr {
		return math.Inf(1)
	}
	return t.radius - math.Sqrt(rr-rSqr)
}

func (t *FlatEndMill) String() string { return fmt.Sprintf("flat %gmm", t.Diameter()) }
func (t *BallEndMill) String() string { return fmt.Sprintf("ball %gmm", t.Diameter()) }

func (*FlatEndMill) sealed() {}
func (*BallEndMill) sealed() {}
