// Package shade draws a surface mesh as a top-down lit image.
package shade

import (
	"image"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/feedop/Fraessimulator/internal/surface"
)

var light = mgl64.Vec3{-0.4, -0.5, 0.8}.Normalize()

// Painter keeps one pixel per sample, with row 0 of the mesh at the bottom
// of the image. Colours are lit by the normals and darken with depth
// between Floor and Top.
type Painter struct {
	Image *image.RGBA

	Top   float64
	Floor float64
}

func NewPainter(cols, rows int) *Painter {
	return &Painter{Image: image.NewRGBA(image.Rect(0, 0, cols, rows))}
}

// Reset sets the depth range, as after the stock is restored.
func (p *Painter) Reset(top, floor float64) {
	p.Top, p.Floor = top, floor
}

// Follow extends the depth range down to floor.
func (p *Painter) Follow(floor float64) {
	p.Floor = math.Min(p.Floor, floor)
}

// Paint redraws mesh rows [j0, j1).
func (p *Painter) Paint(m *surface.Mesh, j0, j1 int) {
	w, h := m.Width, m.Height
	depth := p.Top - p.Floor
	if depth <= 0 {
		depth = 1
	}

	for j := j0; j < j1; j++ {
		for i := 0; i < w; i++ {
			v := 3 * (j*w + i)
			n := mgl64.Vec3{float64(m.Normals[v]), float64(m.Normals[v+1]), float64(m.Normals[v+2])}
			z := float64(m.Positions[v+2])

			lambert := math.Max(n.Dot(light), 0)
			tint := mgl64.Clamp((z-p.Floor)/depth, 0, 1)
			c := 0.25 + 0.75*lambert

			px := 4 * ((h-1-j)*w + i)
			p.Image.Pix[px] = uint8(255 * c * (0.55 + 0.45*tint))
			p.Image.Pix[px+1] = uint8(255 * c * (0.6 + 0.35*tint))
			p.Image.Pix[px+2] = uint8(255 * c * (0.7 + 0.2*tint))
			p.Image.Pix[px+3] = 255
		}
	}
}
