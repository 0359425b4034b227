package workpiece

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
)

// WritePNG encodes the heights as a 24-bit brightness map where black is
// floor and white is top. Image row 0 is the highest Y.
func (wp *Workpiece) WritePNG(w io.Writer, floor, top float64) error {
	if !(top > floor) {
		return fmt.Errorf("%w: png range [%g, %g]", ErrInvalidSpec, floor, top)
	}

	img := image.NewRGBA(image.Rect(0, 0, wp.w, wp.h))

	for y := 0; y < wp.h; y++ {
		for x := 0; x < wp.w; x++ {
			n := (wp.h-1-y)*wp.w + x
			p := y*wp.w + x

			z := wp.height[n]
			if z > top {
				z = top
			}
			if z < floor {
				z = floor
			}
			brightness := int(16777215 * (z - floor) / (top - floor))

			img.Pix[p*4] = uint8(brightness >> 16)
			img.Pix[p*4+1] = uint8((brightness >> 8) & 0xff)
			img.Pix[p*4+2] = uint8(brightness & 0xff)
			img.Pix[p*4+3] = 255
		}
	}

	return png.Encode(w, img)
}

func (wp *Workpiece) WritePNGFile(path string, floor, top float64) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := wp.WritePNG(out, floor, top); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return out.Close()
}

// ReadPNG decodes a brightness map written by WritePNG (or any image of
// the grid's size) into per-sample heights for ResetShape.
func (wp *Workpiece) ReadPNG(r io.Reader, floor, top float64) ([]float64, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	if bounds.Dx() != wp.w || bounds.Dy() != wp.h {
		return nil, fmt.Errorf("%w: stock image is %dx%d px, grid is %dx%d", ErrInvalidSpec, bounds.Dx(), bounds.Dy(), wp.w, wp.h)
	}

	heights := make([]float64, wp.w*wp.h)
	for y := 0; y < wp.h; y++ {
		for x := 0; x < wp.w; x++ {
			cr, cg, cb, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			cr /= 257
			cg /= 257
			cb /= 257
			brightness := float64(65536*cr+256*cg+cb) / 16777215

			heights[(wp.h-1-y)*wp.w+x] = floor + brightness*(top-floor)
		}
	}

	return heights, nil
}

func (wp *Workpiece) ReadPNGFile(path string, floor, top float64) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	heights, err := wp.ReadPNG(f, floor, top)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return heights, nil
}
