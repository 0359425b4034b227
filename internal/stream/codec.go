// Package stream publishes surface updates over websockets so an external
// renderer can follow a running simulation.
package stream

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"

	"github.com/feedop/Fraessimulator/internal/surface"
)

// Version is bumped whenever the frame layout changes.
const Version = 1

var ErrBadFrame = errors.New("malformed frame")

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	decoder, _ = zstd.NewReader(nil)
)

// Header is the JSON line that starts every frame.
type Header struct {
	Version  int     `json:"version"`
	Run      string  `json:"run"`
	Seq      uint64  `json:"seq"`
	Full     bool    `json:"full"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Row0     int     `json:"row0"`
	Row1     int     `json:"row1"`
	State    string  `json:"state"`
	Progress float64 `json:"progress"`
}

// Frame carries the positions and normals of rows [Row0, Row1) of the
// surface. Triangle indices are not sent; clients rebuild them from the
// grid size.
type Frame struct {
	Header
	Positions []float32
	Normals   []float32
}

// Meta is the run information attached to published frames.
type Meta struct {
	Run      string
	State    string
	Progress float64
}

// NewFrame takes rows [j0, j1) of the mesh.
func NewFrame(m *surface.Mesh, j0, j1 int, full bool, meta Meta) Frame {
	positions, normals := m.Rows(j0, j1)
	return Frame{
		Header: Header{
			Version:  Version,
			Run:      meta.Run,
			Full:     full,
			Width:    m.Width,
			Height:   m.Height,
			Row0:     j0,
			Row1:     j1,
			State:    meta.State,
			Progress: meta.Progress,
		},
		Positions: positions,
		Normals:   normals,
	}
}

// Encode writes the header as a JSON line followed by the zstd-compressed
// little-endian float32 positions, then normals.
func Encode(f Frame) ([]byte, error) {
	if len(f.Positions) != len(f.Normals) {
		return nil, fmt.Errorf("%w: %d positions but %d normals", ErrBadFrame, len(f.Positions), len(f.Normals))
	}

	head, err := json.Marshal(f.Header)
	if err != nil {
		return nil, err
	}

	raw := make([]byte, 0, 4*(len(f.Positions)+len(f.Normals)))
	for _, v := range f.Positions {
		raw = binary.LittleEndian.AppendUint32(raw, math.Float32bits(v))
	}
	for _, v := range f.Normals {
		raw = binary.LittleEndian.AppendUint32(raw, math.Float32bits(v))
	}

	out := append(head, '\n')
	return encoder.EncodeAll(raw, out), nil
}

func Decode(b []byte) (Frame, error) {
	f := Frame{}

	nl := bytes.IndexByte(b, '\n')
	if nl < 0 {
		return f, fmt.Errorf("%w: no header line", ErrBadFrame)
	}
	if err := json.Unmarshal(b[:nl], &f.Header); err != nil {
		return f, fmt.Errorf("%w: header: %v", ErrBadFrame, err)
	}
	if f.Version != Version {
		return f, fmt.Errorf("%w: version %d, expected %d", ErrBadFrame, f.Version, Version)
	}
	if f.Width < 0 || f.Row0 < 0 || f.Row1 < f.Row0 || f.Row1 > f.Height {
		return f, fmt.Errorf("%w: rows [%d, %d) of %dx%d", ErrBadFrame, f.Row0, f.Row1, f.Width, f.Height)
	}

	raw, err := decoder.DecodeAll(b[nl+1:], nil)
	if err != nil {
		return f, fmt.Errorf("%w: payload: %v", ErrBadFrame, err)
	}
	n := 3 * f.Width * (f.Row1 - f.Row0)
	if len(raw) != 8*n {
		return f, fmt.Errorf("%w: payload is %d bytes, expected %d", ErrBadFrame, len(raw), 8*n)
	}

	values := make([]float32, 2*n)
	for k := range values {
		values[k] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*k:]))
	}
	f.Positions, f.Normals = values[:n:n], values[n:]
	return f, nil
}
