package stream

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/gorilla/websocket"

	"github.com/feedop/Fraessimulator/internal/mill"
	"github.com/feedop/Fraessimulator/internal/surface"
	"github.com/feedop/Fraessimulator/internal/tool"
	"github.com/feedop/Fraessimulator/internal/toolpath"
	"github.com/feedop/Fraessimulator/internal/workpiece"
)

type fixture struct {
	wp        *workpiece.Workpiece
	engine    *mill.Engine
	extractor *surface.Extractor
	mesh      *surface.Mesh
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	wp, err := workpiece.New(workpiece.Spec{CellW: 1, CellD: 1, Width: 30, Height: 40, InitialHeight: 10})
	if err != nil {
		t.Fatalf("can't create workpiece: %v", err)
	}
	tl, _ := tool.New(tool.Flat, 4)
	f := &fixture{wp: wp, engine: mill.NewEngine(wp, tl), extractor: surface.NewExtractor(surface.Options{})}
	f.mesh = f.extractor.Extract(wp, nil)
	wp.TakeDirty()
	return f
}

// cut mills a short slot along row y and re-extracts what changed.
func (f *fixture) cut(y float64) {
	f.engine.Cut(toolpath.Segment{Start: mgl64.Vec3{5, y, 4}, End: mgl64.Vec3{20, y, 4}, Kind: toolpath.Feed})
	dirty := f.wp.TakeDirty()
	f.mesh = f.extractor.Extract(f.wp, &dirty)
}

func TestCodecRoundTrip(t *testing.T) {
	fx := newFixture(t)
	fx.cut(20)

	u := fx.mesh.Updated()
	f := NewFrame(fx.mesh, u.Min.Y, u.Max.Y, false, Meta{Run: "r1", State: "running", Progress: 0.25})
	f.Seq = 7

	b, err := Encode(f)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got.Header != f.Header {
		t.Errorf("header %+v, expected %+v", got.Header, f.Header)
	}
	if got.Row0 != 17 || got.Row1 != 24 {
		t.Errorf("rows [%d, %d), expected [17, 24)", got.Row0, got.Row1)
	}
	if len(got.Positions) != len(f.Positions) || len(got.Normals) != len(f.Normals) {
		t.Fatalf("payload sizes %d/%d, expected %d/%d", len(got.Positions), len(got.Normals), len(f.Positions), len(f.Normals))
	}
	for k := range f.Positions {
		if got.Positions[k] != f.Positions[k] || got.Normals[k] != f.Normals[k] {
			t.Fatalf("value %d differs", k)
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	fx := newFixture(t)
	b, err := Encode(NewFrame(fx.mesh, 0, 2, true, Meta{}))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	nl := strings.IndexByte(string(b), '\n')
	for name, bad := range map[string][]byte{
		"no header": []byte("garbage"),
		"bad json":  append([]byte("{\n"), b[nl+1:]...),
		"version":   append([]byte(`{"version":99}`+"\n"), b[nl+1:]...),
		"rows":      append([]byte(`{"version":1,"width":30,"height":40,"row0":5,"row1":2}`+"\n"), b[nl+1:]...),
		"payload":   append(append([]byte(nil), b[:nl+1]...), 1, 2, 3),
		"size":      append([]byte(`{"version":1,"width":30,"height":40,"row0":0,"row1":3}`+"\n"), b[nl+1:]...),
	} {
		if _, err := Decode(bad); !errors.Is(err, ErrBadFrame) {
			t.Errorf("%s: expected ErrBadFrame, got %v", name, err)
		}
	}

	if _, err := Encode(Frame{Positions: make([]float32, 3)}); !errors.Is(err, ErrBadFrame) {
		t.Errorf("expected ErrBadFrame for mismatched payload, got %v", err)
	}
}

func TestServer(t *testing.T) {
	fx := newFixture(t)
	s := NewServer(nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for s.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	read := func() Frame {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		kind, b, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if kind != websocket.BinaryMessage {
			t.Errorf("message type %d, expected binary", kind)
		}
		f, err := Decode(b)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		return f
	}

	// the first frame is always the whole surface
	fx.cut(10)
	s.Publish(fx.mesh, Meta{Run: "run", State: "running"})
	first := read()
	if !first.Full || first.Row0 != 0 || first.Row1 != 40 || len(first.Positions) != 3*30*40 {
		t.Errorf("first frame %+v is not a full surface", first.Header)
	}
	if z := first.Positions[3*(10*30+12)+2]; z != 4 {
		t.Errorf("full frame z at the slot is %v, expected 4", z)
	}

	fx.cut(30)
	s.Publish(fx.mesh, Meta{Run: "run", State: "completed", Progress: 1})
	second := read()
	if second.Full || second.Row0 != 27 || second.Row1 != 34 {
		t.Errorf("second frame %+v should carry only rows [27, 34)", second.Header)
	}
	if second.Seq <= first.Seq {
		t.Errorf("sequence went from %d to %d", first.Seq, second.Seq)
	}
	if z := second.Positions[3*((30-27)*30+12)+2]; z != 4 {
		t.Errorf("partial frame z at the slot is %v, expected 4", z)
	}

	conn.Close()
	for s.Clients() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client never unregistered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSlowClient(t *testing.T) {
	fx := newFixture(t)
	s := NewServer(nil)
	c := &client{id: 1, out: make(chan []byte, clientBuffer), needFull: true}
	s.clients[c] = struct{}{}

	for n := 0; n < clientBuffer+3; n++ {
		fx.cut(float64(5 + n))
		s.Publish(fx.mesh, Meta{})
	}
	if !c.needFull {
		t.Errorf("a client that dropped frames should be sent a full one next")
	}

	for n := 0; n < clientBuffer; n++ {
		<-c.out
	}
	fx.cut(35)
	s.Publish(fx.mesh, Meta{})
	f, err := Decode(<-c.out)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !f.Full {
		t.Errorf("frame after a drop should be full")
	}
}

func TestLoopback(t *testing.T) {
	for addr, want := range map[string]bool{
		"127.0.0.1:5000":  true,
		"[::1]:80":        true,
		"10.0.0.4:5000":   false,
		"example.com:80":  false,
		"192.168.1.1":     false,
		"127.0.0.53":      true,
		"[2001:db8::1]:1": false,
	} {
		if got := isLoopbackRemote(addr); got != want {
			t.Errorf("%s: loopback %v, expected %v", addr, got, want)
		}
	}
}

func TestRefresh(t *testing.T) {
	fx := newFixture(t)
	s := NewServer(nil)
	settled := &client{id: 1, out: make(chan []byte, clientBuffer)}
	joined := &client{id: 2, out: make(chan []byte, clientBuffer), needFull: true}
	s.clients[settled] = struct{}{}
	s.clients[joined] = struct{}{}

	// the run has finished: the last extraction left rows marked updated
	fx.cut(12)
	if s.PendingFull() != 1 {
		t.Fatalf("pending full %d, expected 1", s.PendingFull())
	}

	s.Refresh(fx.mesh, Meta{State: "completed", Progress: 1})
	if s.PendingFull() != 0 {
		t.Errorf("pending full %d after refresh, expected 0", s.PendingFull())
	}
	if len(settled.out) != 0 {
		t.Errorf("refresh resent rows to a client that has the surface")
	}
	f, err := Decode(<-joined.out)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !f.Full || f.Row0 != 0 || f.Row1 != 40 || f.State != "completed" {
		t.Errorf("refresh frame %+v should be the whole finished surface", f.Header)
	}

	s.Refresh(fx.mesh, Meta{})
	if len(settled.out) != 0 || len(joined.out) != 0 {
		t.Errorf("refresh with nobody waiting sent frames")
	}
}
