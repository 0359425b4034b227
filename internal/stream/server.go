package stream

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/feedop/Fraessimulator/internal/logging"
	"github.com/feedop/Fraessimulator/internal/surface"
)

// clientBuffer is how many frames may queue for a client before new ones
// are dropped.
const clientBuffer = 8

type client struct {
	id  uint64
	out chan []byte
	// needFull is set until the client has been sent a whole surface, and
	// again after it drops a frame.
	needFull bool
}

// Server fans encoded frames out to websocket clients. Publish is called
// from the simulation loop and never blocks on the network.
type Server struct {
	log *slog.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	seq      uint64

	mu      sync.Mutex
	clients map[*client]struct{}
}

func NewServer(logger *slog.Logger) *Server {
	return &Server{
		log: logging.OrNop(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback only, see Handler
		},
		clients: map[*client]struct{}{},
	}
}

// Clients is the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// PendingFull is the number of clients still waiting for a whole surface.
func (s *Server) PendingFull() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for c := range s.clients {
		if c.needFull {
			n++
		}
	}
	return n
}

// Publish sends the rows of m rewritten by the last extraction to every
// client, or the whole surface to clients that need one.
func (s *Server) Publish(m *surface.Mesh, meta Meta) {
	s.publish(m, meta, true)
}

// Refresh sends the whole surface to clients that need one and nothing to
// the rest. Hosts call it when the surface did not change.
func (s *Server) Refresh(m *surface.Mesh, meta Meta) {
	s.publish(m, meta, false)
}

func (s *Server) publish(m *surface.Mesh, meta Meta, partials bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.clients) == 0 || m == nil {
		return
	}

	var partial, full []byte
	encode := func(j0, j1 int, isFull bool) []byte {
		s.seq++
		f := NewFrame(m, j0, j1, isFull, meta)
		f.Seq = s.seq
		b, err := Encode(f)
		if err != nil {
			s.log.Error("encode frame", "err", err)
			return nil
		}
		return b
	}

	updated := m.Updated()
	for c := range s.clients {
		var b []byte
		if c.needFull {
			if full == nil {
				full = encode(0, m.Height, true)
			}
			b = full
		} else {
			if !partials || updated.Empty() {
				continue
			}
			if partial == nil {
				partial = encode(updated.Min.Y, updated.Max.Y, false)
			}
			b = partial
		}
		if b == nil {
			continue
		}

		select {
		case c.out <- b:
			c.needFull = false
		default:
			c.needFull = true
			s.log.Debug("client too slow, frame dropped", "client", c.id)
		}
	}
}

// Handler upgrades loopback requests to a frame stream.
func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		c := &client{id: s.nextID.Add(1), out: make(chan []byte, clientBuffer), needFull: true}
		s.mu.Lock()
		s.clients[c] = struct{}{}
		s.mu.Unlock()
		s.log.Info("stream client connected", "client", c.id, "remote", r.RemoteAddr)

		defer func() {
			s.mu.Lock()
			delete(s.clients, c)
			s.mu.Unlock()
			s.log.Info("stream client left", "client", c.id)
		}()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-c.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
						writeErr <- err
						conn.Close()
						return
					}
				}
			}
		}()

		// Clients send nothing; reading only notices when they go away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
