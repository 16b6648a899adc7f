package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/lanrelay/internal/protocol/frame"
	"github.com/danmuck/lanrelay/internal/protocol/reassembly"
)

// Peer identifies one accepted connection: a handle assigned at accept time
// and the remote address behind it.
type Peer struct {
	Handle string
	Remote string
}

// ServerEvents receives listener callbacks. Callbacks fire on I/O goroutines
// and must only enqueue; they never run application logic.
type ServerEvents struct {
	Envelope     func(frame.Envelope)
	Accepted     func(Peer)
	Disconnected func(Peer)
}

func (e ServerEvents) envelope(env frame.Envelope) {
	if e.Envelope != nil {
		e.Envelope(env)
	}
}

func (e ServerEvents) accepted(p Peer) {
	if e.Accepted != nil {
		e.Accepted(p)
	}
}

func (e ServerEvents) disconnected(p Peer) {
	if e.Disconnected != nil {
		e.Disconnected(p)
	}
}

// Server owns the session listener and the live connection set. A Server is
// single-use: Start once, Stop once; role switches build a fresh Server.
type Server struct {
	cfg    Config
	events ServerEvents

	mu      sync.Mutex
	ln      net.Listener
	stopped bool

	connsMu sync.Mutex
	conns   map[string]*link
}

func NewServer(cfg Config, events ServerEvents) *Server {
	return &Server{
		cfg:    cfg.WithDefaults(),
		events: events,
		conns:  make(map[string]*link),
	}
}

// Start binds the session port and begins accepting. A bind failure is
// logged and reported as false; the caller owns retry policy.
func (s *Server) Start(port int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil || s.stopped {
		log.Warn().Msgf("transport.server start rejected: already started")
		return false
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		log.Warn().Msgf("transport.server listen port=%d err=%v", port, err)
		return false
	}
	s.ln = ln
	log.Info().Msgf("transport.server listening addr=%q", ln.Addr().String())
	go s.acceptLoop(ln)
	return true
}

// Addr reports the bound listener address, nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// acceptLoop re-arms the accept continuously. Transient accept failures are
// logged and throttled; only listener close ends the loop.
func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Warn().Msgf("transport.server accept err=%v", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		handle := uuid.NewString()
		l := newLink(conn, s.cfg)
		active := s.trackConn(handle, l)
		log.Info().Msgf("transport.server client connected handle=%q remote=%q active=%d", handle, l.remote, active)
		go l.writeLoop()
		go s.receiveLoop(handle, l)
		s.events.accepted(Peer{Handle: handle, Remote: l.remote})
	}
}

// receiveLoop re-arms reads for one connection until error or EOF, feeding
// each chunk through that connection's reassembler. Malformed wire data is
// logged and the connection stays open; only socket failure tears it down.
func (s *Server) receiveLoop(handle string, l *link) {
	defer s.dropConn(handle, l)
	r := reassembly.New(s.cfg.Limits, s.events.envelope)
	buf := make([]byte, s.cfg.ReadBufferBytes)
	for {
		n, err := l.conn.Read(buf)
		if n > 0 {
			if ferr := r.Feed(l.remote, buf[:n]); ferr != nil {
				log.Warn().Msgf("transport.server malformed stream handle=%q err=%v", handle, ferr)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Warn().Msgf("transport.server read handle=%q remote=%q err=%v", handle, l.remote, err)
			}
			return
		}
	}
}

// SendToAll queues one pre-framed buffer on every open connection and
// reports how many accepted it. Callers serialize the envelope exactly once;
// a failure on one connection never aborts the others.
func (s *Server) SendToAll(raw []byte) int {
	delivered := 0
	for handle, l := range s.snapshotConns() {
		if !l.Send(raw) {
			log.Warn().Msgf("transport.server fan-out skipped handle=%q remote=%q", handle, l.remote)
			continue
		}
		delivered++
	}
	return delivered
}

// SendToOne queues one pre-framed buffer on the connection behind handle.
func (s *Server) SendToOne(raw []byte, handle string) bool {
	s.connsMu.Lock()
	l := s.conns[handle]
	s.connsMu.Unlock()
	if l == nil {
		log.Warn().Msgf("transport.server send to unknown handle=%q", handle)
		return false
	}
	return l.Send(raw)
}

// ActiveConns reports the live connection count.
func (s *Server) ActiveConns() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}

// Stop closes the listener and every tracked connection. Safe to call more
// than once; per-connection disconnect events are suppressed during teardown.
func (s *Server) Stop() {
	s.mu.Lock()
	ln := s.ln
	s.ln = nil
	s.stopped = true
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	s.closeAllConns()
}

func (s *Server) trackConn(handle string, l *link) int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[handle] = l
	return len(s.conns)
}

// dropConn runs exactly once per connection, from its receive loop. A
// connection already removed by Stop tears down silently.
func (s *Server) dropConn(handle string, l *link) {
	l.Close()
	s.connsMu.Lock()
	_, present := s.conns[handle]
	delete(s.conns, handle)
	remaining := len(s.conns)
	s.connsMu.Unlock()
	if !present {
		return
	}
	log.Info().Msgf("transport.server client disconnected handle=%q remote=%q active=%d", handle, l.remote, remaining)
	s.events.disconnected(Peer{Handle: handle, Remote: l.remote})
}

func (s *Server) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for handle, l := range s.conns {
		l.Close()
		delete(s.conns, handle)
	}
}

func (s *Server) snapshotConns() map[string]*link {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	out := make(map[string]*link, len(s.conns))
	for handle, l := range s.conns {
		out[handle] = l
	}
	return out
}
