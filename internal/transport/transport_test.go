package transport

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/lanrelay/internal/protocol/frame"
	"github.com/danmuck/lanrelay/internal/testutil/testlog"
)

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func readExact(t *testing.T, conn net.Conn, n int) []byte {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read %d bytes: %v", n, err)
	}
	return buf
}

type envCollector struct {
	mu   sync.Mutex
	envs []frame.Envelope
}

func (c *envCollector) add(env frame.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envs = append(c.envs, env)
}

func (c *envCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.envs)
}

func (c *envCollector) at(i int) frame.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.envs[i]
}

type peerCollector struct {
	mu    sync.Mutex
	peers []Peer
}

func (c *peerCollector) add(p Peer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peers = append(c.peers, p)
}

func (c *peerCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.peers)
}

func (c *peerCollector) handleFor(remote string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.peers {
		if p.Remote == remote {
			return p.Handle
		}
	}
	return ""
}

func dialServer(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	port := srv.Addr().(*net.TCPAddr).Port
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("dial server: %v", err)
	}
	return conn
}

func TestServerStartFailsOnBoundPort(t *testing.T) {
	testlog.Start(t)
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer taken.Close()

	srv := NewServer(Config{}, ServerEvents{})
	if srv.Start(taken.Addr().(*net.TCPAddr).Port) {
		t.Fatalf("start on bound port must report false")
	}
}

func TestServerReceiveAcrossChunks(t *testing.T) {
	testlog.Start(t)
	envs := &envCollector{}
	srv := NewServer(Config{}, ServerEvents{Envelope: envs.add})
	if !srv.Start(0) {
		t.Fatalf("start")
	}
	defer srv.Stop()

	conn := dialServer(t, srv)
	defer conn.Close()

	raw := frame.Encode(frame.Envelope{Type: 200, Payload: []byte("abc")})
	if _, err := conn.Write(raw[:3]); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := conn.Write(raw[3:]); err != nil {
		t.Fatalf("write: %v", err)
	}

	waitUntil(t, 2*time.Second, func() bool { return envs.count() == 1 }, "envelope")
	got := envs.at(0)
	if got.Type != 200 || string(got.Payload) != "abc" {
		t.Fatalf("unexpected envelope: %+v", got)
	}
	if got.Sender != conn.LocalAddr().String() {
		t.Fatalf("sender: got=%q want=%q", got.Sender, conn.LocalAddr().String())
	}
}

func TestServerFanOutToAll(t *testing.T) {
	testlog.Start(t)
	srv := NewServer(Config{}, ServerEvents{})
	if !srv.Start(0) {
		t.Fatalf("start")
	}
	defer srv.Stop()

	c1 := dialServer(t, srv)
	defer c1.Close()
	c2 := dialServer(t, srv)
	defer c2.Close()
	waitUntil(t, 2*time.Second, func() bool { return srv.ActiveConns() == 2 }, "two connections")

	raw := frame.Encode(frame.Envelope{Type: 7, Payload: []byte("fan-out")})
	if n := srv.SendToAll(raw); n != 2 {
		t.Fatalf("delivered to %d connections, want 2", n)
	}
	if got := readExact(t, c1, len(raw)); !bytes.Equal(got, raw) {
		t.Fatalf("conn 1 bytes mismatch")
	}
	if got := readExact(t, c2, len(raw)); !bytes.Equal(got, raw) {
		t.Fatalf("conn 2 bytes mismatch")
	}
}

func TestServerSendToOne(t *testing.T) {
	testlog.Start(t)
	peers := &peerCollector{}
	srv := NewServer(Config{}, ServerEvents{Accepted: peers.add})
	if !srv.Start(0) {
		t.Fatalf("start")
	}
	defer srv.Stop()

	c1 := dialServer(t, srv)
	defer c1.Close()
	c2 := dialServer(t, srv)
	defer c2.Close()
	waitUntil(t, 2*time.Second, func() bool { return peers.count() == 2 }, "accept events")

	h1 := peers.handleFor(c1.LocalAddr().String())
	if h1 == "" {
		t.Fatalf("no handle for conn 1")
	}

	raw := frame.Encode(frame.Envelope{Type: 9, Payload: []byte("targeted")})
	if !srv.SendToOne(raw, h1) {
		t.Fatalf("send to one")
	}
	if got := readExact(t, c1, len(raw)); !bytes.Equal(got, raw) {
		t.Fatalf("conn 1 bytes mismatch")
	}

	_ = c2.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, err := c2.Read(make([]byte, 1)); err == nil {
		t.Fatalf("conn 2 must not receive a targeted send")
	}

	if srv.SendToOne(raw, "no-such-handle") {
		t.Fatalf("send to unknown handle must report false")
	}
}

// Fan-out must keep delivering when one connection's send always fails.
func TestFanOutIsolatesFailingConn(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	srv := NewServer(cfg, ServerEvents{})

	newPipeLink := func() (*link, net.Conn) {
		local, remote := net.Pipe()
		return newLink(local, cfg), remote
	}
	l1, r1 := newPipeLink()
	l2, _ := newPipeLink()
	l3, r3 := newPipeLink()
	go l1.writeLoop()
	go l3.writeLoop()
	srv.conns["h1"] = l1
	srv.conns["h2"] = l2
	srv.conns["h3"] = l3

	// Connection 2 is dead: every send on it fails.
	l2.Close()

	raw := frame.Encode(frame.Envelope{Type: 5, Payload: []byte("still-delivered")})
	got1 := make(chan []byte, 1)
	got3 := make(chan []byte, 1)
	for _, rd := range []struct {
		conn net.Conn
		out  chan []byte
	}{{r1, got1}, {r3, got3}} {
		go func(conn net.Conn, out chan []byte) {
			buf := make([]byte, len(raw))
			if _, err := io.ReadFull(conn, buf); err == nil {
				out <- buf
			}
		}(rd.conn, rd.out)
	}

	if n := srv.SendToAll(raw); n != 2 {
		t.Fatalf("delivered=%d want=2", n)
	}
	for i, ch := range []chan []byte{got1, got3} {
		select {
		case got := <-ch:
			if !bytes.Equal(got, raw) {
				t.Fatalf("reader %d bytes mismatch", i)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("reader %d timed out", i)
		}
	}
}

func TestServerDisconnectEventOnPeerClose(t *testing.T) {
	testlog.Start(t)
	var disconnects atomic.Int32
	srv := NewServer(Config{}, ServerEvents{
		Disconnected: func(Peer) { disconnects.Add(1) },
	})
	if !srv.Start(0) {
		t.Fatalf("start")
	}
	defer srv.Stop()

	conn := dialServer(t, srv)
	waitUntil(t, 2*time.Second, func() bool { return srv.ActiveConns() == 1 }, "connection tracked")
	_ = conn.Close()
	waitUntil(t, 2*time.Second, func() bool { return disconnects.Load() == 1 }, "disconnect event")
	waitUntil(t, 2*time.Second, func() bool { return srv.ActiveConns() == 0 }, "connection dropped")
	time.Sleep(50 * time.Millisecond)
	if disconnects.Load() != 1 {
		t.Fatalf("disconnect fired %d times", disconnects.Load())
	}
}

func TestServerStopSuppressesDisconnectEvents(t *testing.T) {
	testlog.Start(t)
	var disconnects atomic.Int32
	srv := NewServer(Config{}, ServerEvents{
		Disconnected: func(Peer) { disconnects.Add(1) },
	})
	if !srv.Start(0) {
		t.Fatalf("start")
	}
	conn := dialServer(t, srv)
	defer conn.Close()
	waitUntil(t, 2*time.Second, func() bool { return srv.ActiveConns() == 1 }, "connection tracked")

	srv.Stop()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Fatalf("peer must observe close after Stop")
	}
	time.Sleep(50 * time.Millisecond)
	if disconnects.Load() != 0 {
		t.Fatalf("teardown fired %d disconnect events", disconnects.Load())
	}
}

func TestClientOpenSendReceive(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	envs := &envCollector{}
	var connected, disconnected atomic.Int32
	cli := NewClient(Config{}, ClientEvents{
		Envelope:     envs.add,
		Connected:    func(string) { connected.Add(1) },
		Disconnected: func(string) { disconnected.Add(1) },
	})
	defer cli.Close()

	if cli.Send(frame.Encode(frame.Envelope{Type: 1})) {
		t.Fatalf("send before open must report false")
	}

	cli.Open("127.0.0.1", ln.Addr().(*net.TCPAddr).Port)
	serverSide, err := ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	defer serverSide.Close()
	waitUntil(t, 2*time.Second, func() bool { return connected.Load() == 1 && cli.IsOpen() }, "connected event")

	out := frame.Encode(frame.Envelope{Type: 42, Payload: []byte("to-server")})
	if !cli.Send(out) {
		t.Fatalf("send after open")
	}
	if got := readExact(t, serverSide, len(out)); !bytes.Equal(got, out) {
		t.Fatalf("server side bytes mismatch")
	}

	in := frame.Envelope{Type: 201, Payload: []byte(`{"op":"sync"}`)}
	if _, err := serverSide.Write(frame.Encode(in)); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitUntil(t, 2*time.Second, func() bool { return envs.count() == 1 }, "inbound envelope")
	got := envs.at(0)
	if got.Type != in.Type || !bytes.Equal(got.Payload, in.Payload) {
		t.Fatalf("unexpected envelope: %+v", got)
	}
	if got.Sender != serverSide.LocalAddr().String() {
		t.Fatalf("sender: got=%q want=%q", got.Sender, serverSide.LocalAddr().String())
	}

	_ = serverSide.Close()
	waitUntil(t, 2*time.Second, func() bool { return disconnected.Load() == 1 }, "disconnected event")
	if cli.IsOpen() {
		t.Fatalf("client still open after peer close")
	}
	if cli.Send(out) {
		t.Fatalf("send after disconnect must report false")
	}
}

func TestClientDialFailureStaysClosed(t *testing.T) {
	testlog.Start(t)
	// Reserve a port, then close it so the dial target refuses.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	var connected atomic.Int32
	cli := NewClient(Config{ConnectTimeout: 500 * time.Millisecond}, ClientEvents{
		Connected: func(string) { connected.Add(1) },
	})
	defer cli.Close()
	cli.Open("127.0.0.1", port)
	time.Sleep(200 * time.Millisecond)
	if connected.Load() != 0 || cli.IsOpen() {
		t.Fatalf("dial to refused port must not connect")
	}
}

func TestLinkSendQueueDropsWhenFull(t *testing.T) {
	testlog.Start(t)
	local, remote := net.Pipe()
	defer remote.Close()
	// No write loop: the queue fills at capacity.
	l := newLink(local, Config{SendQueueLen: 1}.WithDefaults())
	if !l.Send([]byte{1}) {
		t.Fatalf("first send must queue")
	}
	if l.Send([]byte{2}) {
		t.Fatalf("send beyond queue capacity must drop")
	}
	l.Close()
	if l.Send([]byte{3}) {
		t.Fatalf("send after close must report false")
	}
	if l.IsOpen() {
		t.Fatalf("link still open after close")
	}
}
