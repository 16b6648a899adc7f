package transport

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// link is one live stream socket. All writes funnel through sendQ and are
// performed by a single write loop; Close is idempotent and releases the
// socket exactly once.
type link struct {
	conn   net.Conn
	remote string
	cfg    Config

	sendQ chan []byte
	done  chan struct{}

	open      atomic.Bool
	closeOnce sync.Once
}

func newLink(conn net.Conn, cfg Config) *link {
	l := &link{
		conn:   conn,
		remote: conn.RemoteAddr().String(),
		cfg:    cfg,
		sendQ:  make(chan []byte, cfg.SendQueueLen),
		done:   make(chan struct{}),
	}
	l.open.Store(true)
	return l
}

func (l *link) IsOpen() bool {
	return l.open.Load()
}

// Send queues one pre-framed buffer for asynchronous write. It returns false
// when the link is closed or the queue is full; it never blocks the caller.
func (l *link) Send(raw []byte) bool {
	if !l.open.Load() {
		return false
	}
	select {
	case l.sendQ <- raw:
		return true
	default:
		log.Warn().Msgf("transport.link send queue full remote=%q dropped_bytes=%d", l.remote, len(raw))
		return false
	}
}

// writeLoop drains sendQ until the link closes. A write error closes the
// link; the receive loop observes the closed socket and runs teardown.
func (l *link) writeLoop() {
	for {
		select {
		case raw := <-l.sendQ:
			_ = l.conn.SetWriteDeadline(time.Now().Add(l.cfg.WriteTimeout))
			if _, err := l.conn.Write(raw); err != nil {
				log.Warn().Msgf("transport.link write remote=%q err=%v", l.remote, err)
				l.Close()
				return
			}
		case <-l.done:
			return
		}
	}
}

func (l *link) Close() {
	l.closeOnce.Do(func() {
		l.open.Store(false)
		close(l.done)
		_ = l.conn.Close()
	})
}
