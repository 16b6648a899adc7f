package transport

import (
	"errors"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/lanrelay/internal/protocol/frame"
	"github.com/danmuck/lanrelay/internal/protocol/reassembly"
)

// ClientEvents receives outbound-connection callbacks. Callbacks fire on I/O
// goroutines and must only enqueue.
type ClientEvents struct {
	Envelope     func(frame.Envelope)
	Connected    func(remote string)
	Disconnected func(remote string)
}

func (e ClientEvents) envelope(env frame.Envelope) {
	if e.Envelope != nil {
		e.Envelope(env)
	}
}

func (e ClientEvents) connected(remote string) {
	if e.Connected != nil {
		e.Connected(remote)
	}
}

func (e ClientEvents) disconnected(remote string) {
	if e.Disconnected != nil {
		e.Disconnected(remote)
	}
}

// Client owns the single outbound session connection. Open is asynchronous:
// it returns immediately and success surfaces later through the Connected
// event. There is no automatic reconnect; a lost connection stays lost until
// the owner opens a new one.
type Client struct {
	cfg    Config
	events ClientEvents

	mu     sync.Mutex
	link   *link
	closed bool
}

func NewClient(cfg Config, events ClientEvents) *Client {
	return &Client{
		cfg:    cfg.WithDefaults(),
		events: events,
	}
}

// Open begins an asynchronous connect to address:port. The return only means
// the attempt started; dial failure is logged and the client simply never
// reports Connected.
func (c *Client) Open(address string, port int) {
	addr := net.JoinHostPort(address, strconv.Itoa(port))
	go c.connect(addr)
}

func (c *Client) connect(addr string) {
	c.mu.Lock()
	if c.closed || c.link != nil {
		c.mu.Unlock()
		log.Warn().Msgf("transport.client connect skipped addr=%q: already open", addr)
		return
	}
	c.mu.Unlock()

	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		log.Warn().Msgf("transport.client dial addr=%q err=%v", addr, err)
		return
	}

	l := newLink(conn, c.cfg)
	c.mu.Lock()
	if c.closed || c.link != nil {
		c.mu.Unlock()
		l.Close()
		return
	}
	c.link = l
	c.mu.Unlock()

	log.Info().Msgf("transport.client connected remote=%q", l.remote)
	go l.writeLoop()
	go c.receiveLoop(l)
	c.events.connected(l.remote)
}

// IsOpen reports whether the session connection is live.
func (c *Client) IsOpen() bool {
	c.mu.Lock()
	l := c.link
	c.mu.Unlock()
	return l != nil && l.IsOpen()
}

// Send queues one pre-framed buffer for asynchronous write. False when the
// connection is not open.
func (c *Client) Send(raw []byte) bool {
	c.mu.Lock()
	l := c.link
	c.mu.Unlock()
	if l == nil {
		return false
	}
	return l.Send(raw)
}

// Close tears down the connection and retires the client. Further Opens are
// rejected; role switches build a fresh Client.
func (c *Client) Close() {
	c.mu.Lock()
	l := c.link
	c.link = nil
	c.closed = true
	c.mu.Unlock()
	if l != nil {
		l.Close()
	}
}

func (c *Client) receiveLoop(l *link) {
	defer c.dropLink(l)
	r := reassembly.New(c.cfg.Limits, c.events.envelope)
	buf := make([]byte, c.cfg.ReadBufferBytes)
	for {
		n, err := l.conn.Read(buf)
		if n > 0 {
			if ferr := r.Feed(l.remote, buf[:n]); ferr != nil {
				log.Warn().Msgf("transport.client malformed stream remote=%q err=%v", l.remote, ferr)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Warn().Msgf("transport.client read remote=%q err=%v", l.remote, err)
			}
			return
		}
	}
}

// dropLink runs exactly once per connection, from its receive loop. A link
// already retired by Close tears down silently.
func (c *Client) dropLink(l *link) {
	l.Close()
	c.mu.Lock()
	current := c.link == l
	if current {
		c.link = nil
	}
	closed := c.closed
	c.mu.Unlock()
	if !current || closed {
		return
	}
	log.Info().Msgf("transport.client disconnected remote=%q", l.remote)
	c.events.disconnected(l.remote)
}
