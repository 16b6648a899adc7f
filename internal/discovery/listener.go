package discovery

import (
	"errors"
	"net"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/lanrelay/internal/protocol/frame"
)

// ListenerConfig drives client-side announcement collection.
type ListenerConfig struct {
	// Port is the discovery UDP port to bind. Zero binds an ephemeral port,
	// which only tests want; operators configure the well-known port.
	Port int
	// Message is the shared secret text; announcements carrying any other
	// text are ignored.
	Message string
}

// Listener collects matching announcements into a Directory. Entries are
// appended on first sighting only; the optional onAdd callback fires for
// each new entry, never for duplicates. The callback runs on the receive
// goroutine and must only enqueue.
type Listener struct {
	cfg   ListenerConfig
	dir   *Directory
	onAdd func(Entry)

	mu        sync.Mutex
	conn      *net.UDPConn
	closeOnce sync.Once
}

func NewListener(cfg ListenerConfig, dir *Directory, onAdd func(Entry)) *Listener {
	return &Listener{
		cfg:   cfg,
		dir:   dir,
		onAdd: onAdd,
	}
}

// Start binds the discovery port and begins collecting. A bind failure is
// logged and reported as false.
func (l *Listener) Start() bool {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: l.cfg.Port})
	if err != nil {
		log.Warn().Msgf("discovery.listener bind port=%d err=%v", l.cfg.Port, err)
		return false
	}
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	log.Info().Msgf("discovery.listener collecting addr=%q", conn.LocalAddr().String())
	go l.receiveLoop(conn)
	return true
}

// Addr reports the bound address, nil before Start.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

func (l *Listener) Close() {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.conn != nil {
			_ = l.conn.Close()
		}
	})
}

// receiveLoop re-arms indefinitely; only socket close ends it.
func (l *Listener) receiveLoop(conn *net.UDPConn) {
	buf := make([]byte, 64*1024)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Warn().Msgf("discovery.listener read err=%v", err)
			continue
		}
		l.handleDatagram(src.String(), buf[:n])
	}
}

// handleDatagram decodes one announcement datagram. Undecodable datagrams
// and announcements with the wrong secret are dropped quietly; discovery
// shares its port with nothing, but stray traffic happens.
func (l *Listener) handleDatagram(src string, raw []byte) {
	env, err := frame.Decode(src, raw)
	if err != nil {
		log.Debug().Msgf("discovery.listener malformed datagram src=%q err=%v", src, err)
		return
	}
	ann, err := DecodeAnnouncement(env)
	if err != nil {
		log.Debug().Msgf("discovery.listener drop datagram src=%q err=%v", src, err)
		return
	}
	if ann.Message != l.cfg.Message {
		log.Debug().Msgf("discovery.listener secret mismatch src=%q", src)
		return
	}
	entry := Entry{Name: ann.Name, Address: ann.IP, Port: ann.Port}
	if !l.dir.Add(ann.IP, entry) {
		return
	}
	log.Info().Msgf("discovery.listener host discovered name=%q addr=%q port=%d", entry.Name, entry.Address, entry.Port)
	if l.onAdd != nil {
		l.onAdd(entry)
	}
}
