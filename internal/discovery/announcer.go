package discovery

import (
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// AnnouncerConfig drives the periodic host announcement.
type AnnouncerConfig struct {
	// Port is the discovery UDP port announcements are sent to.
	Port int
	// InitialDelay precedes the first announcement.
	InitialDelay time.Duration
	// Interval separates announcements after the first.
	Interval time.Duration
	// Message is the shared secret text listeners filter on.
	Message string
	// Name is the host's display name carried in the announcement.
	Name string
	// SessionPort is the advertised TCP session port.
	SessionPort int
	// OnAnnounce, when set, is called after each cycle with the number of
	// datagrams sent. It runs on the announce goroutine and must only record.
	OnAnnounce func(sent int)
}

// WithDefaults fills zero fields.
func (c AnnouncerConfig) WithDefaults() AnnouncerConfig {
	if c.Port <= 0 {
		c.Port = DefaultPort
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 1 * time.Second
	}
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	return c
}

// target is one broadcast-capable local address and its subnet broadcast
// address.
type target struct {
	local net.IP
	bcast net.IP
}

// Announcer broadcasts this host's session announcement on every
// broadcast-capable interface at a fixed interval. Sockets are opened per
// local address and reopened on the next cycle after a send failure.
type Announcer struct {
	cfg AnnouncerConfig

	// targets is swappable so loopback tests can announce without a
	// broadcast-capable interface.
	targets func() []target

	mu    sync.Mutex
	socks map[string]*net.UDPConn

	done     chan struct{}
	stopOnce sync.Once
}

func NewAnnouncer(cfg AnnouncerConfig) *Announcer {
	return &Announcer{
		cfg:     cfg.WithDefaults(),
		targets: broadcastTargets,
		socks:   make(map[string]*net.UDPConn),
		done:    make(chan struct{}),
	}
}

// Start launches the announce loop: one initial delay, then one
// announcement per interval until Stop.
func (a *Announcer) Start() {
	go a.run()
}

func (a *Announcer) Stop() {
	a.stopOnce.Do(func() {
		close(a.done)
		a.mu.Lock()
		defer a.mu.Unlock()
		for key, conn := range a.socks {
			_ = conn.Close()
			delete(a.socks, key)
		}
	})
}

func (a *Announcer) run() {
	delay := time.NewTimer(a.cfg.InitialDelay)
	defer delay.Stop()
	select {
	case <-a.done:
		return
	case <-delay.C:
	}
	a.announce()

	tick := time.NewTicker(a.cfg.Interval)
	defer tick.Stop()
	for {
		select {
		case <-a.done:
			return
		case <-tick.C:
			a.announce()
		}
	}
}

// announce sends one announcement per broadcast-capable address. Failures
// are logged and the affected socket is dropped so the next cycle reopens
// it; one address failing never blocks the others.
func (a *Announcer) announce() {
	sent := 0
	for _, tgt := range a.targets() {
		conn := a.socketFor(tgt.local)
		if conn == nil {
			continue
		}
		raw, err := EncodeAnnouncement(Announcement{
			Message: a.cfg.Message,
			IP:      tgt.local.String(),
			Name:    a.cfg.Name,
			Port:    a.cfg.SessionPort,
		})
		if err != nil {
			log.Warn().Msgf("discovery.announcer encode local=%q err=%v", tgt.local.String(), err)
			continue
		}
		dst := &net.UDPAddr{IP: tgt.bcast, Port: a.cfg.Port}
		_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if _, err := conn.WriteToUDP(raw, dst); err != nil {
			log.Warn().Msgf("discovery.announcer send dst=%q err=%v", dst.String(), err)
			a.dropSocket(tgt.local)
			continue
		}
		sent++
	}
	if a.cfg.OnAnnounce != nil {
		a.cfg.OnAnnounce(sent)
	}
}

// socketFor returns the datagram socket bound to local, opening it when
// absent. Reopen failure skips this cycle for the address.
func (a *Announcer) socketFor(local net.IP) *net.UDPConn {
	key := local.String()
	a.mu.Lock()
	defer a.mu.Unlock()
	if conn, ok := a.socks[key]; ok {
		return conn
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: local, Port: 0})
	if err != nil {
		log.Warn().Msgf("discovery.announcer open local=%q err=%v", key, err)
		return nil
	}
	a.socks[key] = conn
	return conn
}

func (a *Announcer) dropSocket(local net.IP) {
	key := local.String()
	a.mu.Lock()
	defer a.mu.Unlock()
	if conn, ok := a.socks[key]; ok {
		_ = conn.Close()
		delete(a.socks, key)
	}
}

// broadcastTargets enumerates IPv4 addresses on up, broadcast-capable
// interfaces together with their subnet broadcast addresses.
func broadcastTargets() []target {
	ifaces, err := net.Interfaces()
	if err != nil {
		log.Warn().Msgf("discovery.announcer interfaces err=%v", err)
		return nil
	}
	var out []target
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagBroadcast == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipnet.IP.To4()
			if ip4 == nil {
				continue
			}
			mask := ipnet.Mask
			if len(mask) == net.IPv6len {
				mask = mask[12:]
			}
			bcast := make(net.IP, net.IPv4len)
			for i := 0; i < net.IPv4len; i++ {
				bcast[i] = ip4[i] | ^mask[i]
			}
			out = append(out, target{local: ip4, bcast: bcast})
		}
	}
	return out
}
