package relay

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/lanrelay/internal/discovery"
	"github.com/danmuck/lanrelay/internal/observability"
	"github.com/danmuck/lanrelay/internal/protocol/frame"
	"github.com/danmuck/lanrelay/internal/transport"
	"github.com/rs/zerolog/log"
)

// Role names the relay's active personality. Roles are mutually exclusive;
// starting one tears the other down.
type Role string

const (
	RoleIdle   Role = "idle"
	RoleServer Role = "server"
	RoleClient Role = "client"
)

// ServiceConfig configures relay runtime defaults.
type ServiceConfig struct {
	// DiscoveryPort carries UDP announcements in both roles.
	DiscoveryPort int
	// SecretMessage gates which announcements this relay trusts. Servers
	// may override it per StartAsServer call.
	SecretMessage string
	// HostName is advertised in announcements.
	HostName string
	// TickEvery paces the queue drain loop.
	TickEvery time.Duration
	// HeartbeatEvery paces the status log line.
	HeartbeatEvery   time.Duration
	AnnounceDelay    time.Duration
	AnnounceInterval time.Duration
	Transport        transport.Config
}

// Relay service defaults for LAN session runtime.
func DefaultServiceConfig() ServiceConfig {
	name, err := os.Hostname()
	if err != nil || strings.TrimSpace(name) == "" {
		name = "lanrelay-host"
	}
	return ServiceConfig{
		DiscoveryPort:    discovery.DefaultPort,
		SecretMessage:    "lanrelay-session",
		HostName:         name,
		TickEvery:        15 * time.Millisecond,
		HeartbeatEvery:   5 * time.Second,
		AnnounceDelay:    time.Second,
		AnnounceInterval: 2 * time.Second,
		Transport:        transport.DefaultConfig(),
	}
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	def := DefaultServiceConfig()
	if c.DiscoveryPort <= 0 {
		c.DiscoveryPort = def.DiscoveryPort
	}
	if strings.TrimSpace(c.SecretMessage) == "" {
		c.SecretMessage = def.SecretMessage
	}
	if strings.TrimSpace(c.HostName) == "" {
		c.HostName = def.HostName
	}
	if c.TickEvery <= 0 {
		c.TickEvery = def.TickEvery
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = def.HeartbeatEvery
	}
	if c.AnnounceDelay <= 0 {
		c.AnnounceDelay = def.AnnounceDelay
	}
	if c.AnnounceInterval <= 0 {
		c.AnnounceInterval = def.AnnounceInterval
	}
	c.Transport = c.Transport.WithDefaults()
	return c
}

// Status reports a point-in-time relay snapshot for the admin surface.
type Status struct {
	Role           Role `json:"role"`
	Serving        bool `json:"serving"`
	SessionPort    int  `json:"session_port"`
	Connected      bool `json:"connected"`
	Paused         bool `json:"paused"`
	ActiveClients  int  `json:"active_clients"`
	QueuedInbound  int  `json:"queued_inbound"`
	PendingAccepts int  `json:"pending_accepts"`
	DirectoryHosts int  `json:"directory_hosts"`
	Handlers       int  `json:"handlers"`
}

// Service orchestrates the relay lifecycle: role switching, queue draining,
// handler dispatch, and lifecycle notifications.
type Service struct {
	cfg      ServiceConfig
	registry *Registry
	notifier *Notifier

	// mu guards role and the per-role component pointers.
	mu               sync.Mutex
	role             Role
	server           *transport.Server
	client           *transport.Client
	announcer        *discovery.Announcer
	listener         *discovery.Listener
	directory        *discovery.Directory
	pendingConnected bool
	connectedRemote  string

	inboundMu sync.Mutex
	inbound   []frame.Envelope

	acceptsMu sync.Mutex
	accepts   []transport.Peer

	paused atomic.Bool
}

// Relay service constructor using default runtime config.
func NewService() *Service {
	return NewServiceWithConfig(DefaultServiceConfig())
}

// Relay service constructor using explicit config.
func NewServiceWithConfig(cfg ServiceConfig) *Service {
	return &Service{
		cfg:      cfg.withDefaults(),
		registry: NewRegistry(),
		notifier: NewNotifier(),
		role:     RoleIdle,
	}
}

// StartAsServer binds the TCP session listener on port and begins announcing
// the session on the discovery port. An empty announce falls back to the
// configured secret message. Reports false when the listener cannot bind.
func (s *Service) StartAsServer(port int, announce string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()

	var srv *transport.Server
	srv = transport.NewServer(s.cfg.Transport, transport.ServerEvents{
		Envelope: s.enqueueInbound,
		Accepted: func(p transport.Peer) {
			s.enqueueAccept(p)
			observability.SetActiveConnections(srv.ActiveConns())
		},
		Disconnected: func(p transport.Peer) {
			log.Info().Msgf("relay.Service client dropped handle=%s remote=%s", p.Handle, p.Remote)
			s.notifier.Publish(Event{Kind: EventDisconnected, Remote: p.Remote, Handle: p.Handle})
			observability.SetActiveConnections(srv.ActiveConns())
		},
	})
	if !srv.Start(port) {
		return false
	}

	sessionPort := port
	if addr, ok := srv.Addr().(*net.TCPAddr); ok {
		sessionPort = addr.Port
	}
	message := strings.TrimSpace(announce)
	if message == "" {
		message = s.cfg.SecretMessage
	}
	ann := discovery.NewAnnouncer(discovery.AnnouncerConfig{
		Port:         s.cfg.DiscoveryPort,
		InitialDelay: s.cfg.AnnounceDelay,
		Interval:     s.cfg.AnnounceInterval,
		Message:      message,
		Name:         s.cfg.HostName,
		SessionPort:  sessionPort,
		OnAnnounce:   observability.RecordAnnouncements,
	})
	ann.Start()

	s.server = srv
	s.announcer = ann
	s.role = RoleServer
	log.Info().Msgf("relay.Service.StartAsServer listening port=%d announce=%q", sessionPort, message)
	return true
}

// StartAsClient opens the discovery listener and prepares the session client.
// Reports false when the discovery port cannot bind.
func (s *Service) StartAsClient() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()

	dir := discovery.NewDirectory()
	lst := discovery.NewListener(discovery.ListenerConfig{
		Port:    s.cfg.DiscoveryPort,
		Message: s.cfg.SecretMessage,
	}, dir, func(e discovery.Entry) {
		s.notifier.Publish(Event{Kind: EventDirectoryChanged, Entry: e})
		observability.SetDirectoryHosts(dir.Len())
	})
	if !lst.Start() {
		return false
	}

	cli := transport.NewClient(s.cfg.Transport, transport.ClientEvents{
		Envelope: s.enqueueInbound,
		Connected: func(remote string) {
			s.mu.Lock()
			s.pendingConnected = true
			s.connectedRemote = remote
			s.mu.Unlock()
		},
		Disconnected: func(remote string) {
			log.Info().Msgf("relay.Service session dropped server=%s", remote)
			s.notifier.Publish(Event{Kind: EventDisconnected, Remote: remote})
		},
	})

	s.directory = dir
	s.listener = lst
	s.client = cli
	s.role = RoleClient
	log.Info().Msgf("relay.Service.StartAsClient browsing discovery_port=%d", s.cfg.DiscoveryPort)
	return true
}

// ConnectToServer dials the session server asynchronously. The connected
// notification arrives on a later tick once the dial completes.
func (s *Service) ConnectToServer(address string, port int) {
	s.mu.Lock()
	cli := s.client
	role := s.role
	s.mu.Unlock()

	if role != RoleClient || cli == nil {
		log.Warn().Msgf("relay.Service.ConnectToServer ignored role=%s", role)
		return
	}
	cli.Open(address, port)
}

// RegisterHandler installs h for frame type typ, replacing any previous
// handler for that type.
func (s *Service) RegisterHandler(typ byte, h Handler) {
	s.registry.Register(typ, h)
}

func (s *Service) UnregisterHandler(typ byte) {
	s.registry.Unregister(typ)
}

// Subscribe returns a lifecycle event channel and its cancel func.
func (s *Service) Subscribe() (<-chan Event, func()) {
	return s.notifier.Subscribe()
}

// Send serializes env once and routes it by role: servers fan out to every
// session connection, clients send to the server. Reports false when idle.
func (s *Service) Send(env frame.Envelope) bool {
	s.mu.Lock()
	role, srv, cli := s.role, s.server, s.client
	s.mu.Unlock()

	raw := frame.Encode(env)
	switch {
	case role == RoleServer && srv != nil:
		delivered := srv.SendToAll(raw)
		observability.RecordEnvelopeSent(env.Type, "fan_out", len(raw)*delivered)
		return true
	case role == RoleClient && cli != nil:
		if !cli.Send(raw) {
			observability.RecordDroppedSend()
			return false
		}
		observability.RecordEnvelopeSent(env.Type, "to_server", len(raw))
		return true
	default:
		observability.RecordDroppedSend()
		log.Warn().Msgf("relay.Service.Send dropped role=%s type=%d", role, env.Type)
		return false
	}
}

// SendToOne serializes env and sends it to a single session connection by
// handle. Server role only.
func (s *Service) SendToOne(env frame.Envelope, handle string) bool {
	s.mu.Lock()
	role, srv := s.role, s.server
	s.mu.Unlock()

	if role != RoleServer || srv == nil {
		observability.RecordDroppedSend()
		log.Warn().Msgf("relay.Service.SendToOne dropped role=%s handle=%s", role, handle)
		return false
	}
	raw := frame.Encode(env)
	if !srv.SendToOne(raw, handle) {
		observability.RecordDroppedSend()
		return false
	}
	observability.RecordEnvelopeSent(env.Type, "to_one", len(raw))
	return true
}

// Pause stops handler dispatch. Inbound envelopes keep queueing without
// bound until Unpause.
func (s *Service) Pause() {
	s.paused.Store(true)
	log.Info().Msgf("relay.Service paused")
}

func (s *Service) Unpause() {
	s.paused.Store(false)
	log.Info().Msgf("relay.Service unpaused")
}

func (s *Service) IsPaused() bool {
	return s.paused.Load()
}

func (s *Service) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// IsServing reports whether the relay is listening for session connections.
func (s *Service) IsServing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role == RoleServer && s.server != nil
}

// IsConnected reports whether the client session to the server is open.
func (s *Service) IsConnected() bool {
	s.mu.Lock()
	cli := s.client
	s.mu.Unlock()
	return cli != nil && cli.IsOpen()
}

// Directory snapshots discovered hosts in first-seen order. Nil outside the
// client role.
func (s *Service) Directory() []discovery.Entry {
	s.mu.Lock()
	dir := s.directory
	s.mu.Unlock()
	if dir == nil {
		return nil
	}
	return dir.List()
}

// Relay status snapshot for heartbeat logging and the admin surface.
func (s *Service) Status() Status {
	s.mu.Lock()
	role := s.role
	srv := s.server
	cli := s.client
	dir := s.directory
	s.mu.Unlock()

	st := Status{
		Role:     role,
		Paused:   s.paused.Load(),
		Handlers: s.registry.Len(),
	}
	if srv != nil {
		st.Serving = true
		st.ActiveClients = srv.ActiveConns()
		if addr, ok := srv.Addr().(*net.TCPAddr); ok {
			st.SessionPort = addr.Port
		}
	}
	if cli != nil {
		st.Connected = cli.IsOpen()
	}
	if dir != nil {
		st.DirectoryHosts = dir.Len()
	}
	s.inboundMu.Lock()
	st.QueuedInbound = len(s.inbound)
	s.inboundMu.Unlock()
	s.acceptsMu.Lock()
	st.PendingAccepts = len(s.accepts)
	s.acceptsMu.Unlock()
	return st
}

// Shutdown stops every role component and returns the relay to idle.
func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
}

// Relay runtime entrypoint that blocks until process signal shutdown.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

// Serve runs the relay main loop until ctx cancels: drain ticks plus a
// periodic status heartbeat. Embedders that own their lifecycle call this
// directly; Run wraps it with process signal handling.
func (s *Service) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickEvery)
	defer ticker.Stop()
	heartbeat := time.NewTicker(s.cfg.HeartbeatEvery)
	defer heartbeat.Stop()
	defer s.Shutdown()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msgf("relay.Service.Serve shutdown")
			return nil
		case <-heartbeat.C:
			st := s.Status()
			log.Info().Msgf(
				"relay.Service.heartbeat role=%s serving=%v connected=%v paused=%v clients=%d queued=%d hosts=%d",
				st.Role, st.Serving, st.Connected, st.Paused,
				st.ActiveClients, st.QueuedInbound, st.DirectoryHosts,
			)
		case <-ticker.C:
			s.drainTick()
		}
	}
}

// drainTick runs one non-overlapping drain pass: the pending connected flag
// first, then queued envelopes one at a time unless paused, then accepted
// connections. Pause is re-checked between envelopes so a handler calling
// Pause stops dispatch mid-queue.
func (s *Service) drainTick() {
	if remote, ok := s.takePendingConnected(); ok {
		log.Info().Msgf("relay.Service connected server=%s", remote)
		s.notifier.Publish(Event{Kind: EventConnected, Remote: remote})
	}

	for !s.paused.Load() {
		env, ok := s.popInbound()
		if !ok {
			break
		}
		s.dispatch(env)
	}

	for _, p := range s.takeAccepts() {
		log.Info().Msgf("relay.Service client accepted handle=%s remote=%s", p.Handle, p.Remote)
		s.notifier.Publish(Event{Kind: EventClientAccepted, Remote: p.Remote, Handle: p.Handle})
	}
}

func (s *Service) dispatch(env frame.Envelope) {
	start := time.Now()
	if !s.registry.Dispatch(env) {
		observability.RecordUnknownMessage()
		log.Warn().Msgf("relay.Service.dispatch unknown message type=%d sender=%q", env.Type, env.Sender)
		return
	}
	observability.RecordDispatch(env.Type, time.Since(start))
}

func (s *Service) enqueueInbound(env frame.Envelope) {
	observability.RecordEnvelopeReceived(env.Type, len(env.Payload))
	s.inboundMu.Lock()
	s.inbound = append(s.inbound, env)
	s.inboundMu.Unlock()
}

func (s *Service) popInbound() (frame.Envelope, bool) {
	s.inboundMu.Lock()
	defer s.inboundMu.Unlock()
	if len(s.inbound) == 0 {
		return frame.Envelope{}, false
	}
	env := s.inbound[0]
	s.inbound = s.inbound[1:]
	if len(s.inbound) == 0 {
		s.inbound = nil
	}
	return env, true
}

func (s *Service) enqueueAccept(p transport.Peer) {
	s.acceptsMu.Lock()
	s.accepts = append(s.accepts, p)
	s.acceptsMu.Unlock()
}

func (s *Service) takeAccepts() []transport.Peer {
	s.acceptsMu.Lock()
	defer s.acceptsMu.Unlock()
	taken := s.accepts
	s.accepts = nil
	return taken
}

func (s *Service) takePendingConnected() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pendingConnected {
		return "", false
	}
	s.pendingConnected = false
	return s.connectedRemote, true
}

// teardownLocked stops every per-role component. Caller holds s.mu. Queued
// work from the previous role is discarded; subscriptions survive.
func (s *Service) teardownLocked() {
	if s.announcer != nil {
		s.announcer.Stop()
		s.announcer = nil
	}
	if s.listener != nil {
		s.listener.Close()
		s.listener = nil
	}
	if s.server != nil {
		s.server.Stop()
		s.server = nil
		observability.SetActiveConnections(0)
	}
	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
	s.directory = nil
	s.pendingConnected = false
	s.connectedRemote = ""
	s.role = RoleIdle

	s.inboundMu.Lock()
	s.inbound = nil
	s.inboundMu.Unlock()
	s.acceptsMu.Lock()
	s.accepts = nil
	s.acceptsMu.Unlock()
}
