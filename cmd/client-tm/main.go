package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/lanrelay/internal/discovery"
	"github.com/danmuck/lanrelay/internal/logging"
	"github.com/danmuck/lanrelay/internal/protocol/frame"
	"github.com/danmuck/lanrelay/internal/relay"
	"github.com/rs/zerolog/log"
)

const (
	clientConfigPath = "cmd/client-tm/config.toml"

	// chatMessageType is the self-describing envelope type carrying chat
	// text as JSON. Types at 128 and above are JSON on the wire.
	chatMessageType = 200

	recentLogSize = 64
)

var (
	// ErrNavigateBack signals caller-intent to return to the previous menu.
	ErrNavigateBack = errors.New("navigate back")
	// ErrNavigateExit signals caller-intent to exit the interactive client.
	ErrNavigateExit = errors.New("navigate exit")
)

// clientConfig persists the session identity used across launches.
type clientConfig struct {
	Name          string `toml:"name"`
	SecretMessage string `toml:"secret_message"`
	DiscoveryPort int    `toml:"discovery_port"`
	ClearScreen   bool   `toml:"clear_screen_after_command"`
}

// chatBody is the JSON payload of a chatMessageType envelope.
type chatBody struct {
	From string `json:"from"`
	Text string `json:"text"`
}

type App struct {
	reader  *bufio.Reader
	cfgPath string
	cfg     clientConfig
	svc     *relay.Service

	logMu  sync.Mutex
	recent []string
}

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", clientConfigPath, "path to client config TOML")
	flag.Parse()

	logging.ConfigureRuntime("client-tm")
	app := NewApp(cfgPath)
	if err := app.Run(); err != nil {
		log.Error().Msgf("client-tm: %v", err)
		os.Exit(1)
	}
}

func NewApp(cfgPath string) *App {
	return &App{
		reader:  bufio.NewReader(os.Stdin),
		cfgPath: cfgPath,
	}
}

// Run joins the session as a client and executes the interactive menu loop.
func (a *App) Run() error {
	if err := a.loadOrInitConfig(); err != nil {
		return err
	}
	a.svc = relay.NewServiceWithConfig(a.serviceConfig())
	if !a.svc.StartAsClient() {
		return fmt.Errorf("discovery port %d unavailable", a.cfg.DiscoveryPort)
	}
	a.svc.RegisterHandler(chatMessageType, a.onChat)
	log.Info().Msgf("client-tm joined name=%q discovery_port=%d", a.cfg.Name, a.cfg.DiscoveryPort)

	events, cancelSub := a.svc.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = a.svc.Serve(ctx)
	}()
	go func() {
		defer wg.Done()
		for ev := range events {
			a.appendRecent(formatEvent(ev))
		}
	}()

	err := a.menuLoop()

	cancel()
	cancelSub()
	wg.Wait()
	if saveErr := a.saveConfig(); saveErr != nil {
		log.Warn().Msgf("save on exit failed: %v", saveErr)
	}
	log.Info().Msgf("client-tm exiting")
	return err
}

func (a *App) menuLoop() error {
	for {
		a.printMenu()
		choice, err := a.promptInt("Choose", 1, 7, false, true)
		if err != nil {
			if errors.Is(err, ErrNavigateExit) {
				return nil
			}
			return err
		}
		a.clearIfEnabled()
		switch choice {
		case 1:
			a.listHosts()
		case 2:
			if err := a.connectToHost(); err != nil {
				if errors.Is(err, ErrNavigateBack) {
					continue
				}
				if errors.Is(err, ErrNavigateExit) {
					return nil
				}
				log.Error().Msgf("connect failed: %v", err)
			}
		case 3:
			if err := a.sendChat(); err != nil {
				if errors.Is(err, ErrNavigateExit) {
					return nil
				}
				log.Error().Msgf("send failed: %v", err)
			}
		case 4:
			a.showStatus()
		case 5:
			a.showRecent()
		case 6:
			if err := a.runConfigMenu(); err != nil {
				if errors.Is(err, ErrNavigateBack) {
					continue
				}
				if errors.Is(err, ErrNavigateExit) {
					return nil
				}
				log.Error().Msgf("config menu failed: %v", err)
			}
		case 7:
			return nil
		}
	}
}

func (a *App) printMenu() {
	st := a.svc.Status()
	fmt.Println()
	fmt.Println("Client TM")
	fmt.Printf("Session: role=%s connected=%v hosts=%d\n", st.Role, st.Connected, st.DirectoryHosts)
	fmt.Println("  1) List discovered hosts")
	fmt.Println("  2) Connect to host")
	fmt.Println("  3) Send chat message")
	fmt.Println("  4) Show session status")
	fmt.Println("  5) Recent events")
	fmt.Println("  6) Config menu")
	fmt.Println("  7) Exit")
}

func (a *App) listHosts() {
	hosts := a.svc.Directory()
	fmt.Println()
	fmt.Println("Discovered Hosts")
	if len(hosts) == 0 {
		fmt.Println("  (none yet; hosts announce every few seconds)")
		return
	}
	for i, h := range hosts {
		fmt.Printf("  %d) %s\n", i+1, formatHost(h))
	}
}

// connectToHost picks a discovered host by number and opens the session link.
func (a *App) connectToHost() error {
	hosts := a.svc.Directory()
	if len(hosts) == 0 {
		fmt.Println("No hosts discovered yet.")
		return nil
	}
	fmt.Println()
	fmt.Println("Connect To Host")
	for i, h := range hosts {
		fmt.Printf("  %d) %s\n", i+1, formatHost(h))
	}
	choice, err := a.promptInt("Host", 1, len(hosts), true, true)
	if err != nil {
		return err
	}
	target := hosts[choice-1]
	a.svc.ConnectToServer(target.Address, target.Port)
	fmt.Printf("Connecting to %s:%d ...\n", target.Address, target.Port)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a.svc.IsConnected() {
			fmt.Println("Connected.")
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	fmt.Println("Still connecting; watch recent events.")
	return nil
}

func (a *App) sendChat() error {
	if !a.svc.IsConnected() {
		fmt.Println("Not connected to a host yet.")
		return nil
	}
	text, err := a.promptLine("Message")
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	raw, err := json.Marshal(chatBody{From: a.cfg.Name, Text: text})
	if err != nil {
		return err
	}
	if !a.svc.Send(frame.Envelope{Type: chatMessageType, Payload: raw}) {
		fmt.Println("Send rejected; the link may have dropped.")
		return nil
	}
	fmt.Println("Sent.")
	return nil
}

func (a *App) showStatus() {
	st := a.svc.Status()
	fmt.Println()
	fmt.Println("Session Status")
	fmt.Printf("  %-16s %s\n", "role", st.Role)
	fmt.Printf("  %-16s %v\n", "connected", st.Connected)
	fmt.Printf("  %-16s %v\n", "paused", st.Paused)
	fmt.Printf("  %-16s %d\n", "hosts", st.DirectoryHosts)
	fmt.Printf("  %-16s %d\n", "queued inbound", st.QueuedInbound)
	fmt.Printf("  %-16s %d\n", "handlers", st.Handlers)
}

func (a *App) showRecent() {
	fmt.Println()
	fmt.Println("Recent Events")
	entries := a.snapshotRecent()
	if len(entries) == 0 {
		fmt.Println("  (none)")
		return
	}
	for _, line := range entries {
		fmt.Printf("  %s\n", line)
	}
}

func (a *App) runConfigMenu() error {
	for {
		fmt.Println()
		fmt.Println("Config Menu")
		fmt.Printf("  name=%q secret=%q clear-screen=%v\n", a.cfg.Name, a.cfg.SecretMessage, a.cfg.ClearScreen)
		fmt.Println("  1) Set display name")
		fmt.Println("  2) Toggle clear-screen")
		fmt.Println("  3) Save config")
		fmt.Println("  4) Back")
		choice, err := a.promptInt("Choose", 1, 4, true, true)
		if err != nil {
			return err
		}
		switch choice {
		case 1:
			name, err := a.promptLine("Display name")
			if err != nil {
				return err
			}
			if strings.TrimSpace(name) != "" {
				a.cfg.Name = strings.TrimSpace(name)
			}
		case 2:
			a.cfg.ClearScreen = !a.cfg.ClearScreen
			fmt.Printf("clear-screen=%v\n", a.cfg.ClearScreen)
		case 3:
			if err := a.saveConfig(); err != nil {
				log.Error().Msgf("save config failed: %v", err)
				continue
			}
			fmt.Println("Saved.")
		case 4:
			return nil
		}
	}
}

// onChat runs on the relay drain tick for every inbound chat envelope.
func (a *App) onChat(env frame.Envelope) {
	body, err := decodeChat(env.Payload)
	if err != nil {
		log.Warn().Msgf("client-tm bad chat payload sender=%s: %v", env.Sender, err)
		return
	}
	a.appendRecent(fmt.Sprintf("chat from=%q %q", body.From, body.Text))
}

func (a *App) appendRecent(line string) {
	a.logMu.Lock()
	defer a.logMu.Unlock()
	a.recent = append(a.recent, time.Now().Format("15:04:05")+" "+line)
	if len(a.recent) > recentLogSize {
		a.recent = a.recent[len(a.recent)-recentLogSize:]
	}
}

func (a *App) snapshotRecent() []string {
	a.logMu.Lock()
	defer a.logMu.Unlock()
	out := make([]string, len(a.recent))
	copy(out, a.recent)
	return out
}

// loadOrInitConfig loads the persisted client config, filling defaults for
// anything missing and writing the file back when it had to.
func (a *App) loadOrInitConfig() error {
	if err := ensureFile(a.cfgPath); err != nil {
		return err
	}
	if _, err := toml.DecodeFile(a.cfgPath, &a.cfg); err != nil {
		return fmt.Errorf("load client config: %w", err)
	}
	filled := withClientDefaults(a.cfg)
	needsSave := filled != a.cfg
	a.cfg = filled
	if needsSave {
		return a.saveConfig()
	}
	return nil
}

func (a *App) saveConfig() error {
	buf := strings.Builder{}
	if err := toml.NewEncoder(&buf).Encode(a.cfg); err != nil {
		return err
	}
	return os.WriteFile(a.cfgPath, []byte(buf.String()), 0o644)
}

func (a *App) serviceConfig() relay.ServiceConfig {
	cfg := relay.DefaultServiceConfig()
	cfg.HostName = a.cfg.Name
	cfg.SecretMessage = a.cfg.SecretMessage
	cfg.DiscoveryPort = a.cfg.DiscoveryPort
	return cfg
}

func (a *App) promptLine(label string) (string, error) {
	if strings.TrimSpace(label) != "" {
		fmt.Printf("%s: ", label)
	}
	line, err := a.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (a *App) promptInt(label string, min int, max int, allowBack bool, allowExit bool) (int, error) {
	for {
		rangePrompt := fmt.Sprintf("%s [%d-%d", label, min, max)
		if allowBack {
			rangePrompt += "|back|b"
		}
		if allowExit {
			rangePrompt += "|exit|e"
		}
		rangePrompt += "]"
		line, err := a.promptLine(rangePrompt)
		if err != nil {
			return 0, err
		}
		trimmed := strings.ToLower(strings.TrimSpace(line))
		if allowBack && (trimmed == "back" || trimmed == "b") {
			return 0, ErrNavigateBack
		}
		if allowExit && (trimmed == "exit" || trimmed == "e") {
			return 0, ErrNavigateExit
		}
		v, err := strconv.Atoi(trimmed)
		if err != nil || v < min || v > max {
			fmt.Println("Invalid selection.")
			continue
		}
		return v, nil
	}
}

func (a *App) clearIfEnabled() {
	if !a.cfg.ClearScreen {
		return
	}
	fmt.Print("\033[H\033[2J")
}

// withClientDefaults fills any unset config fields with launch defaults.
func withClientDefaults(cfg clientConfig) clientConfig {
	if strings.TrimSpace(cfg.Name) == "" {
		host, err := os.Hostname()
		if err != nil || strings.TrimSpace(host) == "" {
			host = "lanrelay-guest"
		}
		cfg.Name = host
	}
	if strings.TrimSpace(cfg.SecretMessage) == "" {
		cfg.SecretMessage = "lanrelay-session"
	}
	if cfg.DiscoveryPort == 0 {
		cfg.DiscoveryPort = discovery.DefaultPort
	}
	return cfg
}

func formatHost(e discovery.Entry) string {
	return fmt.Sprintf("%-24s %s:%d", e.Name, e.Address, e.Port)
}

// formatEvent renders one relay lifecycle event for the recent-events log.
func formatEvent(ev relay.Event) string {
	switch ev.Kind {
	case relay.EventConnected:
		return fmt.Sprintf("connected server=%s", ev.Remote)
	case relay.EventDisconnected:
		if ev.Handle != "" {
			return fmt.Sprintf("disconnected handle=%s remote=%s", ev.Handle, ev.Remote)
		}
		return fmt.Sprintf("disconnected remote=%s", ev.Remote)
	case relay.EventDirectoryChanged:
		return fmt.Sprintf("host seen name=%q address=%s port=%d", ev.Entry.Name, ev.Entry.Address, ev.Entry.Port)
	case relay.EventClientAccepted:
		return fmt.Sprintf("client accepted handle=%s remote=%s", ev.Handle, ev.Remote)
	default:
		return fmt.Sprintf("event kind=%s", ev.Kind)
	}
}

func decodeChat(payload []byte) (chatBody, error) {
	var body chatBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return chatBody{}, err
	}
	return body, nil
}

// ensureFile creates a missing file and parent directory for config bootstrapping.
func ensureFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}
