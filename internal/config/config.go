package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// RelayConfig is the typed configuration surface for relayctl.
type RelayConfig struct {
	Name          string
	SecretMessage string
	Mode          string
	Discovery     DiscoveryConfig
	Session       SessionConfig
	Admin         AdminConfig
}

type DiscoveryConfig struct {
	Port             int
	AnnounceDelay    time.Duration
	AnnounceInterval time.Duration
}

type SessionConfig struct {
	Port            int
	ConnectTimeout  time.Duration
	WriteTimeout    time.Duration
	SendQueueLen    int
	MaxPayloadBytes int
}

// AdminConfig controls the optional HTTP surface. An empty Addr disables it.
type AdminConfig struct {
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
}

const (
	ModeHost = "host"
	ModeJoin = "join"
)

// Durations ride in TOML as strings ("2s"), parsed with time.ParseDuration.
type rawRelayConfig struct {
	Name          string       `toml:"name"`
	SecretMessage string       `toml:"secret_message"`
	Mode          string       `toml:"mode"`
	Discovery     rawDiscovery `toml:"discovery"`
	Session       rawSession   `toml:"session"`
	Admin         AdminConfig  `toml:"admin"`
}

type rawDiscovery struct {
	Port             int    `toml:"port"`
	AnnounceDelay    string `toml:"announce_delay"`
	AnnounceInterval string `toml:"announce_interval"`
}

type rawSession struct {
	Port            int    `toml:"port"`
	ConnectTimeout  string `toml:"connect_timeout"`
	WriteTimeout    string `toml:"write_timeout"`
	SendQueueLen    int    `toml:"send_queue_len"`
	MaxPayloadBytes int    `toml:"max_payload_bytes"`
}

func Default() RelayConfig {
	return RelayConfig{
		SecretMessage: "lanrelay-session",
		Discovery: DiscoveryConfig{
			Port:             47777,
			AnnounceDelay:    time.Second,
			AnnounceInterval: 2 * time.Second,
		},
		Session: SessionConfig{
			Port:            47700,
			ConnectTimeout:  5 * time.Second,
			WriteTimeout:    10 * time.Second,
			SendQueueLen:    256,
			MaxPayloadBytes: 16 << 20,
		},
	}
}

func LoadRelayConfig(path string) (RelayConfig, error) {
	var raw rawRelayConfig
	if err := loadToml(path, &raw); err != nil {
		return RelayConfig{}, err
	}
	cfg, err := resolve(raw)
	if err != nil {
		return RelayConfig{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	if err := ValidateRelayConfig(cfg); err != nil {
		return RelayConfig{}, err
	}
	return cfg, nil
}

func resolve(raw rawRelayConfig) (RelayConfig, error) {
	cfg := Default()
	if strings.TrimSpace(raw.Name) != "" {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if strings.TrimSpace(raw.SecretMessage) != "" {
		cfg.SecretMessage = strings.TrimSpace(raw.SecretMessage)
	}
	cfg.Mode = strings.ToLower(strings.TrimSpace(raw.Mode))
	if raw.Discovery.Port != 0 {
		cfg.Discovery.Port = raw.Discovery.Port
	}
	if raw.Session.Port != 0 {
		cfg.Session.Port = raw.Session.Port
	}
	if raw.Session.SendQueueLen > 0 {
		cfg.Session.SendQueueLen = raw.Session.SendQueueLen
	}
	if raw.Session.MaxPayloadBytes > 0 {
		cfg.Session.MaxPayloadBytes = raw.Session.MaxPayloadBytes
	}
	cfg.Admin = raw.Admin

	var err error
	if cfg.Discovery.AnnounceDelay, err = resolveDuration("discovery.announce_delay", raw.Discovery.AnnounceDelay, cfg.Discovery.AnnounceDelay); err != nil {
		return RelayConfig{}, err
	}
	if cfg.Discovery.AnnounceInterval, err = resolveDuration("discovery.announce_interval", raw.Discovery.AnnounceInterval, cfg.Discovery.AnnounceInterval); err != nil {
		return RelayConfig{}, err
	}
	if cfg.Session.ConnectTimeout, err = resolveDuration("session.connect_timeout", raw.Session.ConnectTimeout, cfg.Session.ConnectTimeout); err != nil {
		return RelayConfig{}, err
	}
	if cfg.Session.WriteTimeout, err = resolveDuration("session.write_timeout", raw.Session.WriteTimeout, cfg.Session.WriteTimeout); err != nil {
		return RelayConfig{}, err
	}
	return cfg, nil
}

func resolveDuration(field, raw string, fallback time.Duration) (time.Duration, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(trimmed)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", field, d)
	}
	return d, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateRelayConfig(cfg RelayConfig) error {
	if strings.TrimSpace(cfg.SecretMessage) == "" {
		return fmt.Errorf("relay config missing secret_message")
	}
	switch cfg.Mode {
	case "", ModeHost, ModeJoin:
	default:
		return fmt.Errorf("relay config mode must be %q or %q, got %q", ModeHost, ModeJoin, cfg.Mode)
	}
	if err := validatePort("discovery.port", cfg.Discovery.Port); err != nil {
		return err
	}
	if err := validatePort("session.port", cfg.Session.Port); err != nil {
		return err
	}
	if cfg.Discovery.Port == cfg.Session.Port {
		return fmt.Errorf("relay config discovery.port and session.port must differ, both %d", cfg.Session.Port)
	}
	if cfg.Session.MaxPayloadBytes > 1<<31-1 {
		return fmt.Errorf("relay config session.max_payload_bytes too large: %d", cfg.Session.MaxPayloadBytes)
	}
	return nil
}

func validatePort(field string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("relay config %s out of range: %d", field, port)
	}
	return nil
}
