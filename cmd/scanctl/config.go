package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/lanrelay/internal/discovery"
)

// scanctl config.toml key mapping to browser settings.
type fileConfig struct {
	DiscoveryPort int    `toml:"discovery_port"`
	Secret        string `toml:"secret_message"`
	Window        string `toml:"window"`
}

type scanSettings struct {
	Port   int
	Secret string
	Window time.Duration
}

func defaultScanSettings() scanSettings {
	return scanSettings{
		Port:   discovery.DefaultPort,
		Secret: "lanrelay-session",
	}
}

// scanctl loader for TOML config with default overlay.
func loadScanSettings(path string) (scanSettings, error) {
	settings := defaultScanSettings()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return scanSettings{}, fmt.Errorf("load scan config: %w", err)
	}

	if meta.IsDefined("discovery_port") {
		if raw.DiscoveryPort < 1 || raw.DiscoveryPort > 65535 {
			return scanSettings{}, fmt.Errorf("discovery_port out of range: %d", raw.DiscoveryPort)
		}
		settings.Port = raw.DiscoveryPort
	}

	if meta.IsDefined("secret_message") {
		secret := strings.TrimSpace(raw.Secret)
		if secret != "" {
			settings.Secret = secret
		}
	}

	if meta.IsDefined("window") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Window))
		if err != nil {
			return scanSettings{}, fmt.Errorf("parse window: %w", err)
		}
		settings.Window = d
	}

	return settings, nil
}
