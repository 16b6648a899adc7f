package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/lanrelay/internal/discovery"
)

func writeScanConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadScanSettingsDefaultsAndOverrides(t *testing.T) {
	path := writeScanConfig(t, `
discovery_port = 48123
secret_message = "campaign-night"
window = "90s"
`)

	settings, err := loadScanSettings(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if settings.Port != 48123 {
		t.Fatalf("unexpected port: %d", settings.Port)
	}
	if settings.Secret != "campaign-night" {
		t.Fatalf("unexpected secret: %q", settings.Secret)
	}
	if settings.Window != 90*time.Second {
		t.Fatalf("unexpected window: %v", settings.Window)
	}
}

func TestLoadScanSettingsKeepsDefaults(t *testing.T) {
	path := writeScanConfig(t, `
secret_message = "  "
`)

	settings, err := loadScanSettings(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if settings.Port != discovery.DefaultPort {
		t.Fatalf("expected default port, got %d", settings.Port)
	}
	if settings.Secret != "lanrelay-session" {
		t.Fatalf("expected blank secret to keep default, got %q", settings.Secret)
	}
	if settings.Window != 0 {
		t.Fatalf("expected zero window, got %v", settings.Window)
	}
}

func TestLoadScanSettingsBadDuration(t *testing.T) {
	path := writeScanConfig(t, `
window = "soon"
`)

	if _, err := loadScanSettings(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadScanSettingsPortRange(t *testing.T) {
	path := writeScanConfig(t, `
discovery_port = 70000
`)

	if _, err := loadScanSettings(path); err == nil {
		t.Fatalf("expected range error")
	}
}
