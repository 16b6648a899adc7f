package main

import (
	"testing"

	"github.com/danmuck/lanrelay/internal/config"
)

func TestApplyFlagsOverrides(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = config.ModeJoin

	out := applyFlags(cfg, " Host ", "movie-night", "127.0.0.1:9600")
	if out.Mode != config.ModeHost {
		t.Fatalf("expected mode override, got %q", out.Mode)
	}
	if out.SecretMessage != "movie-night" {
		t.Fatalf("expected secret override, got %q", out.SecretMessage)
	}
	if out.Admin.Addr != "127.0.0.1:9600" {
		t.Fatalf("expected admin override, got %q", out.Admin.Addr)
	}

	kept := applyFlags(cfg, "", "", "")
	if kept.Mode != config.ModeJoin || kept.SecretMessage != cfg.SecretMessage {
		t.Fatalf("expected empty flags to keep config values, got %+v", kept)
	}
}

func TestSplitHostPort(t *testing.T) {
	host, port, err := splitHostPort("192.168.1.20:47700")
	if err != nil || host != "192.168.1.20" || port != 47700 {
		t.Fatalf("unexpected parse result host=%q port=%d err=%v", host, port, err)
	}

	if _, _, err := splitHostPort("192.168.1.20"); err == nil {
		t.Fatalf("expected error for missing port")
	}
	if _, _, err := splitHostPort("host:notaport"); err == nil {
		t.Fatalf("expected error for non-numeric port")
	}
	if _, _, err := splitHostPort("host:70000"); err == nil {
		t.Fatalf("expected error for out-of-range port")
	}
}
