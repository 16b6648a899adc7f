package config

import (
	"strings"

	"github.com/danmuck/lanrelay/internal/protocol/frame"
	"github.com/danmuck/lanrelay/internal/relay"
	"github.com/danmuck/lanrelay/internal/transport"
)

// ServiceConfig converts the loaded TOML surface into relay runtime config.
func ServiceConfig(cfg RelayConfig) relay.ServiceConfig {
	svc := relay.DefaultServiceConfig()
	if strings.TrimSpace(cfg.Name) != "" {
		svc.HostName = cfg.Name
	}
	svc.SecretMessage = cfg.SecretMessage
	svc.DiscoveryPort = cfg.Discovery.Port
	svc.AnnounceDelay = cfg.Discovery.AnnounceDelay
	svc.AnnounceInterval = cfg.Discovery.AnnounceInterval
	svc.Transport = transport.Config{
		ConnectTimeout: cfg.Session.ConnectTimeout,
		WriteTimeout:   cfg.Session.WriteTimeout,
		SendQueueLen:   cfg.Session.SendQueueLen,
		Limits:         frame.Limits{MaxPayloadBytes: uint32(cfg.Session.MaxPayloadBytes)},
	}.WithDefaults()
	return svc
}
