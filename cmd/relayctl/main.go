package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/danmuck/lanrelay/internal/config"
	"github.com/danmuck/lanrelay/internal/logging"
	"github.com/danmuck/lanrelay/internal/observability"
	"github.com/danmuck/lanrelay/internal/relay"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "", "path to relay config TOML")
	mode := flag.String("mode", "", "role override: host|join")
	announce := flag.String("announce", "", "announcement secret override")
	connect := flag.String("connect", "", "host:port to dial immediately in join mode")
	adminAddr := flag.String("admin", "", "admin HTTP listen addr override")
	flag.Parse()

	logging.ConfigureRuntime("relayctl")

	cfg := config.Default()
	if strings.TrimSpace(*configPath) != "" {
		loaded, err := config.LoadRelayConfig(*configPath)
		if err != nil {
			fatal(err)
		}
		cfg = loaded
	}
	cfg = applyFlags(cfg, *mode, *announce, *adminAddr)
	if err := config.ValidateRelayConfig(cfg); err != nil {
		fatal(err)
	}

	svc := relay.NewServiceWithConfig(config.ServiceConfig(cfg))

	if addr := strings.TrimSpace(cfg.Admin.Addr); addr != "" {
		observability.RegisterMetrics()
		admin := observability.NewAdminServer("relayctl", addr, cfg.Admin.CorsOrigins, func() any {
			return svc.Status()
		})
		go func() {
			if err := admin.Serve(); err != nil {
				log.Error().Msgf("relayctl admin server failed addr=%s err=%v", addr, err)
			}
		}()
	}

	switch cfg.Mode {
	case config.ModeHost:
		if !svc.StartAsServer(cfg.Session.Port, cfg.SecretMessage) {
			fatal(fmt.Errorf("session port %d unavailable", cfg.Session.Port))
		}
	case config.ModeJoin:
		if !svc.StartAsClient() {
			fatal(fmt.Errorf("discovery port %d unavailable", cfg.Discovery.Port))
		}
		if strings.TrimSpace(*connect) != "" {
			host, port, err := splitHostPort(*connect)
			if err != nil {
				fatal(err)
			}
			svc.ConnectToServer(host, port)
		}
	default:
		fatal(fmt.Errorf("mode required: pass -mode host|join or set mode in the config"))
	}

	if err := svc.Run(); err != nil {
		fatal(err)
	}
}

func applyFlags(cfg config.RelayConfig, mode, announce, adminAddr string) config.RelayConfig {
	if trimmed := strings.ToLower(strings.TrimSpace(mode)); trimmed != "" {
		cfg.Mode = trimmed
	}
	if trimmed := strings.TrimSpace(announce); trimmed != "" {
		cfg.SecretMessage = trimmed
	}
	if trimmed := strings.TrimSpace(adminAddr); trimmed != "" {
		cfg.Admin.Addr = trimmed
	}
	return cfg
}

func splitHostPort(raw string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(raw))
	if err != nil {
		return "", 0, fmt.Errorf("parse connect target %q: %w", raw, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("connect target %q has invalid port", raw)
	}
	return host, port, nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "relayctl: %v\n", err)
	os.Exit(1)
}
