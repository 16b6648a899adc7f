package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/danmuck/lanrelay/internal/discovery"
	"github.com/danmuck/lanrelay/internal/logging"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "", "path to scan config TOML")
	port := flag.Int("port", 0, "discovery port override")
	secret := flag.String("secret", "", "session secret override")
	window := flag.Duration("window", 0, "stop after this long (0 runs until interrupted)")
	flag.Parse()

	logging.ConfigureRuntime("scanctl")

	settings := defaultScanSettings()
	if *configPath != "" {
		loaded, err := loadScanSettings(*configPath)
		if err != nil {
			fatal(err)
		}
		settings = loaded
	}
	if *port > 0 {
		settings.Port = *port
	}
	if *secret != "" {
		settings.Secret = *secret
	}
	if *window > 0 {
		settings.Window = *window
	}

	if err := run(settings); err != nil {
		fatal(err)
	}
}

func run(settings scanSettings) error {
	dir := discovery.NewDirectory()
	lst := discovery.NewListener(discovery.ListenerConfig{
		Port:    settings.Port,
		Message: settings.Secret,
	}, dir, func(e discovery.Entry) {
		log.Info().Msgf("scanctl found host name=%q address=%s port=%d", e.Name, e.Address, e.Port)
	})
	if !lst.Start() {
		return fmt.Errorf("discovery port %d unavailable", settings.Port)
	}
	defer lst.Close()
	log.Info().Msgf("scanctl listening discovery_port=%d window=%s", settings.Port, settings.Window)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if settings.Window > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, settings.Window)
		defer cancel()
	}
	<-ctx.Done()

	entries := dir.List()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	fmt.Printf("scanctl: %d host(s) announced\n", len(entries))
	for _, e := range entries {
		fmt.Printf("  %-24s %s:%d\n", e.Name, e.Address, e.Port)
	}
	return nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "scanctl: %v\n", err)
	os.Exit(1)
}
