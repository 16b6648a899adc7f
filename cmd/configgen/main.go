package main

import (
	"flag"
	"log"

	"github.com/danmuck/lanrelay/internal/config"
)

func main() {
	kind := flag.String("kind", "host", "config kind: host|join")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			switch *kind {
			case "host":
				path = "cmd/relayctl/config.toml"
			case "join":
				path = "cmd/relayctl/join.toml"
			default:
				log.Fatalf("unknown kind: %s", *kind)
			}
		}

		if _, err := config.LoadRelayConfig(path); err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated %s config at %s", *kind, path)
		return
	}

	target := *output
	if target == "" {
		switch *kind {
		case "host":
			target = "cmd/relayctl/config.toml"
		case "join":
			target = "cmd/relayctl/join.toml"
		default:
			log.Fatalf("unknown kind: %s", *kind)
		}
	}

	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}
