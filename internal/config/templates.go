package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "host":
		return hostTemplate, nil
	case "join":
		return joinTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const hostTemplate = `name = "lanrelay-host"
secret_message = "lanrelay-session"
mode = "host"

[discovery]
port = 47777
announce_delay = "1s"
announce_interval = "2s"

[session]
port = 47700
connect_timeout = "5s"
write_timeout = "10s"
send_queue_len = 256
max_payload_bytes = 16777216

[admin]
addr = ""
cors_origins = ["http://localhost:3000"]
`

const joinTemplate = `name = "lanrelay-join"
secret_message = "lanrelay-session"
mode = "join"

[discovery]
port = 47777

[session]
connect_timeout = "5s"
write_timeout = "10s"

[admin]
addr = ""
`
