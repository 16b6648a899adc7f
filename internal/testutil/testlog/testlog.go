package testlog

import (
	"testing"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/lanrelay/internal/logging"
)

func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	log.Debug().Msgf("test=%s", t.Name())
}
