package transport

import (
	"time"

	"github.com/danmuck/lanrelay/internal/protocol/frame"
)

// Config holds socket-level tuning shared by the listener and the client.
type Config struct {
	// ConnectTimeout bounds one outbound dial attempt.
	ConnectTimeout time.Duration
	// WriteTimeout bounds each queued write.
	WriteTimeout time.Duration
	// ReadBufferBytes sizes the per-connection receive buffer.
	ReadBufferBytes int
	// SendQueueLen caps the per-connection outbound queue; a full queue
	// drops the frame rather than block the sender.
	SendQueueLen int
	// Limits bounds decode allocations in the reassembler.
	Limits frame.Limits
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:  5 * time.Second,
		WriteTimeout:    10 * time.Second,
		ReadBufferBytes: 64 * 1024,
		SendQueueLen:    256,
		Limits:          frame.DefaultLimits(),
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ReadBufferBytes <= 0 {
		c.ReadBufferBytes = def.ReadBufferBytes
	}
	if c.SendQueueLen <= 0 {
		c.SendQueueLen = def.SendQueueLen
	}
	if c.Limits.MaxPayloadBytes == 0 {
		c.Limits = def.Limits
	}
	return c
}
