package broker

import (
	"time"

	"github.com/dmitrymomot/notifykit/pkg/delivery"
	"github.com/dmitrymomot/notifykit/pkg/heartbeat"
	"github.com/dmitrymomot/notifykit/pkg/wsproto"
)

// Config holds broker configuration loaded from environment variables.
type Config struct {
	Delivery  delivery.Config
	Heartbeat heartbeat.Config

	// AdminToken guards the key management endpoints when set. Empty
	// leaves them open, which is only sensible in development.
	AdminToken string `env:"BROKER_ADMIN_TOKEN"`

	// AllowAnyOrigin disables WebSocket origin checking.
	AllowAnyOrigin bool `env:"BROKER_WS_ALLOW_ANY_ORIGIN" envDefault:"false"`

	// WriteTimeout bounds a single frame write to a client.
	WriteTimeout time.Duration `env:"BROKER_WS_WRITE_TIMEOUT" envDefault:"10s"`

	// PongTimeout bounds how long a read blocks without client traffic.
	// Kept above the heartbeat interval so healthy idle clients survive.
	PongTimeout time.Duration `env:"BROKER_WS_PONG_TIMEOUT" envDefault:"75s"`

	// MaxMessageSize caps inbound frame size in bytes.
	MaxMessageSize int64 `env:"BROKER_WS_MAX_MESSAGE_SIZE" envDefault:"4096"`

	// SendBuffer is the per-connection outbound frame buffer. A client
	// that falls this many frames behind starts losing deliveries.
	SendBuffer int `env:"BROKER_WS_SEND_BUFFER" envDefault:"256"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Delivery:       delivery.DefaultConfig(),
		Heartbeat:      heartbeat.DefaultConfig(),
		WriteTimeout:   10 * time.Second,
		PongTimeout:    75 * time.Second,
		MaxMessageSize: 4096,
		SendBuffer:     wsproto.DefaultSendBuffer,
	}
}
