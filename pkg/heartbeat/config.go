package heartbeat

import "time"

// Config holds heartbeat monitor configuration loaded from environment variables.
type Config struct {
	Interval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
	}
}
