package queue

import "time"

// Config holds environment-driven queue settings.
type Config struct {
	MaxSize       int           `env:"QUEUE_MAX_SIZE" envDefault:"10000"`     // Admission capacity bound.
	TTL           time.Duration `env:"QUEUE_TTL" envDefault:"24h"`            // Expiry window per item.
	SweepInterval time.Duration `env:"QUEUE_SWEEP_INTERVAL" envDefault:"60s"` // Background expiry sweep period.
	BatchSize     int           `env:"QUEUE_BATCH_SIZE" envDefault:"100"`     // Default DequeueBatch size.
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig() Config {
	return Config{
		MaxSize:       10000,
		TTL:           24 * time.Hour,
		SweepInterval: 60 * time.Second,
		BatchSize:     100,
	}
}
