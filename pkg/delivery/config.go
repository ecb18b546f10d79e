package delivery

import "time"

// Config holds delivery engine configuration loaded from environment variables.
type Config struct {
	MaxAttempts int           `env:"DELIVERY_MAX_ATTEMPTS" envDefault:"3"`
	RetryDelay  time.Duration `env:"DELIVERY_RETRY_DELAY" envDefault:"1s"`
	BatchSize   int           `env:"DELIVERY_BATCH_SIZE" envDefault:"100"`
	Yield       time.Duration `env:"DELIVERY_YIELD" envDefault:"10ms"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		RetryDelay:  time.Second,
		BatchSize:   100,
		Yield:       10 * time.Millisecond,
	}
}
