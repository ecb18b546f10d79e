package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/config"
)

type sampleConfig struct {
	MaxSize  int           `env:"SAMPLE_MAX_SIZE" envDefault:"10000"`
	TTL      time.Duration `env:"SAMPLE_TTL" envDefault:"24h"`
	Name     string        `env:"SAMPLE_NAME" envDefault:"broker"`
	Required string        `env:"SAMPLE_REQUIRED,required"`
}

type defaultsOnly struct {
	MaxSize int           `env:"DEFAULTS_MAX_SIZE" envDefault:"10000"`
	TTL     time.Duration `env:"DEFAULTS_TTL" envDefault:"24h"`
}

func TestLoad(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		var cfg defaultsOnly
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, 10000, cfg.MaxSize)
		assert.Equal(t, 24*time.Hour, cfg.TTL)
	})

	t.Run("environment overrides defaults", func(t *testing.T) {
		t.Setenv("SAMPLE_MAX_SIZE", "50")
		t.Setenv("SAMPLE_TTL", "90s")
		t.Setenv("SAMPLE_REQUIRED", "yes")

		var cfg sampleConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, 50, cfg.MaxSize)
		assert.Equal(t, 90*time.Second, cfg.TTL)
		assert.Equal(t, "broker", cfg.Name)
	})

	t.Run("missing required variable fails", func(t *testing.T) {
		var cfg sampleConfig
		err := config.Load(&cfg)
		require.ErrorIs(t, err, config.ErrParsingConfig)
	})

	t.Run("nil pointer fails", func(t *testing.T) {
		err := config.Load[defaultsOnly](nil)
		require.ErrorIs(t, err, config.ErrNilPointer)
	})
}

func TestMustLoad(t *testing.T) {
	t.Run("panics on failure", func(t *testing.T) {
		assert.Panics(t, func() {
			var cfg sampleConfig
			config.MustLoad(&cfg)
		})
	})

	t.Run("passes through on success", func(t *testing.T) {
		var cfg defaultsOnly
		assert.NotPanics(t, func() { config.MustLoad(&cfg) })
	})
}
