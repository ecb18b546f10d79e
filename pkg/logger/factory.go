package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Format represents logger output format.
type Format string

const (
	// FormatJSON outputs structured logs for production log aggregation systems.
	FormatJSON Format = "json"
	// FormatText outputs human-readable logs for development debugging.
	FormatText Format = "text"
)

// Config holds environment-driven logger settings.
type Config struct {
	Level   slog.Level `env:"LOG_LEVEL" envDefault:"info"`     // Minimum level emitted.
	Format  Format     `env:"LOG_FORMAT" envDefault:"json"`    // Output format: json or text.
	Service string     `env:"LOG_SERVICE" envDefault:"broker"` // Static service attribute on every record.
}

// Option configures logger creation.
type Option func(*config)

func WithLevel(l slog.Level) Option {
	return func(c *config) { c.level = l }
}

// WithFormat sets output format.
// Panics for invalid formats to enforce fail-fast initialization - a
// misconfigured logger should prevent startup rather than cause runtime errors.
func WithFormat(f Format) Option {
	return func(c *config) {
		switch f {
		case FormatJSON, FormatText:
			c.format = f
		default:
			panic(fmt.Errorf("invalid log format %q: must be %q or %q", f, FormatJSON, FormatText))
		}
	}
}

// WithOutput sets custom output destination, ignoring nil writers for safety.
func WithOutput(w io.Writer) Option {
	return func(c *config) {
		if w != nil {
			c.output = w
		}
	}
}

// WithService adds a static service attribute to every log record.
func WithService(name string) Option {
	return func(c *config) {
		if name != "" {
			c.attrs = append(c.attrs, slog.String("service", name))
		}
	}
}

// WithAttr adds static attributes to every log record.
// Empty attribute lists are ignored to avoid allocation overhead.
func WithAttr(attrs ...slog.Attr) Option {
	return func(c *config) {
		if len(attrs) > 0 {
			c.attrs = append(c.attrs, attrs...)
		}
	}
}

type config struct {
	level  slog.Level
	format Format
	output io.Writer
	attrs  []slog.Attr
}

// defaultConfig provides production-safe defaults: JSON format with INFO level.
func defaultConfig() *config {
	return &config{
		level:  slog.LevelInfo,
		format: FormatJSON,
		output: os.Stdout,
	}
}

// New creates a configured slog.Logger.
func New(opts ...Option) *slog.Logger {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	handlerOpts := &slog.HandlerOptions{Level: cfg.level}

	var handler slog.Handler
	if cfg.format == FormatText {
		handler = slog.NewTextHandler(cfg.output, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(cfg.output, handlerOpts)
	}

	if len(cfg.attrs) > 0 {
		handler = handler.WithAttrs(cfg.attrs)
	}

	return slog.New(handler)
}

// ErrInvalidFormat is returned when a Config carries an unknown format.
var ErrInvalidFormat = errors.New("logger: invalid format")

// NewFromConfig creates a logger from the provided Config. The format comes
// from the environment, so an unknown value is reported as an error instead
// of panicking the way WithFormat does on programmer mistakes.
// Additional options override config values.
func NewFromConfig(cfg Config, opts ...Option) (*slog.Logger, error) {
	switch cfg.Format {
	case FormatJSON, FormatText:
	default:
		return nil, fmt.Errorf("%w: %q must be %q or %q", ErrInvalidFormat, cfg.Format, FormatJSON, FormatText)
	}

	allOpts := append([]Option{
		WithLevel(cfg.Level),
		WithFormat(cfg.Format),
		WithService(cfg.Service),
	}, opts...)
	return New(allOpts...), nil
}

func SetAsDefault(l *slog.Logger) {
	slog.SetDefault(l)
}

// Discard returns a logger that drops all records. Components use it as the
// default so logging stays opt-in.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
