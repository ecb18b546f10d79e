package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/notifykit/pkg/apikey"
	"github.com/dmitrymomot/notifykit/pkg/broker"
	"github.com/dmitrymomot/notifykit/pkg/config"
	"github.com/dmitrymomot/notifykit/pkg/httpserver"
	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/queue"
	"github.com/dmitrymomot/notifykit/pkg/registry"
)

type appConfig struct {
	Logger   logger.Config
	HTTP     httpserver.Config
	Queue    queue.Config
	Registry registry.Config
	Broker   broker.Config

	// SigningKey authenticates issued API keys. Required.
	SigningKey string `env:"APIKEY_SIGNING_KEY,required"`

	// SeedKeys issues keys at startup for environments without a
	// provisioning flow. Comma-separated labels; the generated secrets
	// are printed once to stdout.
	SeedKeys string `env:"BROKER_SEED_KEYS"`
}

func main() {
	if err := run(); err != nil {
		slog.Error("broker exited", logger.Error(err))
		os.Exit(1)
	}
}

func run() error {
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		return err
	}

	log, err := logger.NewFromConfig(cfg.Logger)
	if err != nil {
		return err
	}
	logger.SetAsDefault(log)

	store, err := apikey.NewStore([]byte(cfg.SigningKey), apikey.WithLogger(log))
	if err != nil {
		return err
	}
	if err := seedKeys(store, cfg.SeedKeys); err != nil {
		return err
	}

	reg, err := registry.NewFromConfig(cfg.Registry, store, registry.WithLogger(log))
	if err != nil {
		return err
	}

	q := queue.NewFromConfig(cfg.Queue, queue.WithLogger(log))

	svc, err := broker.New(cfg.Broker, store, reg, q, broker.WithLogger(log))
	if err != nil {
		return err
	}
	defer svc.Close()

	srv := httpserver.New(cfg.HTTP, httpserver.WithLogger(log))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(q.Run(ctx))
	g.Go(svc.Heartbeat().Run(ctx))
	g.Go(func() error {
		defer cancel()
		return srv.Run(ctx, svc.Router())
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// seedKeys issues one key per comma-separated label and prints the secrets.
// Intended for development; production should provision through /api/keys.
func seedKeys(store *apikey.Store, labels string) error {
	for _, label := range strings.Split(labels, ",") {
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		key, err := store.Issue(label, "")
		if err != nil {
			return err
		}
		slog.Info("seeded api key", slog.String("label", label), slog.String("key", key))
	}
	return nil
}
