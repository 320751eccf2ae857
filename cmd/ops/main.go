// Package main implements the ops CLI for the Roadmap backend.
//
// Usage:
//
//	go run ./cmd/ops migrate
//	go run ./cmd/ops seed
//	go run ./cmd/ops push-secrets --env=dev --file=.env.dev [--overwrite]
//
// migrate applies the Postgres migrations (or creates the Mongo indexes when
// STORE_DRIVER=mongo). seed upserts the Free and Pro plans. push-secrets
// copies a dotenv file into SSM Parameter Store and prints the matching
// *_SSM_PARAM bindings for the deployment environment.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"roadmap/internal/billing"
	"roadmap/internal/config"
	"roadmap/internal/db"
	"roadmap/internal/docstore"
	"roadmap/internal/store"
)

// opsConfig is the configuration read by migrate and seed.
type opsConfig struct {
	Environment string `envconfig:"APP_ENV" default:"local"`
	Store       config.StoreConfig
	ProPriceID  string `envconfig:"STRIPE_PRO_PRICE_ID"`
}

var errUsage = errors.New("usage: ops <migrate|seed|push-secrets> [flags]")

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout, logger); err != nil {
		logger.Error("ops command failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer, logger *slog.Logger) error {
	if len(args) == 0 {
		return errUsage
	}

	switch args[0] {
	case "migrate":
		cfg, err := loadOpsConfig()
		if err != nil {
			return err
		}
		return migrate(ctx, cfg, logger)
	case "seed":
		cfg, err := loadOpsConfig()
		if err != nil {
			return err
		}
		return seed(ctx, cfg, stdout, logger)
	case "push-secrets":
		return pushSecrets(ctx, args[1:], stdout, logger)
	default:
		return fmt.Errorf("unknown command %q: %w", args[0], errUsage)
	}
}

func loadOpsConfig() (opsConfig, error) {
	_ = godotenv.Load()

	provider, err := config.SecretProviderFromEnv()
	if err != nil {
		return opsConfig{}, fmt.Errorf("selecting secret provider: %w", err)
	}
	if err := config.ResolveSecrets(provider); err != nil {
		return opsConfig{}, fmt.Errorf("resolving secrets: %w", err)
	}

	var cfg opsConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return opsConfig{}, fmt.Errorf("reading configuration: %w", err)
	}
	return cfg, nil
}

func migrate(ctx context.Context, cfg opsConfig, logger *slog.Logger) error {
	if cfg.Store.Driver == config.StoreDriverMongo {
		client, err := docstore.Connect(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer func() { _ = client.Disconnect(context.WithoutCancel(ctx)) }()

		if err := docstore.EnsureIndexes(ctx, client.Database(cfg.Store.MongoDatabase)); err != nil {
			return fmt.Errorf("creating indexes: %w", err)
		}
		logger.Info("mongo indexes ensured", "database", cfg.Store.MongoDatabase)
		return nil
	}

	pool, err := db.Connect(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer pool.Close()
	return db.Migrate(ctx, pool, logger)
}

func seed(ctx context.Context, cfg opsConfig, stdout io.Writer, logger *slog.Logger) error {
	stores, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() { _ = stores.Close(context.WithoutCancel(ctx)) }()

	if cfg.ProPriceID == "" {
		logger.Warn("STRIPE_PRO_PRICE_ID is empty; checkout stays disabled until it is set")
	}
	plans, err := billing.NewPlanCatalog(stores.Plans, logger).Seed(ctx, cfg.ProPriceID)
	if err != nil {
		return err
	}
	for _, p := range plans {
		fmt.Fprintf(stdout, "%s\t%s\tskills=%d\ttopics_per_month=%d\n", p.ID, p.Name, p.MaxSkills, p.TopicsPerMonth)
	}
	return nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (*store.Set, error) {
	if cfg.Driver == config.StoreDriverMongo {
		client, err := docstore.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return docstore.NewSet(client, cfg.MongoDatabase), nil
	}
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return db.NewSet(pool), nil
}
