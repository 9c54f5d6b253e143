package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/DAJ8112/Yanck/internal/app"
	"github.com/DAJ8112/Yanck/internal/config"
	"github.com/DAJ8112/Yanck/internal/logger"
)

func main() {
	if err := newCLI().Run(os.Args); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newCLI() *cli.App {
	return &cli.App{
		Name:  "yanck",
		Usage: "Document ingestion and retrieval service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API and the ingestion worker",
				Action: serveCommand,
			},
			{
				Name:   "reindex",
				Usage:  "Rebuild a tenant's vector index from persisted embeddings",
				Action: reindexCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "tenant",
						Aliases:  []string{"t"},
						Usage:    "Tenant ID to rebuild",
						Required: true,
					},
				},
			},
			{
				Name:   "migrate",
				Usage:  "Apply database migrations and exit",
				Action: migrateCommand,
			},
		},
		DefaultCommand: "serve",
	}
}

func setupLogger(c *cli.Context) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(c.String("log-level")))); err != nil {
		return fmt.Errorf("invalid log level %q", c.String("log-level"))
	}
	slog.SetDefault(logger.New(level))
	return nil
}

func serveCommand(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return run(ctx, cfg, slog.Default())
}

// run bootstraps infrastructure and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer deps.Close()
	logger.Info("migrations applied successfully")

	a, err := app.New(ctx, cfg, deps.DB, deps.NSQProducer, deps.Weaviate, logger, nil)
	if err != nil {
		return fmt.Errorf("app init: %w", err)
	}

	runErr := a.Run(ctx)
	if err := a.Close(context.WithoutCancel(ctx)); err != nil {
		logger.Error("shutdown cleanup failed", "error", err)
	}
	return runErr
}

func reindexCommand(c *cli.Context) error {
	tenant := c.String("tenant")
	if _, err := uuid.Parse(tenant); err != nil {
		return fmt.Errorf("invalid tenant id %q", tenant)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	ctx := c.Context

	db, err := app.OpenDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	var wClient *weaviate.Client
	if cfg.VectorBackend == config.BackendWeaviate {
		if wClient, err = weaviate.NewClient(weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme}); err != nil {
			return fmt.Errorf("weaviate client error: %w", err)
		}
	}

	// Reindexing never publishes, so there is no producer.
	a, err := app.New(ctx, cfg, db, nil, wClient, slog.Default(), nil)
	if err != nil {
		return fmt.Errorf("app init: %w", err)
	}

	if err := a.Indexes.Rebuild(ctx, tenant); err != nil {
		a.Close(ctx)
		return fmt.Errorf("rebuild tenant %s: %w", tenant, err)
	}
	// Close writes the snapshot of the rebuilt tenant.
	if err := a.Close(ctx); err != nil {
		return fmt.Errorf("snapshot tenant %s: %w", tenant, err)
	}
	slog.Info("tenant index rebuilt", "tenant_id", tenant)
	return nil
}

func migrateCommand(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	db, err := app.OpenDB(c.Context, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := app.Migrate(db, cfg.MigrationPath); err != nil {
		return err
	}
	slog.Info("migrations applied successfully")
	return nil
}
