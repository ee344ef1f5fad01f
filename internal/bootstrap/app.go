package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"resume-bullets/internal/bullets"
	"resume-bullets/internal/dedupe"
	"resume-bullets/internal/embeddings"
	"resume-bullets/internal/queue"
	"resume-bullets/internal/services/health"
	"resume-bullets/internal/shared/auth"
	"resume-bullets/internal/shared/config"
	"resume-bullets/internal/shared/server"
	"resume-bullets/internal/shared/storage/db"
	"resume-bullets/internal/shared/telemetry"
)

// App holds shared dependencies for every binary.
type App struct {
	Config         config.Config
	Router         *gin.Engine
	DB             *sql.DB
	Repo           bullets.Repo
	Embedder       embeddings.Embedder
	Queue          queue.Client
	Signer         *auth.Signer
	BulletsService *bullets.Service
	BulletsHandler *bullets.Handler
}

// Options tunes Build for each binary.
type Options struct {
	DB db.Options
	// SkipMigrations leaves the schema untouched; cmd/migrate owns it explicitly.
	SkipMigrations bool
}

// DefaultOptions suits the API server.
func DefaultOptions() Options {
	return Options{DB: db.OptionsFromEnv(db.DefaultServerOptions())}
}

// Build wires storage, embeddings, queue, service and router from cfg.
func Build(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}

	sqlDB, err := buildDB(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}

	embedder, err := embeddings.New(ctx, embeddings.Settings{
		Provider:     cfg.EmbeddingProvider,
		Model:        cfg.EmbeddingModel,
		Endpoint:     cfg.EmbeddingEndpoint,
		GeminiAPIKey: cfg.GeminiAPIKey,
		APIKey:       cfg.EmbeddingAPIKey,
		Timeout:      cfg.EmbeddingTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings: %w", err)
	}

	queueClient, err := buildQueue(ctx, cfg)
	if err != nil {
		return nil, err
	}

	signer, err := auth.NewSigner(cfg.JWTSecret, cfg.Env)
	if err != nil {
		return nil, err
	}

	var repo bullets.Repo
	if sqlDB != nil {
		repo = &bullets.PGRepo{DB: sqlDB}
	} else {
		repo = bullets.NewMemoryRepo()
	}

	svc := &bullets.Service{
		Repo:     repo,
		Embedder: dedupeEmbedder(embedder),
		Queue:    queueClient,
		Defaults: dedupe.Options{
			SimilarityThreshold: cfg.SimilarityThreshold,
			MaxBullets:          cfg.MaxBullets,
			Concurrency:         cfg.Concurrency,
		},
	}
	handler := bullets.NewHandler(svc)

	app := &App{
		Config:         cfg,
		DB:             sqlDB,
		Repo:           repo,
		Embedder:       embedder,
		Queue:          queueClient,
		Signer:         signer,
		BulletsService: svc,
		BulletsHandler: handler,
	}
	app.Router = server.NewRouter(server.RouterDeps{
		Config:         cfg,
		Verifier:       signer,
		BulletsHandler: handler,
		Health:         health.NewService(sqlDB, cfg.EmbeddingProvider, queueClient != nil),
	})

	telemetry.Info("bootstrap.ready", map[string]any{
		"env":                cfg.Env,
		"storage":            storageName(sqlDB),
		"embedding_provider": cfg.EmbeddingProvider,
		"queue_enabled":      queueClient != nil,
	})
	return app, nil
}

// Close releases the database pool.
func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

func buildDB(ctx context.Context, cfg config.Config, opts Options) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if cfg.IsDevLike() {
			telemetry.Warn("bootstrap.memory_store", map[string]any{"reason": "DATABASE_URL empty"})
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts.DB)
	if err != nil {
		if cfg.IsDevLike() {
			telemetry.Warn("bootstrap.memory_store", map[string]any{"reason": err.Error()})
			return nil, nil
		}
		return nil, err
	}

	if !opts.SkipMigrations {
		if err := db.RunMigrations(ctx, sqlDB); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}
	return sqlDB, nil
}

func buildQueue(ctx context.Context, cfg config.Config) (queue.Client, error) {
	if strings.TrimSpace(cfg.QueueURL) == "" {
		return nil, nil
	}
	client, err := queue.NewSQSClient(ctx, cfg.QueueURL, cfg.AWSRegion)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// dedupeEmbedder keeps the placeholder out of the engine so missing vectors
// become singletons without a logged failure per bullet.
func dedupeEmbedder(e embeddings.Embedder) dedupe.Embedder {
	if _, ok := e.(embeddings.Placeholder); ok || e == nil {
		return nil
	}
	return e
}

func storageName(sqlDB *sql.DB) string {
	if sqlDB == nil {
		return "memory"
	}
	return "postgres"
}
