package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds application configuration.
type Config struct {
	Env              string `envconfig:"ENV" default:"dev"`
	Port             string `envconfig:"PORT" default:"8080"`
	LogLevel         string `envconfig:"LOG_LEVEL" default:"info"`
	DatabaseURL      string `envconfig:"DATABASE_URL"`
	CORSAllowOrigins string `envconfig:"CORS_ALLOW_ORIGINS" default:"http://localhost:5173"`
	JWTSecret        string `envconfig:"JWT_SECRET"`

	EmbeddingProvider string        `envconfig:"EMBEDDING_PROVIDER" default:"none"`
	EmbeddingModel    string        `envconfig:"EMBEDDING_MODEL"`
	EmbeddingEndpoint string        `envconfig:"EMBEDDING_ENDPOINT"`
	EmbeddingTimeout  time.Duration `envconfig:"EMBEDDING_TIMEOUT" default:"30s"`
	GeminiAPIKey      string        `envconfig:"GEMINI_API_KEY"`
	EmbeddingAPIKey   string        `envconfig:"EMBEDDING_API_KEY"`

	SimilarityThreshold float64 `envconfig:"DEDUPE_SIMILARITY_THRESHOLD" default:"0.9"`
	MaxBullets          int     `envconfig:"DEDUPE_MAX_BULLETS" default:"12"`
	Concurrency         int     `envconfig:"DEDUPE_CONCURRENCY" default:"8"`

	QueueURL  string `envconfig:"RA_SQS_QUEUE_URL"`
	AWSRegion string `envconfig:"AWS_REGION"`
}

// Load reads configuration from the environment. Local .env files are loaded
// first on a best-effort basis and never override variables already set.
func Load() (Config, error) {
	loadEnvFiles(".env", "cmd/.env")

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg.Env = normalizeEnv(cfg.Env)
	cfg.EmbeddingProvider = strings.ToLower(strings.TrimSpace(cfg.EmbeddingProvider))

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges and production requirements.
func (c Config) Validate() error {
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("DEDUPE_SIMILARITY_THRESHOLD must be within [0,1], got %v", c.SimilarityThreshold)
	}
	if c.MaxBullets < 1 {
		return fmt.Errorf("DEDUPE_MAX_BULLETS must be >= 1")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("DEDUPE_CONCURRENCY must be >= 1")
	}
	switch c.EmbeddingProvider {
	case "", "none", "http":
	case "gemini":
		if strings.TrimSpace(c.GeminiAPIKey) == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when EMBEDDING_PROVIDER=gemini")
		}
	default:
		return fmt.Errorf("EMBEDDING_PROVIDER must be one of gemini, http, none; got %q", c.EmbeddingProvider)
	}
	if c.Env == "production" {
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
		if strings.TrimSpace(c.JWTSecret) == "" {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
	}
	return nil
}

// IsDevLike reports whether in-memory fallbacks are acceptable.
func (c Config) IsDevLike() bool {
	return c.Env == "dev" || c.Env == "local"
}

// CORSAllowOriginList splits CORS_ALLOW_ORIGINS, dropping blanks and duplicates.
func (c Config) CORSAllowOriginList() []string {
	parts := strings.Split(c.CORSAllowOrigins, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

func loadEnvFiles(paths ...string) {
	for _, path := range paths {
		_ = godotenv.Load(path)
	}
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}
