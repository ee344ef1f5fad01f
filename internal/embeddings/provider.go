package embeddings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"resume-bullets/internal/embeddings/gemini"
	"resume-bullets/internal/embeddings/httpembed"
)

// Settings selects and configures the embedding provider.
type Settings struct {
	Provider     string
	Model        string
	Endpoint     string
	GeminiAPIKey string
	APIKey       string
	Timeout      time.Duration
}

// New builds the configured provider wrapped with retry. "none" and "" return
// Placeholder.
func New(ctx context.Context, s Settings) (Embedder, error) {
	provider := strings.ToLower(strings.TrimSpace(s.Provider))
	switch provider {
	case "", "none":
		return Placeholder{}, nil
	case "gemini":
		client, err := gemini.New(ctx, s.GeminiAPIKey, s.Model)
		if err != nil {
			return nil, err
		}
		return NewRetrying(client, provider), nil
	case "http":
		client := httpembed.New(s.Endpoint, s.Model, s.Timeout)
		client.APIKey = s.APIKey
		return NewRetrying(client, provider), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", s.Provider)
	}
}
