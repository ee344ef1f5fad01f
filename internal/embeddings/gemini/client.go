package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const (
	DefaultModel = "text-embedding-004"
	taskType     = "SEMANTIC_SIMILARITY"
)

// Client embeds text with the Gemini embedding API.
type Client struct {
	models embedder
	model  string
}

type embedder interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// New builds a Gemini client. An empty model uses DefaultModel.
func New(ctx context.Context, apiKey, model string) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY is required for the gemini embedding provider")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return newWithModels(client.Models, model), nil
}

func newWithModels(models embedder, model string) *Client {
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultModel
	}
	return &Client{models: models, model: model}
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("gemini embed: empty text")
	}
	resp, err := c.models.EmbedContent(ctx, c.model, genai.Text(text), &genai.EmbedContentConfig{
		TaskType: taskType,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil || len(resp.Embeddings[0].Values) == 0 {
		return nil, errors.New("gemini embed: response missing vector")
	}
	return resp.Embeddings[0].Values, nil
}
