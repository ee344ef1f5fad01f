package embeddings

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"resume-bullets/internal/shared/telemetry"
)

const retryBaseDelay = 300 * time.Millisecond

// ErrNotConfigured is returned by Placeholder for every call.
var ErrNotConfigured = errors.New("embedding provider not configured")

// Embedder turns bullet text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Func adapts a plain function to Embedder.
type Func func(ctx context.Context, text string) ([]float32, error)

func (f Func) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// Placeholder is used when no provider is configured. Candidates without a
// stored vector stay unmerged.
type Placeholder struct{}

func (Placeholder) Embed(context.Context, string) ([]float32, error) {
	return nil, ErrNotConfigured
}

type retrying struct {
	base     Embedder
	provider string
	delay    time.Duration
}

// NewRetrying wraps base with a single delayed retry on transient failures.
func NewRetrying(base Embedder, provider string) Embedder {
	if base == nil {
		return nil
	}
	return retrying{base: base, provider: provider, delay: retryBaseDelay}
}

func (r retrying) Embed(ctx context.Context, text string) ([]float32, error) {
	vector, err := r.base.Embed(ctx, text)
	if err == nil || !shouldRetry(err) {
		return vector, err
	}

	telemetry.Warn("embedding.retry", map[string]any{
		"provider": r.provider,
		"attempt":  1,
		"error":    err.Error(),
	})
	select {
	case <-time.After(r.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return r.base.Embed(ctx, text)
}

func shouldRetry(err error) bool {
	if err == nil || errors.Is(err, ErrNotConfigured) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "status 5") || strings.Contains(msg, "error 5") ||
		strings.Contains(msg, "unavailable") || strings.Contains(msg, "resource_exhausted") {
		return true
	}
	if strings.Contains(msg, "status 429") || strings.Contains(msg, "error 429") {
		return true
	}
	if strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "tls handshake timeout") ||
		strings.Contains(msg, "eof") {
		return true
	}
	return false
}
