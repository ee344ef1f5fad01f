package dedupe

import (
	"context"
	"math"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"resume-bullets/internal/shared/telemetry"
)

const (
	DefaultSimilarityThreshold = 0.9
	DefaultMaxBullets          = 12
	DefaultConcurrency         = 8
)

// Embedder generates an embedding for bullet text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options controls one deduplication call.
type Options struct {
	SimilarityThreshold float64
	MaxBullets          int
	// Concurrency bounds in-flight embedding calls; <= 0 uses DefaultConcurrency.
	Concurrency int
	// Embedder is used for candidates with no stored vector; nil disables generation.
	Embedder Embedder
}

// DefaultOptions returns the stock threshold, cap and fan-out with no embedder.
func DefaultOptions() Options {
	return Options{
		SimilarityThreshold: DefaultSimilarityThreshold,
		MaxBullets:          DefaultMaxBullets,
		Concurrency:         DefaultConcurrency,
	}
}

// Stats summarizes a deduplication call.
type Stats struct {
	Input           int `json:"input"`
	Usable          int `json:"usable"`
	Embedded        int `json:"embedded"`
	EmbeddingFailed int `json:"embeddingFailed"`
	Clusters        int `json:"clusters"`
	Returned        int `json:"returned"`
	// Generated holds vectors produced by the embedder during this call, keyed
	// by candidate ID, so callers can store them.
	Generated map[string][]float32 `json:"-"`
}

// Dedupe clusters near-duplicate bullets and returns one DedupedBullet per
// retained cluster, best cluster first. Candidates with empty content are
// dropped. Embedding failures are logged and leave the candidate unmergeable.
func Dedupe(ctx context.Context, candidates []Candidate, opts Options) ([]DedupedBullet, error) {
	out, _, err := DedupeWithStats(ctx, candidates, opts)
	return out, err
}

// DedupeWithStats is Dedupe plus counters for logging and metrics.
func DedupeWithStats(ctx context.Context, candidates []Candidate, opts Options) ([]DedupedBullet, Stats, error) {
	stats := Stats{Input: len(candidates)}

	normalized, embedded, failed, err := normalizeAll(ctx, candidates, opts)
	stats.Usable = len(normalized)
	stats.Embedded = embedded
	stats.EmbeddingFailed = failed
	if err != nil {
		return nil, stats, err
	}
	for _, nc := range normalized {
		if !nc.generated || nc.ID == "" {
			continue
		}
		if stats.Generated == nil {
			stats.Generated = make(map[string][]float32)
		}
		stats.Generated[nc.ID] = nc.vector
	}
	if len(normalized) == 0 {
		return []DedupedBullet{}, stats, nil
	}

	clusters := assignClusters(normalized, clampThreshold(opts.SimilarityThreshold))
	stats.Clusters = len(clusters)

	top := selectTop(clusters, opts.MaxBullets)
	out := make([]DedupedBullet, 0, len(top))
	for _, c := range top {
		out = append(out, c.toDeduped())
	}
	stats.Returned = len(out)
	return out, stats, nil
}

func clampThreshold(threshold float64) float64 {
	switch {
	case math.IsNaN(threshold):
		return DefaultSimilarityThreshold
	case threshold < 0:
		return 0
	case threshold > 1:
		return 1
	default:
		return threshold
	}
}

func normalizeAll(ctx context.Context, candidates []Candidate, opts Options) ([]*normalizedCandidate, int, int, error) {
	usable := make([]*normalizedCandidate, 0, len(candidates))
	for _, c := range candidates {
		content := strings.TrimSpace(c.Content)
		if content == "" {
			continue
		}
		c.Content = content
		usable = append(usable, &normalizedCandidate{Candidate: c})
	}

	limit := opts.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	var embedded, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, nc := range usable {
		nc.vector = nc.Embedding.resolve()
		if nc.vector != nil || opts.Embedder == nil {
			continue
		}
		g.Go(func() error {
			vector, err := opts.Embedder.Embed(gctx, nc.Content)
			if err != nil {
				failed.Add(1)
				telemetry.Error("dedupe.embedding_failed", map[string]any{
					"bullet_id": nc.ID,
					"error":     err.Error(),
				})
				return nil
			}
			if len(vector) == 0 {
				failed.Add(1)
				telemetry.Error("dedupe.embedding_failed", map[string]any{
					"bullet_id": nc.ID,
					"error":     "empty vector",
				})
				return nil
			}
			nc.vector = vector
			nc.generated = true
			embedded.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, int(embedded.Load()), int(failed.Load()), err
	}

	for _, nc := range usable {
		nc.sourceCount = 1
		if nc.SourceCount != nil && *nc.SourceCount > 1 {
			nc.sourceCount = *nc.SourceCount
		}
		if nc.ImportanceScore != nil {
			nc.importance = *nc.ImportanceScore
		}
		nc.signals = AnalyzeContent(nc.Content)
		nc.score = CandidateScore(nc.sourceCount, nc.importance, nc.signals)
	}
	return usable, int(embedded.Load()), int(failed.Load()), nil
}
