package bullets

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"resume-bullets/internal/dedupe"
	"resume-bullets/internal/queue"
	"resume-bullets/internal/shared/metrics"
	"resume-bullets/internal/shared/telemetry"
)

const (
	maxObservationsPerRequest = 200
	maxPreviewBullets         = 500
	maxContentRunes           = 1000
	maxBulletsLimit           = 100
	maxUserIDLength           = 256
)

// Service coordinates observation storage, dedupe runs and canonical sets.
type Service struct {
	Repo     Repo
	Embedder dedupe.Embedder
	Queue    queue.Client
	Defaults dedupe.Options

	Now   func() time.Time
	NewID func() string
}

// ObservationInput is one bullet to record.
type ObservationInput struct {
	Content         string    `json:"content"`
	SourceCount     *int      `json:"sourceCount,omitempty"`
	ImportanceScore *float64  `json:"importanceScore,omitempty"`
	SourceLabel     string    `json:"sourceLabel,omitempty"`
	Embedding       []float32 `json:"embedding,omitempty"`
}

// RunRequest carries per-run overrides. Nil fields use service defaults.
type RunRequest struct {
	SimilarityThreshold *float64 `json:"similarityThreshold,omitempty"`
	MaxBullets          *int     `json:"maxBullets,omitempty"`
	RequestID           string   `json:"-"`
	DryRun              bool     `json:"dryRun,omitempty"`
}

func checkUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if len(userID) > maxUserIDLength {
		return fmt.Errorf("%w: user id exceeds %d bytes", ErrInvalidInput, maxUserIDLength)
	}
	return nil
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

// AddObservations validates and stores bullets for userID.
func (s *Service) AddObservations(ctx context.Context, userID string, inputs []ObservationInput) ([]Observation, error) {
	if err := checkUserID(userID); err != nil {
		return nil, err
	}
	if len(inputs) == 0 || len(inputs) > maxObservationsPerRequest {
		return nil, fmt.Errorf("%w: between 1 and %d bullets required", ErrInvalidInput, maxObservationsPerRequest)
	}

	now := s.now()
	observations := make([]Observation, 0, len(inputs))
	for i, in := range inputs {
		content, err := validateContent(in.Content)
		if err != nil {
			return nil, fmt.Errorf("bullets[%d]: %w", i, err)
		}
		if in.SourceCount != nil && *in.SourceCount < 1 {
			return nil, fmt.Errorf("%w: bullets[%d].sourceCount must be >= 1", ErrInvalidInput, i)
		}
		if in.ImportanceScore != nil && !isFinite(*in.ImportanceScore) {
			return nil, fmt.Errorf("%w: bullets[%d].importanceScore must be finite", ErrInvalidInput, i)
		}
		observations = append(observations, Observation{
			ID:              s.newID(),
			UserID:          userID,
			Content:         content,
			SourceCount:     in.SourceCount,
			ImportanceScore: in.ImportanceScore,
			SourceLabel:     strings.TrimSpace(in.SourceLabel),
			HasEmbedding:    len(in.Embedding) > 0,
			Embedding:       in.Embedding,
			CreatedAt:       now,
		})
	}

	if err := s.Repo.CreateObservations(ctx, observations); err != nil {
		return nil, err
	}
	telemetry.Info("bullets.observations_added", map[string]any{
		"user_id": userID,
		"count":   len(observations),
	})
	return observations, nil
}

// ListObservations returns the user's stored bullets.
func (s *Service) ListObservations(ctx context.Context, userID string) ([]Observation, error) {
	observations, err := s.Repo.ListObservations(ctx, userID)
	if err != nil {
		return nil, err
	}
	if observations == nil {
		observations = []Observation{}
	}
	return observations, nil
}

// DeleteObservation removes one of the user's bullets.
func (s *Service) DeleteObservation(ctx context.Context, userID, observationID string) error {
	if _, err := uuid.Parse(observationID); err != nil {
		return ErrNotFound
	}
	return s.Repo.DeleteObservation(ctx, userID, observationID)
}

// Run deduplicates the user's observations and, unless req.DryRun, replaces
// their canonical set with the result.
func (s *Service) Run(ctx context.Context, userID string, req RunRequest) (RunResult, error) {
	if err := checkUserID(userID); err != nil {
		return RunResult{}, err
	}
	opts, err := s.options(req.SimilarityThreshold, req.MaxBullets)
	if err != nil {
		return RunResult{}, err
	}

	observations, err := s.Repo.ListObservations(ctx, userID)
	if err != nil {
		return RunResult{}, fmt.Errorf("load observations: %w", err)
	}
	candidates := make([]dedupe.Candidate, 0, len(observations))
	for _, o := range observations {
		candidates = append(candidates, o.Candidate())
	}

	start := time.Now()
	metrics.RunStarted()
	deduped, stats, err := dedupe.DedupeWithStats(ctx, candidates, opts)
	metrics.EmbeddingCalls(stats.Embedded, stats.EmbeddingFailed)
	if err != nil {
		metrics.RunFailed()
		return RunResult{}, fmt.Errorf("dedupe: %w", err)
	}

	now := s.now()
	run := Run{
		ID:                  s.newID(),
		UserID:              userID,
		SimilarityThreshold: opts.SimilarityThreshold,
		MaxBullets:          opts.MaxBullets,
		InputCount:          stats.Input,
		EmbeddedCount:       stats.Embedded,
		EmbeddingFailures:   stats.EmbeddingFailed,
		ClusterCount:        stats.Clusters,
		OutputCount:         stats.Returned,
		RequestID:           req.RequestID,
		CreatedAt:           now,
	}
	canonical := make([]CanonicalBullet, 0, len(deduped))
	for rank, d := range deduped {
		canonical = append(canonical, CanonicalBullet{
			ID:                s.newID(),
			RunID:             run.ID,
			UserID:            userID,
			Rank:              rank,
			Content:           d.Content,
			RepresentativeID:  d.RepresentativeID,
			SupportingIDs:     d.SupportingIDs,
			SourceIDs:         d.SourceIDs,
			SourceCount:       d.SourceCount,
			AverageSimilarity: d.AverageSimilarity,
			Embedding:         d.Embedding,
			CreatedAt:         now,
		})
	}

	if !req.DryRun && len(stats.Generated) > 0 {
		if err := s.Repo.UpdateEmbeddings(ctx, userID, stats.Generated); err != nil {
			telemetry.Warn("bullets.embeddings_not_saved", map[string]any{
				"user_id": userID,
				"run_id":  run.ID,
				"count":   len(stats.Generated),
				"error":   err.Error(),
			})
		}
	}
	if !req.DryRun {
		if err := s.Repo.SaveRun(ctx, run, canonical); err != nil {
			metrics.RunFailed()
			return RunResult{}, fmt.Errorf("save run: %w", err)
		}
	}

	durationMs := metrics.SinceMillis(start)
	metrics.RunCompleted(stats.Input, stats.Returned, durationMs)
	telemetry.Info("dedupe.run_complete", map[string]any{
		"user_id":          userID,
		"run_id":           run.ID,
		"request_id":       req.RequestID,
		"input":            stats.Input,
		"usable":           stats.Usable,
		"embedded":         stats.Embedded,
		"embedding_failed": stats.EmbeddingFailed,
		"clusters":         stats.Clusters,
		"returned":         stats.Returned,
		"threshold":        opts.SimilarityThreshold,
		"dry_run":          req.DryRun,
		"duration_ms":      durationMs,
	})

	return RunResult{Run: run, Bullets: canonical, Stats: &stats, DryRun: req.DryRun}, nil
}

// Canonical returns the latest run and its canonical bullets.
func (s *Service) Canonical(ctx context.Context, userID string) (RunResult, error) {
	run, err := s.Repo.LatestRun(ctx, userID)
	if err != nil {
		return RunResult{}, err
	}
	bullets, err := s.Repo.ListCanonical(ctx, userID)
	if err != nil {
		return RunResult{}, err
	}
	if bullets == nil {
		bullets = []CanonicalBullet{}
	}
	return RunResult{Run: run, Bullets: bullets}, nil
}

// PreviewRequest is a stateless dedupe over caller-supplied bullets.
type PreviewRequest struct {
	Bullets             []PreviewBullet `json:"bullets"`
	SimilarityThreshold *float64        `json:"similarityThreshold,omitempty"`
	MaxBullets          *int            `json:"maxBullets,omitempty"`
}

// PreviewResult is the outcome of Preview.
type PreviewResult struct {
	Bullets []dedupe.DedupedBullet `json:"bullets"`
	Stats   dedupe.Stats           `json:"stats"`
}

// Preview runs dedupe on req.Bullets without touching storage.
func (s *Service) Preview(ctx context.Context, req PreviewRequest) (PreviewResult, error) {
	if len(req.Bullets) == 0 || len(req.Bullets) > maxPreviewBullets {
		return PreviewResult{}, fmt.Errorf("%w: between 1 and %d bullets required", ErrInvalidInput, maxPreviewBullets)
	}
	opts, err := s.options(req.SimilarityThreshold, req.MaxBullets)
	if err != nil {
		return PreviewResult{}, err
	}

	candidates := make([]dedupe.Candidate, 0, len(req.Bullets))
	for i, b := range req.Bullets {
		if utf8.RuneCountInString(b.Content) > maxContentRunes {
			return PreviewResult{}, fmt.Errorf("%w: bullets[%d].content exceeds %d characters", ErrInvalidInput, i, maxContentRunes)
		}
		candidates = append(candidates, b.Candidate())
	}

	deduped, stats, err := dedupe.DedupeWithStats(ctx, candidates, opts)
	metrics.EmbeddingCalls(stats.Embedded, stats.EmbeddingFailed)
	if err != nil {
		return PreviewResult{}, fmt.Errorf("dedupe: %w", err)
	}
	for i := range deduped {
		deduped[i].Embedding = nil
	}
	return PreviewResult{Bullets: deduped, Stats: stats}, nil
}

// Enqueue schedules an asynchronous run for userID.
func (s *Service) Enqueue(ctx context.Context, userID string, req RunRequest) (queue.Message, error) {
	if s.Queue == nil {
		return queue.Message{}, ErrQueueUnavailable
	}
	if err := checkUserID(userID); err != nil {
		return queue.Message{}, err
	}
	if _, err := s.options(req.SimilarityThreshold, req.MaxBullets); err != nil {
		return queue.Message{}, err
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = s.newID()
	}
	msg := queue.NewMessage(userID, requestID, s.now())
	msg.SimilarityThreshold = req.SimilarityThreshold
	msg.MaxBullets = req.MaxBullets

	if err := s.Queue.Send(ctx, msg); err != nil {
		return queue.Message{}, fmt.Errorf("enqueue dedupe: %w", err)
	}
	telemetry.Info("dedupe.enqueued", map[string]any{
		"user_id":    userID,
		"request_id": requestID,
	})
	return msg, nil
}

// RunQueued executes a run described by a queue message.
func (s *Service) RunQueued(ctx context.Context, msg queue.Message) (RunResult, error) {
	return s.Run(ctx, msg.UserID, RunRequest{
		SimilarityThreshold: msg.SimilarityThreshold,
		MaxBullets:          msg.MaxBullets,
		RequestID:           msg.RequestID,
	})
}

func (s *Service) options(threshold *float64, maxBullets *int) (dedupe.Options, error) {
	opts := s.Defaults
	if opts.SimilarityThreshold == 0 && opts.MaxBullets == 0 {
		opts = dedupe.DefaultOptions()
	}
	opts.Embedder = s.Embedder

	if threshold != nil {
		if !isFinite(*threshold) || *threshold < 0 || *threshold > 1 {
			return dedupe.Options{}, fmt.Errorf("%w: similarityThreshold must be within [0,1]", ErrInvalidInput)
		}
		opts.SimilarityThreshold = *threshold
	}
	if maxBullets != nil {
		if *maxBullets < 1 || *maxBullets > maxBulletsLimit {
			return dedupe.Options{}, fmt.Errorf("%w: maxBullets must be between 1 and %d", ErrInvalidInput, maxBulletsLimit)
		}
		opts.MaxBullets = *maxBullets
	}
	return opts, nil
}

func validateContent(raw string) (string, error) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return "", fmt.Errorf("%w: content is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(content) > maxContentRunes {
		return "", fmt.Errorf("%w: content exceeds %d characters", ErrInvalidInput, maxContentRunes)
	}
	return content, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// IsClientError reports whether err should surface as a 4xx.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrNotFound)
}
