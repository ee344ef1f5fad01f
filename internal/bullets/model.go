package bullets

import (
	"time"

	"resume-bullets/internal/dedupe"
)

// Observation is one bullet as seen on one résumé version or import.
type Observation struct {
	ID              string    `json:"id"`
	UserID          string    `json:"-"`
	Content         string    `json:"content"`
	SourceCount     *int      `json:"sourceCount,omitempty"`
	ImportanceScore *float64  `json:"importanceScore,omitempty"`
	SourceLabel     string    `json:"sourceLabel,omitempty"`
	HasEmbedding    bool      `json:"hasEmbedding"`
	CreatedAt       time.Time `json:"createdAt"`

	// Embedding is set on writes; EncodedEmbedding is what reads return
	// (the vector column cast to text). Either may be empty.
	Embedding        []float32 `json:"-"`
	EncodedEmbedding string    `json:"-"`
}

// Candidate converts the observation for the dedupe engine.
func (o Observation) Candidate() dedupe.Candidate {
	embedding := dedupe.MissingEmbedding()
	switch {
	case len(o.Embedding) > 0:
		embedding = dedupe.PresentEmbedding(o.Embedding)
	case o.EncodedEmbedding != "":
		embedding = dedupe.EncodedEmbedding(o.EncodedEmbedding)
	}
	return dedupe.Candidate{
		ID:              o.ID,
		Content:         o.Content,
		SourceCount:     o.SourceCount,
		ImportanceScore: o.ImportanceScore,
		Embedding:       embedding,
	}
}

// Run records the parameters and outcome of one dedupe pass.
type Run struct {
	ID                  string    `json:"id"`
	UserID              string    `json:"-"`
	SimilarityThreshold float64   `json:"similarityThreshold"`
	MaxBullets          int       `json:"maxBullets"`
	InputCount          int       `json:"inputCount"`
	EmbeddedCount       int       `json:"embeddedCount"`
	EmbeddingFailures   int       `json:"embeddingFailures"`
	ClusterCount        int       `json:"clusterCount"`
	OutputCount         int       `json:"outputCount"`
	RequestID           string    `json:"requestId,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
}

// CanonicalBullet is a persisted DedupedBullet, ordered by Rank (0 is best).
type CanonicalBullet struct {
	ID                string    `json:"id"`
	RunID             string    `json:"runId"`
	UserID            string    `json:"-"`
	Rank              int       `json:"rank"`
	Content           string    `json:"content"`
	RepresentativeID  string    `json:"representativeId"`
	SupportingIDs     []string  `json:"supportingBulletIds"`
	SourceIDs         []string  `json:"sourceIds"`
	SourceCount       int       `json:"sourceCount"`
	AverageSimilarity float64   `json:"averageSimilarity"`
	Embedding         []float32 `json:"-"`
	CreatedAt         time.Time `json:"createdAt"`
}

// RunResult is a run with its canonical bullets.
type RunResult struct {
	Run     Run               `json:"run"`
	Bullets []CanonicalBullet `json:"bullets"`
	Stats   *dedupe.Stats     `json:"stats,omitempty"`
	DryRun  bool              `json:"dryRun,omitempty"`
}
