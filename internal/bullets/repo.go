package bullets

import "context"

// Repo defines persistence for observations, runs and canonical bullets.
type Repo interface {
	CreateObservations(ctx context.Context, observations []Observation) error
	ListObservations(ctx context.Context, userID string) ([]Observation, error)
	DeleteObservation(ctx context.Context, userID, observationID string) error
	// UpdateEmbeddings stores vectors keyed by observation ID.
	UpdateEmbeddings(ctx context.Context, userID string, vectors map[string][]float32) error
	// SaveRun records run and replaces the user's canonical set with bullets.
	SaveRun(ctx context.Context, run Run, bullets []CanonicalBullet) error
	LatestRun(ctx context.Context, userID string) (Run, error)
	ListCanonical(ctx context.Context, userID string) ([]CanonicalBullet, error)
	ListUsersWithObservations(ctx context.Context) ([]string, error)
}
