package bullets

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo stores bullets in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu           sync.RWMutex
	observations map[string][]Observation
	runs         map[string][]Run
	canonical    map[string][]CanonicalBullet
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		observations: make(map[string][]Observation),
		runs:         make(map[string][]Run),
		canonical:    make(map[string][]CanonicalBullet),
	}
}

// CreateObservations appends observations in order.
func (r *MemoryRepo) CreateObservations(ctx context.Context, observations []Observation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range observations {
		if len(o.Embedding) > 0 {
			o.HasEmbedding = true
		}
		r.observations[o.UserID] = append(r.observations[o.UserID], o)
	}
	return nil
}

// ListObservations returns a user's observations oldest first.
func (r *MemoryRepo) ListObservations(ctx context.Context, userID string) ([]Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Observation, len(r.observations[userID]))
	copy(out, r.observations[userID])
	return out, nil
}

// DeleteObservation removes one observation.
func (r *MemoryRepo) DeleteObservation(ctx context.Context, userID, observationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.observations[userID]
	for i, o := range list {
		if o.ID == observationID {
			r.observations[userID] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// UpdateEmbeddings sets vectors on matching observations; unknown IDs are ignored.
func (r *MemoryRepo) UpdateEmbeddings(ctx context.Context, userID string, vectors map[string][]float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.observations[userID]
	for i := range list {
		vector, ok := vectors[list[i].ID]
		if !ok || len(vector) == 0 {
			continue
		}
		list[i].Embedding = append([]float32(nil), vector...)
		list[i].HasEmbedding = true
	}
	return nil
}

// SaveRun records run and replaces the user's canonical bullets.
func (r *MemoryRepo) SaveRun(ctx context.Context, run Run, bullets []CanonicalBullet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.UserID] = append(r.runs[run.UserID], run)
	stored := make([]CanonicalBullet, len(bullets))
	copy(stored, bullets)
	r.canonical[run.UserID] = stored
	return nil
}

// LatestRun returns the most recent run for the user.
func (r *MemoryRepo) LatestRun(ctx context.Context, userID string) (Run, error) {
	if err := ctx.Err(); err != nil {
		return Run{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	runs := r.runs[userID]
	if len(runs) == 0 {
		return Run{}, ErrNotFound
	}
	return runs[len(runs)-1], nil
}

// ListCanonical returns the user's canonical bullets by rank.
func (r *MemoryRepo) ListCanonical(ctx context.Context, userID string) ([]CanonicalBullet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CanonicalBullet, len(r.canonical[userID]))
	copy(out, r.canonical[userID])
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out, nil
}

// ListUsersWithObservations returns user IDs with at least one observation, sorted.
func (r *MemoryRepo) ListUsersWithObservations(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]string, 0, len(r.observations))
	for userID, list := range r.observations {
		if len(list) > 0 {
			users = append(users, userID)
		}
	}
	sort.Strings(users)
	return users, nil
}

var _ Repo = (*MemoryRepo)(nil)
