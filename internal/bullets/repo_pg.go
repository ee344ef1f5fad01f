package bullets

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/pgvector/pgvector-go"

	"resume-bullets/internal/dedupe"
)

// PGRepo implements Repo using Postgres with the pgvector extension.
type PGRepo struct {
	DB *sql.DB
}

// CreateObservations inserts observations in one transaction.
func (r *PGRepo) CreateObservations(ctx context.Context, observations []Observation) error {
	const query = `
INSERT INTO bullet_observations (
    id,
    user_id,
    content,
    source_count,
    importance_score,
    embedding,
    source_label,
    created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, o := range observations {
		if _, err := tx.ExecContext(
			ctx,
			query,
			o.ID,
			o.UserID,
			o.Content,
			nullInt(o.SourceCount),
			nullFloat(o.ImportanceScore),
			vectorArg(o.Embedding),
			o.SourceLabel,
			o.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert observation %s: %w", o.ID, err)
		}
	}
	return tx.Commit()
}

// ListObservations returns a user's live observations oldest first. Embeddings
// come back in their text form.
func (r *PGRepo) ListObservations(ctx context.Context, userID string) ([]Observation, error) {
	const query = `
SELECT id, user_id, content, source_count, importance_score, embedding::text, source_label, created_at
FROM bullet_observations
WHERE user_id = $1 AND deleted_at IS NULL
ORDER BY created_at ASC, id ASC`

	rows, err := r.DB.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Observation
	for rows.Next() {
		var (
			o           Observation
			sourceCount sql.NullInt64
			importance  sql.NullFloat64
			embedding   sql.NullString
		)
		if err := rows.Scan(
			&o.ID,
			&o.UserID,
			&o.Content,
			&sourceCount,
			&importance,
			&embedding,
			&o.SourceLabel,
			&o.CreatedAt,
		); err != nil {
			return nil, err
		}
		if sourceCount.Valid {
			v := int(sourceCount.Int64)
			o.SourceCount = &v
		}
		if importance.Valid {
			v := importance.Float64
			o.ImportanceScore = &v
		}
		if embedding.Valid {
			o.EncodedEmbedding = embedding.String
			o.HasEmbedding = true
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// DeleteObservation soft-deletes one observation.
func (r *PGRepo) DeleteObservation(ctx context.Context, userID, observationID string) error {
	const query = `
UPDATE bullet_observations
SET deleted_at = now()
WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`

	res, err := r.DB.ExecContext(ctx, query, observationID, userID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateEmbeddings writes generated vectors back to the user's observations.
func (r *PGRepo) UpdateEmbeddings(ctx context.Context, userID string, vectors map[string][]float32) error {
	const query = `
UPDATE bullet_observations
SET embedding = $1
WHERE id = $2 AND user_id = $3 AND deleted_at IS NULL`

	ids := make([]string, 0, len(vectors))
	for id, vector := range vectors {
		if len(vector) > 0 {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	sort.Strings(ids)

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, query, pgvector.NewVector(vectors[id]), id, userID); err != nil {
			return fmt.Errorf("update embedding %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// SaveRun inserts the run and swaps the user's canonical set atomically.
func (r *PGRepo) SaveRun(ctx context.Context, run Run, bullets []CanonicalBullet) error {
	const insertRun = `
INSERT INTO dedupe_runs (
    id,
    user_id,
    similarity_threshold,
    max_bullets,
    input_count,
    embedded_count,
    embedding_failures,
    cluster_count,
    output_count,
    request_id,
    created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	const lockUser = `SELECT pg_advisory_xact_lock(hashtext($1))`
	const deleteCanonical = `DELETE FROM canonical_bullets WHERE user_id = $1`
	const insertCanonical = `
INSERT INTO canonical_bullets (
    id,
    run_id,
    user_id,
    rank,
    content,
    representative_id,
    supporting_ids,
    source_ids,
    source_count,
    average_similarity,
    embedding,
    created_at
) VALUES (
    $1, $2, $3, $4, $5, $6,
    ARRAY(SELECT jsonb_array_elements_text($7::jsonb)),
    ARRAY(SELECT jsonb_array_elements_text($8::jsonb)),
    $9, $10, $11, $12
)`

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Concurrent runs for one user would collide on (user_id, rank).
	if _, err := tx.ExecContext(ctx, lockUser, run.UserID); err != nil {
		return fmt.Errorf("lock user: %w", err)
	}

	if _, err := tx.ExecContext(
		ctx,
		insertRun,
		run.ID,
		run.UserID,
		run.SimilarityThreshold,
		run.MaxBullets,
		run.InputCount,
		run.EmbeddedCount,
		run.EmbeddingFailures,
		run.ClusterCount,
		run.OutputCount,
		run.RequestID,
		run.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, deleteCanonical, run.UserID); err != nil {
		return fmt.Errorf("clear canonical bullets: %w", err)
	}

	for _, b := range bullets {
		supporting, err := jsonStrings(b.SupportingIDs)
		if err != nil {
			return err
		}
		sources, err := jsonStrings(b.SourceIDs)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(
			ctx,
			insertCanonical,
			b.ID,
			b.RunID,
			b.UserID,
			b.Rank,
			b.Content,
			b.RepresentativeID,
			supporting,
			sources,
			b.SourceCount,
			b.AverageSimilarity,
			vectorArg(b.Embedding),
			b.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert canonical bullet rank=%d: %w", b.Rank, err)
		}
	}
	return tx.Commit()
}

// LatestRun returns the newest run for the user.
func (r *PGRepo) LatestRun(ctx context.Context, userID string) (Run, error) {
	const query = `
SELECT id, user_id, similarity_threshold, max_bullets, input_count, embedded_count, embedding_failures, cluster_count, output_count, request_id, created_at
FROM dedupe_runs
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT 1`

	var run Run
	err := r.DB.QueryRowContext(ctx, query, userID).Scan(
		&run.ID,
		&run.UserID,
		&run.SimilarityThreshold,
		&run.MaxBullets,
		&run.InputCount,
		&run.EmbeddedCount,
		&run.EmbeddingFailures,
		&run.ClusterCount,
		&run.OutputCount,
		&run.RequestID,
		&run.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, ErrNotFound
		}
		return Run{}, err
	}
	return run, nil
}

// ListCanonical returns the user's canonical bullets by rank.
func (r *PGRepo) ListCanonical(ctx context.Context, userID string) ([]CanonicalBullet, error) {
	const query = `
SELECT id, run_id, user_id, rank, content, representative_id,
       array_to_json(supporting_ids)::text, array_to_json(source_ids)::text,
       source_count, average_similarity, embedding::text, created_at
FROM canonical_bullets
WHERE user_id = $1
ORDER BY rank ASC`

	rows, err := r.DB.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CanonicalBullet
	for rows.Next() {
		var (
			b          CanonicalBullet
			supporting string
			sources    string
			embedding  sql.NullString
		)
		if err := rows.Scan(
			&b.ID,
			&b.RunID,
			&b.UserID,
			&b.Rank,
			&b.Content,
			&b.RepresentativeID,
			&supporting,
			&sources,
			&b.SourceCount,
			&b.AverageSimilarity,
			&embedding,
			&b.CreatedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(supporting), &b.SupportingIDs); err != nil {
			return nil, fmt.Errorf("decode supporting ids: %w", err)
		}
		if err := json.Unmarshal([]byte(sources), &b.SourceIDs); err != nil {
			return nil, fmt.Errorf("decode source ids: %w", err)
		}
		if embedding.Valid {
			b.Embedding = dedupe.ParseVector(embedding.String)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListUsersWithObservations returns user IDs with live observations.
func (r *PGRepo) ListUsersWithObservations(ctx context.Context) ([]string, error) {
	const query = `
SELECT DISTINCT user_id
FROM bullet_observations
WHERE deleted_at IS NULL
ORDER BY user_id`

	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		users = append(users, userID)
	}
	return users, rows.Err()
}

func vectorArg(values []float32) any {
	if len(values) == 0 {
		return nil
	}
	return pgvector.NewVector(values)
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func jsonStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encode id list: %w", err)
	}
	return string(raw), nil
}

var _ Repo = (*PGRepo)(nil)
