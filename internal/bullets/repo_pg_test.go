package bullets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockRepo(t *testing.T) (*PGRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &PGRepo{DB: db}, mock
}

func TestPGRepoCreateObservations(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()
	obs := Observation{
		ID:          "obs-1",
		UserID:      "user-1",
		Content:     "Led the migration",
		SourceCount: intPtr(2),
		SourceLabel: "resume-v2",
		Embedding:   []float32{0.1, 0.2},
		CreatedAt:   now,
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO bullet_observations").
		WithArgs(
			obs.ID,
			obs.UserID,
			obs.Content,
			sqlmock.AnyArg(), // source_count
			sqlmock.AnyArg(), // importance_score
			sqlmock.AnyArg(), // embedding
			obs.SourceLabel,
			obs.CreatedAt,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := repo.CreateObservations(context.Background(), []Observation{obs}); err != nil {
		t.Fatalf("CreateObservations: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoCreateObservationsRollsBack(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO bullet_observations").WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	err := repo.CreateObservations(context.Background(), []Observation{{ID: "obs-1", UserID: "user-1", Content: "x"}})
	if err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoListObservations(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "user_id", "content", "source_count", "importance_score", "embedding", "source_label", "created_at",
	}).
		AddRow("obs-1", "user-1", "Led the migration", int64(3), 1.5, "[0.1,0.2]", "resume-v1", now).
		AddRow("obs-2", "user-1", "Ran interviews", nil, nil, nil, "", now)

	mock.ExpectQuery("FROM bullet_observations").
		WithArgs("user-1").
		WillReturnRows(rows)

	got, err := repo.ListObservations(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ListObservations: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(got))
	}
	first := got[0]
	if first.SourceCount == nil || *first.SourceCount != 3 {
		t.Fatalf("unexpected source count %v", first.SourceCount)
	}
	if first.ImportanceScore == nil || *first.ImportanceScore != 1.5 {
		t.Fatalf("unexpected importance %v", first.ImportanceScore)
	}
	if !first.HasEmbedding || first.EncodedEmbedding != "[0.1,0.2]" {
		t.Fatalf("unexpected embedding %+v", first)
	}
	if first.Candidate().Embedding.IsMissing() {
		t.Fatalf("expected encoded embedding on candidate")
	}

	second := got[1]
	if second.SourceCount != nil || second.ImportanceScore != nil || second.HasEmbedding {
		t.Fatalf("expected nulls to stay unset: %+v", second)
	}
	if !second.Candidate().Embedding.IsMissing() {
		t.Fatalf("expected missing embedding on candidate")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoDeleteObservationNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("UPDATE bullet_observations").
		WithArgs("obs-9", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.DeleteObservation(context.Background(), "user-1", "obs-9"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoSaveRunReplacesCanonical(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()
	run := Run{
		ID:                  "run-1",
		UserID:              "user-1",
		SimilarityThreshold: 0.9,
		MaxBullets:          12,
		InputCount:          3,
		EmbeddedCount:       1,
		ClusterCount:        2,
		OutputCount:         2,
		RequestID:           "req-1",
		CreatedAt:           now,
	}
	bullet := CanonicalBullet{
		ID:                "cb-1",
		RunID:             run.ID,
		UserID:            run.UserID,
		Rank:              0,
		Content:           "Led the migration",
		RepresentativeID:  "obs-1",
		SupportingIDs:     []string{"obs-2"},
		SourceIDs:         []string{"obs-1", "obs-2"},
		SourceCount:       3,
		AverageSimilarity: 0.975,
		CreatedAt:         now,
	}

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").
		WithArgs(run.UserID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO dedupe_runs").
		WithArgs(
			run.ID, run.UserID, run.SimilarityThreshold, run.MaxBullets, run.InputCount,
			run.EmbeddedCount, run.EmbeddingFailures, run.ClusterCount, run.OutputCount,
			run.RequestID, run.CreatedAt,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM canonical_bullets").
		WithArgs(run.UserID).
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec("INSERT INTO canonical_bullets").
		WithArgs(
			bullet.ID,
			bullet.RunID,
			bullet.UserID,
			bullet.Rank,
			bullet.Content,
			bullet.RepresentativeID,
			`["obs-2"]`,
			`["obs-1","obs-2"]`,
			bullet.SourceCount,
			bullet.AverageSimilarity,
			nil, // embedding
			bullet.CreatedAt,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := repo.SaveRun(context.Background(), run, []CanonicalBullet{bullet}); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoSaveRunRollsBackOnFailure(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs("user-1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO dedupe_runs").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM canonical_bullets").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO canonical_bullets").WillReturnError(errors.New("unique violation"))
	mock.ExpectRollback()

	err := repo.SaveRun(context.Background(), Run{ID: "run-1", UserID: "user-1"}, []CanonicalBullet{{ID: "cb-1"}})
	if err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoLatestRunNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("FROM dedupe_runs").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := repo.LatestRun(context.Background(), "user-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGRepoListCanonical(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "run_id", "user_id", "rank", "content", "representative_id",
		"supporting_ids", "source_ids", "source_count", "average_similarity", "embedding", "created_at",
	}).AddRow("cb-1", "run-1", "user-1", int64(0), "Led the migration", "obs-1",
		`["obs-2"]`, `["obs-1","obs-2"]`, int64(3), 0.975, "[0.5,0.25]", now)

	mock.ExpectQuery("FROM canonical_bullets").
		WithArgs("user-1").
		WillReturnRows(rows)

	got, err := repo.ListCanonical(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ListCanonical: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 bullet, got %d", len(got))
	}
	b := got[0]
	if len(b.SupportingIDs) != 1 || b.SupportingIDs[0] != "obs-2" || len(b.SourceIDs) != 2 {
		t.Fatalf("unexpected id lists %+v", b)
	}
	if len(b.Embedding) != 2 || b.Embedding[1] != 0.25 {
		t.Fatalf("unexpected embedding %v", b.Embedding)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoListUsersWithObservations(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT DISTINCT user_id").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("user-1").AddRow("user-2"))

	users, err := repo.ListUsersWithObservations(context.Background())
	if err != nil {
		t.Fatalf("ListUsersWithObservations: %v", err)
	}
	if len(users) != 2 || users[0] != "user-1" || users[1] != "user-2" {
		t.Fatalf("unexpected users %v", users)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGRepoUpdateEmbeddings(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE bullet_observations").
		WithArgs(sqlmock.AnyArg(), "obs-1", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE bullet_observations").
		WithArgs(sqlmock.AnyArg(), "obs-2", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.UpdateEmbeddings(context.Background(), "user-1", map[string][]float32{
		"obs-2": {0, 1},
		"obs-1": {1, 0},
		"obs-3": nil,
	})
	if err != nil {
		t.Fatalf("UpdateEmbeddings: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoUpdateEmbeddingsSkipsEmptyInput(t *testing.T) {
	repo, mock := newMockRepo(t)

	if err := repo.UpdateEmbeddings(context.Background(), "user-1", nil); err != nil {
		t.Fatalf("UpdateEmbeddings: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}
