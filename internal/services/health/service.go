package health

import (
	"context"
	"database/sql"
	"time"

	"resume-bullets/internal/shared/storage/db"
)

const pingTimeout = 2 * time.Second

// Service reports process and dependency health.
type Service struct {
	DB            *sql.DB
	EmbedProvider string
	QueueEnabled  bool
}

// NewService constructs a health service. A nil database means the in-memory store.
func NewService(database *sql.DB, embedProvider string, queueEnabled bool) *Service {
	return &Service{DB: database, EmbedProvider: embedProvider, QueueEnabled: queueEnabled}
}

// Status is the health payload.
type Status struct {
	OK         bool   `json:"ok"`
	Storage    string `json:"storage"`
	Embeddings string `json:"embeddings"`
	Queue      bool   `json:"queue"`
}

// Check pings the database when one is configured.
func (s *Service) Check(ctx context.Context) Status {
	status := Status{OK: true, Storage: "memory", Embeddings: s.EmbedProvider, Queue: s.QueueEnabled}
	if status.Embeddings == "" {
		status.Embeddings = "none"
	}
	if s.DB == nil {
		return status
	}
	if err := db.Ping(ctx, s.DB, pingTimeout); err != nil {
		status.OK = false
		status.Storage = "unavailable"
		return status
	}
	status.Storage = "postgres"
	return status
}
