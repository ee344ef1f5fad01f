package main

// Import résumé bullets from files:
//   go run ./cmd/ingest -user guest:abc resume-2023.pdf resume-2024.docx

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"resume-bullets/internal/bootstrap"
	"resume-bullets/internal/bullets"
	"resume-bullets/internal/extract"
	"resume-bullets/internal/shared/config"
	"resume-bullets/internal/shared/storage/db"
	"resume-bullets/internal/shared/telemetry"
	"resume-bullets/internal/shared/util"
)

const batchSize = 200

type observationAdder interface {
	AddObservations(ctx context.Context, userID string, inputs []bullets.ObservationInput) ([]bullets.Observation, error)
}

func main() {
	userID := flag.String("user", "", "user the bullets belong to (required)")
	flag.Parse()

	if *userID == "" || flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: ingest -user <id> <file>...")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		telemetry.Error("ingest.config_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	telemetry.Configure(cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg, bootstrap.Options{DB: db.OptionsFromEnv(db.DefaultWorkerOptions())})
	if err != nil {
		telemetry.Error("ingest.bootstrap_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer app.Close()

	failed := 0
	for _, path := range flag.Args() {
		count, err := ingestFile(ctx, app.BulletsService, *userID, path)
		if err != nil {
			failed++
			telemetry.Error("ingest.file_failed", map[string]any{"path": path, "error": err.Error()})
			continue
		}
		telemetry.Info("ingest.file_done", map[string]any{"path": path, "bullets": count})
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// ingestFile extracts bullets from path and stores them in batches.
func ingestFile(ctx context.Context, svc observationAdder, userID, path string) (int, error) {
	text, err := extract.TextFromFile(ctx, path)
	if err != nil {
		return 0, err
	}
	lines := extract.SplitBullets(text)
	label := util.SourceLabel(path)

	stored := 0
	for start := 0; start < len(lines); start += batchSize {
		end := min(start+batchSize, len(lines))
		inputs := make([]bullets.ObservationInput, 0, end-start)
		for _, line := range lines[start:end] {
			inputs = append(inputs, bullets.ObservationInput{Content: line, SourceLabel: label})
		}
		created, err := svc.AddObservations(ctx, userID, inputs)
		if err != nil {
			return stored, err
		}
		stored += len(created)
	}
	return stored, nil
}
