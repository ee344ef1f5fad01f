package main

// Re-run deduplication from the command line:
//   go run ./cmd/dedupe -user guest:abc -threshold 0.88 -max 10
//   go run ./cmd/dedupe -dry-run            # every user with observations

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"resume-bullets/internal/bootstrap"
	"resume-bullets/internal/bullets"
	"resume-bullets/internal/shared/config"
	"resume-bullets/internal/shared/storage/db"
	"resume-bullets/internal/shared/telemetry"
)

type runner interface {
	Run(ctx context.Context, userID string, req bullets.RunRequest) (bullets.RunResult, error)
}

type userLister interface {
	ListUsersWithObservations(ctx context.Context) ([]string, error)
}

func main() {
	userID := flag.String("user", "", "user to dedupe; empty runs every user with observations")
	threshold := flag.Float64("threshold", -1, "similarity threshold override in [0,1]")
	maxBullets := flag.Int("max", 0, "max canonical bullets override")
	dryRun := flag.Bool("dry-run", false, "compute without replacing canonical bullets")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		telemetry.Error("dedupe_cli.config_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	telemetry.Configure(cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg, bootstrap.Options{DB: db.OptionsFromEnv(db.DefaultWorkerOptions())})
	if err != nil {
		telemetry.Error("dedupe_cli.bootstrap_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer app.Close()

	req := bullets.RunRequest{DryRun: *dryRun}
	if *threshold >= 0 {
		req.SimilarityThreshold = threshold
	}
	if *maxBullets > 0 {
		req.MaxBullets = maxBullets
	}

	failed, err := runAll(ctx, app.BulletsService, app.Repo, *userID, req, os.Stdout)
	if err != nil {
		telemetry.Error("dedupe_cli.failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	if failed > 0 {
		os.Exit(2)
	}
}

// runAll dedupes one user, or every user with observations, writing one JSON
// line per run to out. It returns the number of users whose run failed.
func runAll(ctx context.Context, svc runner, users userLister, userID string, req bullets.RunRequest, out io.Writer) (int, error) {
	targets := []string{userID}
	if userID == "" {
		listed, err := users.ListUsersWithObservations(ctx)
		if err != nil {
			return 0, fmt.Errorf("list users: %w", err)
		}
		targets = listed
	}

	enc := json.NewEncoder(out)
	failed := 0
	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return failed, err
		}
		result, err := svc.Run(ctx, target, req)
		if err != nil {
			failed++
			telemetry.Error("dedupe_cli.user_failed", map[string]any{"user_id": target, "error": err.Error()})
			continue
		}
		if err := enc.Encode(map[string]any{
			"userId":  target,
			"run":     result.Run,
			"bullets": result.Bullets,
			"dryRun":  result.DryRun,
		}); err != nil {
			return failed, err
		}
	}
	return failed, nil
}
