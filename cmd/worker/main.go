package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"resume-bullets/internal/bootstrap"
	"resume-bullets/internal/queue"
	"resume-bullets/internal/shared/config"
	"resume-bullets/internal/shared/metrics"
	"resume-bullets/internal/shared/storage/db"
	"resume-bullets/internal/shared/telemetry"
	"resume-bullets/internal/workerproc"
)

const (
	defaultVisibilitySeconds  = 300
	defaultWorkerConcurrency  = 4
	defaultShutdownTimeoutSec = 30
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		telemetry.Error("worker.config_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	telemetry.Configure(cfg.Env, cfg.LogLevel)

	queueURL := strings.TrimSpace(cfg.QueueURL)
	if queueURL == "" {
		telemetry.Error("worker.config_failed", map[string]any{"error": "RA_SQS_QUEUE_URL is required"})
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	visibilitySeconds := envInt("RA_SQS_VISIBILITY_TIMEOUT_SECONDS", defaultVisibilitySeconds)
	concurrency := envInt("RA_WORKER_CONCURRENCY", defaultWorkerConcurrency)
	shutdownTimeout := time.Duration(envInt("RA_SHUTDOWN_TIMEOUT_SECONDS", defaultShutdownTimeoutSec)) * time.Second

	awsCfg, err := queue.LoadAWSConfig(ctx, cfg.AWSRegion)
	if err != nil {
		telemetry.Error("worker.aws_config_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	var sqsClient sqsAPI = sqs.NewFromConfig(awsCfg)

	app, err := bootstrap.Build(ctx, cfg, bootstrap.Options{DB: db.OptionsFromEnv(db.DefaultWorkerOptions())})
	if err != nil {
		telemetry.Error("worker.bootstrap_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer app.Close()

	sem := make(chan struct{}, max(1, concurrency))
	var wg sync.WaitGroup

	telemetry.Info("worker.started", map[string]any{
		"queue_url":          queueURL,
		"concurrency":        concurrency,
		"visibility_seconds": visibilitySeconds,
	})

pollLoop:
	for {
		select {
		case <-ctx.Done():
			break pollLoop
		default:
		}

		resp, err := sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
			VisibilityTimeout:   int32(visibilitySeconds),
			MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{
				sqstypes.MessageSystemAttributeNameApproximateReceiveCount,
			},
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				break pollLoop
			}
			telemetry.Error("worker.receive_failed", map[string]any{"error": err.Error()})
			continue
		}

		for _, msg := range resp.Messages {
			select {
			case <-ctx.Done():
				break pollLoop
			case sem <- struct{}{}:
			}
			wg.Add(1)
			go func(m sqstypes.Message) {
				defer wg.Done()
				defer func() { <-sem }()
				handleMessage(ctx, sqsClient, queueURL, app.BulletsService, m)
			}(msg)
		}
	}

	telemetry.Info("worker.draining", map[string]any{"timeout_ms": shutdownTimeout.Milliseconds()})
	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(shutdownTimeout):
		telemetry.Warn("worker.shutdown_timeout", map[string]any{})
	}
}

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// handleMessage runs one dedupe job. Successful and unrecoverable messages are
// deleted; transient failures stay on the queue for redelivery.
func handleMessage(ctx context.Context, client sqsAPI, queueURL string, runner workerproc.Runner, msg sqstypes.Message) {
	metrics.QueueMessageHandled()
	body := aws.ToString(msg.Body)

	result, err := workerproc.HandleMessage(ctx, runner, body)
	if err == nil {
		fields := baseFields(msg, result.Run.UserID, result.Run.RequestID)
		fields["run_id"] = result.Run.ID
		fields["output_count"] = result.Run.OutputCount
		deleteMessage(ctx, client, queueURL, msg, fields)
		telemetry.Info("worker.dedupe.completed", fields)
		return
	}

	fields := baseFields(msg, "", "")
	fields["error"] = err.Error()

	var (
		decodeErr  workerproc.ErrDecode
		missingErr workerproc.ErrMissingUserID
		processErr workerproc.ErrProcess
	)
	switch {
	case errors.As(err, &decodeErr):
		fields["body_len"] = decodeErr.Meta.BodyLen
		fields["body_sha256"] = decodeErr.Meta.BodySHA
	case errors.As(err, &missingErr):
		fields["body_len"] = missingErr.Meta.BodyLen
		if missingErr.RequestID != "" {
			fields["request_id"] = missingErr.RequestID
		}
	case errors.As(err, &processErr):
		fields["user_id"] = processErr.UserID
		if processErr.RequestID != "" {
			fields["request_id"] = processErr.RequestID
		}
	}

	if workerproc.Retryable(err) {
		telemetry.Error("worker.dedupe.failed", fields)
		return
	}
	telemetry.Error("worker.dedupe.unrecoverable", fields)
	deleteMessage(ctx, client, queueURL, msg, fields)
}

func deleteMessage(ctx context.Context, client sqsAPI, queueURL string, msg sqstypes.Message, fields map[string]any) bool {
	receipt := aws.ToString(msg.ReceiptHandle)
	if receipt == "" {
		telemetry.Error("worker.delete_failed", withError(fields, "missing receipt handle"))
		return false
	}
	if _, err := client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receipt),
	}); err != nil {
		telemetry.Error("worker.delete_failed", withError(fields, err.Error()))
		return false
	}
	return true
}

func withError(fields map[string]any, msg string) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["delete_error"] = msg
	return out
}

func baseFields(msg sqstypes.Message, userID, requestID string) map[string]any {
	fields := map[string]any{
		"sqs_message_id": aws.ToString(msg.MessageId),
		"receive_count":  receiveCount(msg),
	}
	if userID != "" {
		fields["user_id"] = userID
	}
	if strings.TrimSpace(requestID) != "" {
		fields["request_id"] = requestID
	}
	return fields
}

func receiveCount(msg sqstypes.Message) int {
	raw := msg.Attributes[string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount)]
	if raw == "" {
		return 0
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return parsed
}

func envInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return def
	}
	return val
}
