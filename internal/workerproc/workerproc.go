package workerproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	"resume-bullets/internal/bullets"
	"resume-bullets/internal/queue"
)

// Runner executes the dedupe run a queue message asks for.
type Runner interface {
	RunQueued(ctx context.Context, msg queue.Message) (bullets.RunResult, error)
}

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{}
	}
	sum := sha256.Sum256([]byte(body))
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a payload that failed JSON or schema validation.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

func (e ErrDecode) Unwrap() error { return e.Err }

// ErrMissingUserID indicates a message without a user to dedupe for.
type ErrMissingUserID struct {
	Meta      MessageMeta
	RequestID string
}

func (e ErrMissingUserID) Error() string { return "missing user id" }

// ErrProcess indicates the run failed after the message parsed.
type ErrProcess struct {
	UserID    string
	RequestID string
	Err       error
}

func (e ErrProcess) Error() string {
	if e.Err == nil {
		return "process dedupe"
	}
	return "process dedupe: " + e.Err.Error()
}

func (e ErrProcess) Unwrap() error { return e.Err }

// ParseMessage validates and decodes the queue payload.
func ParseMessage(body string) (queue.Message, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return queue.Message{}, meta, ErrEmptyBody{Meta: meta}
	}

	var envelope struct {
		UserID    string `json:"userId"`
		RequestID string `json:"requestId"`
	}
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		return queue.Message{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	if strings.TrimSpace(envelope.UserID) == "" {
		return queue.Message{}, meta, ErrMissingUserID{Meta: meta, RequestID: envelope.RequestID}
	}

	msg, err := queue.DecodeMessage([]byte(body))
	if err != nil {
		return queue.Message{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	return msg, meta, nil
}

// HandleMessage parses a payload and runs the dedupe it describes.
func HandleMessage(ctx context.Context, runner Runner, body string) (bullets.RunResult, error) {
	if runner == nil {
		return bullets.RunResult{}, errors.New("dedupe runner not configured")
	}

	msg, _, err := ParseMessage(body)
	if err != nil {
		return bullets.RunResult{}, err
	}

	result, err := runner.RunQueued(ctx, msg)
	if err != nil {
		return bullets.RunResult{}, ErrProcess{UserID: msg.UserID, RequestID: msg.RequestID, Err: err}
	}
	return result, nil
}

// Retryable reports whether a failed message should be left for redelivery.
// Malformed payloads and invalid run parameters will never succeed.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var (
		empty   ErrEmptyBody
		decode  ErrDecode
		missing ErrMissingUserID
	)
	if errors.As(err, &empty) || errors.As(err, &decode) || errors.As(err, &missing) {
		return false
	}
	return !bullets.IsClientError(err)
}
