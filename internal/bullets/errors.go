package bullets

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrQueueUnavailable = errors.New("dedupe queue not configured")
)

const (
	ErrorCodeValidation       = "VALIDATION_ERROR"
	ErrorCodeNotFound         = "NOT_FOUND"
	ErrorCodeQueueUnavailable = "QUEUE_UNAVAILABLE"
	ErrorCodeInternal         = "INTERNAL_ERROR"
)
