package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MessageVersion is the payload version written by this service.
const MessageVersion = 1

// Message asks a worker to re-run deduplication for one user.
type Message struct {
	UserID              string   `json:"userId"`
	RequestID           string   `json:"requestId"`
	EnqueuedAt          string   `json:"enqueuedAt"`
	Version             int      `json:"version"`
	SimilarityThreshold *float64 `json:"similarityThreshold,omitempty"`
	MaxBullets          *int     `json:"maxBullets,omitempty"`
}

// NewMessage stamps a message for userID with the current version and time.
func NewMessage(userID, requestID string, now time.Time) Message {
	return Message{
		UserID:     userID,
		RequestID:  requestID,
		EnqueuedAt: now.UTC().Format(time.RFC3339),
		Version:    MessageVersion,
	}
}

// EncodeMessage validates msg against the message schema and returns its JSON.
func EncodeMessage(msg Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	if _, err := ValidatePayload(payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// DecodeMessage parses and validates a queue payload.
func DecodeMessage(payload []byte) (Message, error) {
	return ValidatePayload(payload)
}

func validateSemantics(msg Message) error {
	if strings.TrimSpace(msg.UserID) == "" {
		return fmt.Errorf("userId must not be empty")
	}
	if _, err := time.Parse(time.RFC3339, msg.EnqueuedAt); err != nil {
		return fmt.Errorf("enqueuedAt must be RFC3339: %w", err)
	}
	return nil
}
