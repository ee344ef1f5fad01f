package bullets

import (
	"bytes"
	"encoding/json"
	"fmt"

	"resume-bullets/internal/dedupe"
)

// PreviewBullet is one caller-supplied bullet for a stateless dedupe.
type PreviewBullet struct {
	ID              string        `json:"id"`
	Content         string        `json:"content"`
	SourceCount     *int          `json:"sourceCount,omitempty"`
	ImportanceScore *float64      `json:"importanceScore,omitempty"`
	Embedding       WireEmbedding `json:"embedding"`
}

// Candidate converts the bullet for the dedupe engine.
func (b PreviewBullet) Candidate() dedupe.Candidate {
	return dedupe.Candidate{
		ID:              b.ID,
		Content:         b.Content,
		SourceCount:     b.SourceCount,
		ImportanceScore: b.ImportanceScore,
		Embedding:       b.Embedding.Embedding(),
	}
}

// WireEmbedding accepts null, a number array, or a serialized vector string
// such as "{0.1,0.2}".
type WireEmbedding struct {
	Vector  []float32
	Encoded string
	set     bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (w *WireEmbedding) UnmarshalJSON(data []byte) error {
	*w = WireEmbedding{}
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		return nil
	case trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		w.Encoded = s
		w.set = true
		return nil
	case trimmed[0] == '[':
		var v []float32
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return fmt.Errorf("embedding must be an array of numbers: %w", err)
		}
		w.Vector = v
		w.set = true
		return nil
	default:
		return fmt.Errorf("embedding must be null, an array or a string")
	}
}

// MarshalJSON implements json.Marshaler.
func (w WireEmbedding) MarshalJSON() ([]byte, error) {
	switch {
	case len(w.Vector) > 0:
		return json.Marshal(w.Vector)
	case w.set && w.Encoded != "":
		return json.Marshal(w.Encoded)
	default:
		return []byte("null"), nil
	}
}

// Embedding maps the wire form onto the dedupe embedding variants.
func (w WireEmbedding) Embedding() dedupe.Embedding {
	switch {
	case len(w.Vector) > 0:
		return dedupe.PresentEmbedding(w.Vector)
	case w.Encoded != "":
		return dedupe.EncodedEmbedding(w.Encoded)
	default:
		return dedupe.MissingEmbedding()
	}
}

type addObservationsRequest struct {
	Bullets []ObservationInput `json:"bullets"`
}

type observationsResponse struct {
	Bullets []Observation `json:"bullets"`
}

type enqueueResponse struct {
	RequestID  string `json:"requestId"`
	EnqueuedAt string `json:"enqueuedAt"`
	Status     string `json:"status"`
}
