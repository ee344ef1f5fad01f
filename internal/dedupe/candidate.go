package dedupe

// Candidate is one résumé bullet observation considered for deduplication.
type Candidate struct {
	ID              string
	Content         string
	SourceCount     *int
	ImportanceScore *float64
	Embedding       Embedding
}

type embeddingKind int

const (
	embeddingMissing embeddingKind = iota
	embeddingPresent
	embeddingEncoded
)

// Embedding is either a dense vector, a serialized vector string as stored in
// the database, or absent.
type Embedding struct {
	kind    embeddingKind
	vector  []float32
	encoded string
}

// PresentEmbedding wraps an already-computed vector.
func PresentEmbedding(vector []float32) Embedding {
	if len(vector) == 0 {
		return MissingEmbedding()
	}
	return Embedding{kind: embeddingPresent, vector: vector}
}

// EncodedEmbedding wraps a vector serialized as text, e.g. "{0.1,0.2}" or "[0.1,0.2]".
func EncodedEmbedding(raw string) Embedding {
	return Embedding{kind: embeddingEncoded, encoded: raw}
}

// MissingEmbedding marks a candidate with no stored vector.
func MissingEmbedding() Embedding {
	return Embedding{kind: embeddingMissing}
}

// IsMissing reports whether no vector or encoded vector was supplied.
func (e Embedding) IsMissing() bool {
	return e.kind == embeddingMissing
}

// resolve returns the stored vector, parsing the encoded form if needed.
// A nil result means the embedding must be generated or is unavailable.
func (e Embedding) resolve() []float32 {
	switch e.kind {
	case embeddingPresent:
		return e.vector
	case embeddingEncoded:
		parsed := ParseVector(e.encoded)
		if len(parsed) == 0 {
			return nil
		}
		return parsed
	default:
		return nil
	}
}

// DedupedBullet is the public projection of one cluster.
type DedupedBullet struct {
	Content           string    `json:"content"`
	RepresentativeID  string    `json:"representativeId"`
	SupportingIDs     []string  `json:"supportingBulletIds"`
	SourceIDs         []string  `json:"sourceIds"`
	SourceCount       int       `json:"sourceCount"`
	AverageSimilarity float64   `json:"averageSimilarity"`
	Embedding         []float32 `json:"embedding,omitempty"`
}

type normalizedCandidate struct {
	Candidate
	vector      []float32
	generated   bool
	sourceCount int
	importance  float64
	signals     Signals
	score       float64
}
