package dedupe

import (
	"math"
	"strconv"
	"strings"
)

// ParseVector decodes a vector literal such as "{0.1,0.2}" (Postgres array) or
// "[0.1,0.2]" (pgvector). Tokens that are not numbers are dropped, so a fully
// unparsable string yields an empty slice.
func ParseVector(raw string) []float32 {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '{', '}', '[', ']', '(', ')':
			return -1
		}
		return r
	}, raw)
	if strings.TrimSpace(cleaned) == "" {
		return nil
	}

	parts := strings.Split(cleaned, ",")
	out := make([]float32, 0, len(parts))
	for _, part := range parts {
		value, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
			continue
		}
		out = append(out, float32(value))
	}
	return out
}

// CosineSimilarity returns the cosine of the angle between a and b. Mismatched
// lengths, empty vectors and zero magnitudes yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		af, bf := float64(a[i]), float64(b[i])
		dot += af * bf
		na += af * af
		nb += bf * bf
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
