package dedupe

import (
	"bytes"
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"sync"
	"testing"

	"resume-bullets/internal/shared/telemetry"
)

func intPtr(v int) *int { return &v }

func angle(deg float64) []float32 {
	rad := deg * math.Pi / 180
	return []float32{float32(math.Cos(rad)), float32(math.Sin(rad))}
}

type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	calls   []string
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, text)
	f.mu.Unlock()
	if strings.Contains(text, "fail") {
		return nil, errors.New("embedding service status 503")
	}
	return f.vectors[text], nil
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestDedupeMergesIdenticalEmbeddings(t *testing.T) {
	vec := []float32{0.3, 0.4, 0.5}
	input := []Candidate{
		{ID: "a", Content: "Led a team of 5 engineers to ship X", SourceCount: intPtr(1), Embedding: PresentEmbedding(vec)},
		{ID: "b", Content: "Managed 5 engineers shipping X", SourceCount: intPtr(2), Embedding: PresentEmbedding(vec)},
	}

	out, err := Dedupe(context.Background(), input, DefaultOptions())
	if err != nil {
		t.Fatalf("Dedupe: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 cluster, got %d", len(out))
	}
	got := out[0]
	if got.SourceCount != 3 {
		t.Fatalf("expected sourceCount 3, got %d", got.SourceCount)
	}
	if got.RepresentativeID != "b" {
		t.Fatalf("expected higher-scoring b as representative, got %s", got.RepresentativeID)
	}
	if got.Content != "Managed 5 engineers shipping X" {
		t.Fatalf("unexpected content %q", got.Content)
	}
	if strings.Join(got.SourceIDs, ",") != "b,a" {
		t.Fatalf("expected sourceIds [b a], got %v", got.SourceIDs)
	}
	if strings.Join(got.SupportingIDs, ",") != "a" {
		t.Fatalf("expected supporting [a], got %v", got.SupportingIDs)
	}
	if got.AverageSimilarity != 1 {
		t.Fatalf("expected average similarity 1, got %v", got.AverageSimilarity)
	}
	if len(got.Embedding) != 3 {
		t.Fatalf("expected representative embedding to be returned")
	}
}

func TestDedupeUnparsableEmbeddingIsSingleton(t *testing.T) {
	vec := []float32{1, 0}
	input := []Candidate{
		{ID: "a", Content: "Built reporting pipeline", Embedding: PresentEmbedding(vec)},
		{ID: "b", Content: "Built the reporting pipeline", Embedding: EncodedEmbedding("{1,0}")},
		{ID: "c", Content: "Built a reporting pipeline", Embedding: EncodedEmbedding("{abc,def}")},
	}

	out, err := Dedupe(context.Background(), input, DefaultOptions())
	if err != nil {
		t.Fatalf("Dedupe: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 clusters, got %d", len(out))
	}
	var singleton *DedupedBullet
	for i := range out {
		if out[i].RepresentativeID == "c" {
			singleton = &out[i]
		}
	}
	if singleton == nil {
		t.Fatalf("expected c to represent its own cluster: %+v", out)
	}
	if len(singleton.SupportingIDs) != 0 || singleton.SourceCount != 1 {
		t.Fatalf("expected unmerged singleton, got %+v", singleton)
	}
	if singleton.Embedding != nil {
		t.Fatalf("expected no embedding for singleton, got %v", singleton.Embedding)
	}
}

func TestDedupeMetricGuardSeparatesConflictingNumbers(t *testing.T) {
	vec := []float32{0.6, 0.8}
	input := []Candidate{
		{ID: "a", Content: "Increased sales by 10%", Embedding: PresentEmbedding(vec)},
		{ID: "b", Content: "Increased sales by 50%", Embedding: PresentEmbedding(vec)},
	}
	opts := DefaultOptions()
	opts.SimilarityThreshold = 0.5

	out, err := Dedupe(context.Background(), input, opts)
	if err != nil {
		t.Fatalf("Dedupe: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected conflicting metrics to stay apart, got %d clusters", len(out))
	}
}

func TestDedupeMergesSharedMetric(t *testing.T) {
	vec := []float32{0.6, 0.8}
	input := []Candidate{
		{ID: "a", Content: "Increased sales by 40% in 2 quarters", Embedding: PresentEmbedding(vec)},
		{ID: "b", Content: "Grew sales 40% year over year", Embedding: PresentEmbedding(vec)},
	}

	out, err := Dedupe(context.Background(), input, DefaultOptions())
	if err != nil {
		t.Fatalf("Dedupe: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected shared metric token to merge, got %d clusters", len(out))
	}
}

func TestCanMerge(t *testing.T) {
	tests := []struct {
		name string
		rep  string
		cand string
		want bool
	}{
		{name: "neither has metric", rep: "Led migration to Kubernetes", cand: "Migrated services to Kubernetes", want: true},
		{name: "rep metric candidate plain", rep: "Cut costs by 30%", cand: "Cut infrastructure costs", want: false},
		{name: "rep plain candidate metric", rep: "Cut infrastructure costs", cand: "Cut costs by 30%", want: true},
		{name: "disjoint numbers", rep: "Saved $200k annually", cand: "Saved $500k annually", want: false},
		{name: "shared number", rep: "Saved $200k annually", cand: "Delivered $200k savings, 3x faster", want: true},
		{name: "metric word without numbers", rep: "Doubled throughput", cand: "Tripled throughput", want: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := canMerge(AnalyzeContent(tt.rep), AnalyzeContent(tt.cand)); got != tt.want {
				t.Fatalf("canMerge(%q, %q) = %v, want %v", tt.rep, tt.cand, got, tt.want)
			}
		})
	}
}

func TestDedupeCapRespected(t *testing.T) {
	input := []Candidate{
		{ID: "a", Content: "Alpha", Embedding: PresentEmbedding(angle(0))},
		{ID: "b", Content: "Bravo", Embedding: PresentEmbedding(angle(90))},
		{ID: "c", Content: "Charlie", Embedding: PresentEmbedding(angle(180))},
		{ID: "d", Content: "Delta", Embedding: PresentEmbedding(angle(270))},
		{ID: "e", Content: "Echo"},
	}

	tests := []struct {
		max  int
		want int
	}{
		{max: 10, want: 5},
		{max: 2, want: 2},
		{max: 1, want: 1},
		{max: 0, want: 1},
		{max: -4, want: 1},
	}
	for _, tt := range tests {
		opts := DefaultOptions()
		opts.MaxBullets = tt.max
		out, err := Dedupe(context.Background(), input, opts)
		if err != nil {
			t.Fatalf("Dedupe max=%d: %v", tt.max, err)
		}
		if len(out) != tt.want {
			t.Fatalf("max=%d: expected %d bullets, got %d", tt.max, tt.want, len(out))
		}
	}
}

func TestDedupePrioritizesConsensusOverSingleton(t *testing.T) {
	input := []Candidate{
		{ID: "solo", Content: "Reduced churn by 12%", Embedding: PresentEmbedding(angle(90))},
		{ID: "x1", Content: "Owned onboarding flow", SourceCount: intPtr(3), Embedding: PresentEmbedding(angle(0))},
		{ID: "x2", Content: "Owned the onboarding flow", SourceCount: intPtr(3), Embedding: PresentEmbedding(angle(0))},
	}
	opts := DefaultOptions()
	opts.MaxBullets = 1

	out, err := Dedupe(context.Background(), input, opts)
	if err != nil {
		t.Fatalf("Dedupe: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 bullet, got %d", len(out))
	}
	if out[0].RepresentativeID != "x1" {
		t.Fatalf("expected consensus cluster to win, got %s", out[0].RepresentativeID)
	}
}

func TestDedupePartitionsInput(t *testing.T) {
	input := []Candidate{
		{ID: "1", Content: "Designed ETL jobs in Python and Airflow", Embedding: PresentEmbedding(angle(0))},
		{ID: "2", Content: "Built ETL jobs with Airflow", Embedding: PresentEmbedding(angle(5))},
		{ID: "3", Content: "   "},
		{ID: "4", Content: "Achieved HIPAA compliance for patient data", Embedding: PresentEmbedding(angle(60))},
		{ID: "5", Content: "Ensured HIPAA compliance", Embedding: PresentEmbedding(angle(62))},
		{ID: "6", Content: "Mentored junior engineers"},
		{ID: "7", Content: "Improved p95 latency by 35%", Embedding: PresentEmbedding(angle(120))},
		{ID: "8", Content: "Improved latency by 20%", Embedding: PresentEmbedding(angle(121))},
		{ID: "9", Content: "Presented roadmap to executives", Embedding: EncodedEmbedding("[0.5, 0.5]")},
	}
	opts := DefaultOptions()
	opts.MaxBullets = len(input)

	out, err := Dedupe(context.Background(), input, opts)
	if err != nil {
		t.Fatalf("Dedupe: %v", err)
	}

	seen := map[string]int{}
	for _, b := range out {
		seen[b.RepresentativeID]++
		for _, id := range b.SupportingIDs {
			seen[id]++
		}
		if len(b.SourceIDs) != len(b.SupportingIDs)+1 {
			t.Fatalf("sourceIds should be representative plus supporting: %+v", b)
		}
	}
	want := []string{"1", "2", "4", "5", "6", "7", "8", "9"}
	if len(seen) != len(want) {
		t.Fatalf("expected %d ids, got %v", len(want), seen)
	}
	for _, id := range want {
		if seen[id] != 1 {
			t.Fatalf("id %s appears %d times", id, seen[id])
		}
	}
}

func TestDedupeThresholdMonotonicity(t *testing.T) {
	var input []Candidate
	for i, deg := range []float64{0, 10, 20, 30, 90, 100} {
		input = append(input, Candidate{
			ID:        string(rune('a' + i)),
			Content:   "Bullet " + string(rune('a'+i)),
			Embedding: PresentEmbedding(angle(deg)),
		})
	}

	prev := 0
	for _, threshold := range []float64{0, 0.5, 0.8, 0.9, 0.95, 0.99, 1} {
		opts := DefaultOptions()
		opts.SimilarityThreshold = threshold
		opts.MaxBullets = len(input)
		out, err := Dedupe(context.Background(), input, opts)
		if err != nil {
			t.Fatalf("Dedupe threshold=%v: %v", threshold, err)
		}
		if len(out) < prev {
			t.Fatalf("threshold %v produced %d clusters, fewer than %d", threshold, len(out), prev)
		}
		prev = len(out)
	}
	if prev != len(input) {
		t.Fatalf("expected every candidate apart at threshold 1, got %d", prev)
	}
}

func TestDedupeTieGoesToFirstCluster(t *testing.T) {
	input := []Candidate{
		{ID: "first", Content: "First anchor", SourceCount: intPtr(5), Embedding: PresentEmbedding([]float32{1, 0})},
		{ID: "second", Content: "Second anchor", SourceCount: intPtr(4), Embedding: PresentEmbedding([]float32{0, 1})},
		{ID: "between", Content: "Halfway bullet", Embedding: PresentEmbedding([]float32{1, 1})},
	}
	opts := DefaultOptions()
	opts.SimilarityThreshold = 0.7

	out, err := Dedupe(context.Background(), input, opts)
	if err != nil {
		t.Fatalf("Dedupe: %v", err)
	}
	for _, b := range out {
		if b.RepresentativeID == "first" {
			if strings.Join(b.SupportingIDs, ",") != "between" {
				t.Fatalf("expected tie to resolve to first cluster, got %v", b.SupportingIDs)
			}
			return
		}
	}
	t.Fatalf("first cluster missing from output: %+v", out)
}

func TestClusterRepresentativeHasHighestScore(t *testing.T) {
	mk := func(id string, score float64) *normalizedCandidate {
		return &normalizedCandidate{Candidate: Candidate{ID: id}, score: score, sourceCount: 1, vector: []float32{1}}
	}
	c := newCluster(mk("a", 2))
	c.add(mk("b", 5), 0.95)
	c.add(mk("c", 3), 0.9)
	c.add(mk("d", 7), 0.93)

	for _, m := range c.members {
		if m.score > c.representative.score {
			t.Fatalf("member %s outscores representative %s", m.ID, c.representative.ID)
		}
	}
	if c.representative.ID != "d" {
		t.Fatalf("expected d promoted, got %s", c.representative.ID)
	}
	if c.totalSourceCount != 4 {
		t.Fatalf("expected total source count 4, got %d", c.totalSourceCount)
	}
	want := (1 + 0.95 + 0.9 + 0.93) / 4
	if math.Abs(c.averageSimilarity-want) > 1e-9 {
		t.Fatalf("expected running average %v, got %v", want, c.averageSimilarity)
	}
}

func TestDedupeRepresentativeDominatesMembers(t *testing.T) {
	input := []Candidate{
		{ID: "a", Content: "Migrated billing to AWS", Embedding: PresentEmbedding(angle(0))},
		{ID: "b", Content: "Migrated billing to AWS using Terraform and Docker", Embedding: PresentEmbedding(angle(2))},
		{ID: "c", Content: "Moved billing to the cloud", SourceCount: intPtr(2), Embedding: PresentEmbedding(angle(4))},
	}
	scores := map[string]float64{}
	for _, c := range input {
		sc := 1
		if c.SourceCount != nil {
			sc = *c.SourceCount
		}
		scores[c.ID] = CandidateScore(sc, 0, AnalyzeContent(c.Content))
	}

	out, err := Dedupe(context.Background(), input, DefaultOptions())
	if err != nil {
		t.Fatalf("Dedupe: %v", err)
	}
	for _, b := range out {
		for _, id := range b.SupportingIDs {
			if scores[id] > scores[b.RepresentativeID] {
				t.Fatalf("supporting %s outscores representative %s", id, b.RepresentativeID)
			}
		}
	}
}

func TestDedupeEmptyInput(t *testing.T) {
	out, err := Dedupe(context.Background(), []Candidate{{ID: "x", Content: "  "}}, DefaultOptions())
	if err != nil {
		t.Fatalf("Dedupe: %v", err)
	}
	if out == nil || len(out) != 0 {
		t.Fatalf("expected empty non-nil result, got %v", out)
	}
}

func TestDedupeGeneratesMissingEmbeddings(t *testing.T) {
	buf := &syncBuffer{}
	telemetry.SetOutput(buf, "info")
	t.Cleanup(func() { telemetry.Configure("", "info") })

	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"Shipped mobile app":     {1, 0},
		"Shipped the mobile app": {1, 0},
	}}
	input := []Candidate{
		{ID: "a", Content: "Shipped mobile app"},
		{ID: "b", Content: "Shipped the mobile app"},
		{ID: "c", Content: "This one will fail to embed"},
		{ID: "d", Content: "Stored vector", Embedding: PresentEmbedding([]float32{0, 1})},
	}
	opts := DefaultOptions()
	opts.Embedder = embedder
	opts.Concurrency = 2

	out, stats, err := DedupeWithStats(context.Background(), input, opts)
	if err != nil {
		t.Fatalf("Dedupe: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 clusters, got %d: %+v", len(out), out)
	}
	if stats.Embedded != 2 || stats.EmbeddingFailed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(stats.Generated) != 2 || len(stats.Generated["a"]) != 2 || len(stats.Generated["b"]) != 2 {
		t.Fatalf("expected generated vectors for a and b only, got %v", stats.Generated)
	}
	if _, ok := stats.Generated["d"]; ok {
		t.Fatalf("stored vector should not be reported as generated")
	}

	calls := append([]string(nil), embedder.calls...)
	sort.Strings(calls)
	if len(calls) != 3 {
		t.Fatalf("expected stored vector to skip the embedder, calls=%v", calls)
	}
	if !strings.Contains(buf.String(), "dedupe.embedding_failed") {
		t.Fatalf("expected embedding failure to be logged, got %s", buf.String())
	}
}

func TestDedupeLogsEmptyEmbedding(t *testing.T) {
	buf := &syncBuffer{}
	telemetry.SetOutput(buf, "info")
	t.Cleanup(func() { telemetry.Configure("", "info") })

	opts := DefaultOptions()
	opts.Embedder = &fakeEmbedder{}
	_, stats, err := DedupeWithStats(context.Background(), []Candidate{{ID: "a", Content: "No vector for this"}}, opts)
	if err != nil {
		t.Fatalf("Dedupe: %v", err)
	}
	if stats.EmbeddingFailed != 1 || stats.Generated != nil {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if !strings.Contains(buf.String(), "empty vector") {
		t.Fatalf("expected empty vector to be logged, got %s", buf.String())
	}
}

func TestDedupeCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opts := DefaultOptions()
	opts.Embedder = &fakeEmbedder{}
	_, err := Dedupe(ctx, []Candidate{{ID: "a", Content: "Needs embedding"}}, opts)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
