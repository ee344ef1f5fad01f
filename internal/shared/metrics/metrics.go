package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

var (
	dedupeRunsStartedTotal   atomic.Uint64
	dedupeRunsCompletedTotal atomic.Uint64
	dedupeRunsFailedTotal    atomic.Uint64
	bulletsInTotal           atomic.Uint64
	bulletsOutTotal          atomic.Uint64
	embeddingCallsTotal      atomic.Uint64
	embeddingFailuresTotal   atomic.Uint64
	queueMessagesTotal       atomic.Uint64

	dedupeDuration = newHistogram([]float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000})
)

// RunStarted counts a dedupe run entering the pipeline.
func RunStarted() {
	dedupeRunsStartedTotal.Add(1)
}

// RunCompleted records a successful run with its input and output sizes.
func RunCompleted(inputBullets, outputBullets int, durationMs float64) {
	dedupeRunsCompletedTotal.Add(1)
	bulletsInTotal.Add(uint64(max(inputBullets, 0)))
	bulletsOutTotal.Add(uint64(max(outputBullets, 0)))
	ObserveRunDurationMs(durationMs)
}

// RunFailed counts a run that returned an error.
func RunFailed() {
	dedupeRunsFailedTotal.Add(1)
}

// EmbeddingCalls records generated embeddings and failed embedding calls.
func EmbeddingCalls(succeeded, failed int) {
	embeddingCallsTotal.Add(uint64(max(succeeded, 0) + max(failed, 0)))
	embeddingFailuresTotal.Add(uint64(max(failed, 0)))
}

// QueueMessageHandled counts a consumed queue message.
func QueueMessageHandled() {
	queueMessagesTotal.Add(1)
}

// ObserveRunDurationMs records a dedupe run duration in milliseconds.
func ObserveRunDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	dedupeDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "dedupe_runs_started_total", "Dedupe runs started", dedupeRunsStartedTotal.Load())
	writeCounter(&buf, "dedupe_runs_completed_total", "Dedupe runs completed", dedupeRunsCompletedTotal.Load())
	writeCounter(&buf, "dedupe_runs_failed_total", "Dedupe runs failed", dedupeRunsFailedTotal.Load())
	writeCounter(&buf, "dedupe_bullets_in_total", "Bullet candidates considered", bulletsInTotal.Load())
	writeCounter(&buf, "dedupe_bullets_out_total", "Canonical bullets produced", bulletsOutTotal.Load())
	writeCounter(&buf, "embedding_calls_total", "Embedding provider calls", embeddingCallsTotal.Load())
	writeCounter(&buf, "embedding_failures_total", "Embedding provider failures", embeddingFailuresTotal.Load())
	writeCounter(&buf, "queue_messages_total", "Queue messages handled", queueMessagesTotal.Load())
	writeHistogram(&buf, "dedupe_run_duration_ms", "Dedupe run duration in milliseconds", dedupeDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			return
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
	return out
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// SinceMillis returns the elapsed time since start in milliseconds.
func SinceMillis(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
