package telemetry

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	logger = newLogger(os.Stdout, "", "info")
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.TimestampFieldName = "ts"
}

// Configure replaces the process logger. Env "local" switches to a console writer.
func Configure(env, level string) {
	var w io.Writer = os.Stdout
	if strings.EqualFold(strings.TrimSpace(env), "local") {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	SetOutput(w, level)
}

// SetOutput points the logger at w. Tests use it to capture log lines.
func SetOutput(w io.Writer, level string) {
	mu.Lock()
	defer mu.Unlock()
	logger = newLogger(w, "", level)
}

// Logger returns the current zerolog logger for callers that want the fluent API.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Info writes an info-level log line with the given fields.
func Info(msg string, fields map[string]any) {
	l := Logger()
	l.Info().Fields(fields).Msg(msg)
}

// Warn writes a warn-level log line with the given fields.
func Warn(msg string, fields map[string]any) {
	l := Logger()
	l.Warn().Fields(fields).Msg(msg)
}

// Error writes an error-level log line with the given fields.
func Error(msg string, fields map[string]any) {
	l := Logger()
	l.Error().Fields(fields).Msg(msg)
}

func newLogger(w io.Writer, service, level string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		parsed = zerolog.InfoLevel
	}
	if service == "" {
		service = "resume-bullets"
	}
	return zerolog.New(w).
		Level(parsed).
		With().
		Timestamp().
		Str("service", service).
		Logger()
}
