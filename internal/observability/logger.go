package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/PabloGalante/equalizer/internal/domain"
)

type ctxKey string

const (
	ctxKeyRequestID ctxKey = "request_id"
	ctxKeySessionID ctxKey = "session_id"
)

var (
	level = new(slog.LevelVar)

	// basic global logger, JSON to stdout.
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
)

func Logger() *slog.Logger {
	return logger
}

// Configure replaces the global logger. format is "json" or "text".
func Configure(w io.Writer, format, lvl string) {
	SetLevel(lvl)
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "text") {
		logger = slog.New(slog.NewTextHandler(w, opts))
		return
	}
	logger = slog.New(slog.NewJSONHandler(w, opts))
}

// SetLevel changes the level of every logger handed out so far.
func SetLevel(lvl string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(lvl)); err != nil {
		l = slog.LevelInfo
	}
	level.Set(l)
}

// WithFields returns a logger with additional fields.
func WithFields(kv ...any) *slog.Logger {
	return logger.With(kv...)
}

// WithRequestID stores a request_id in the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, requestID)
}

// WithSessionID stores a session_id in the context.
func WithSessionID(ctx context.Context, id domain.SessionID) context.Context {
	return context.WithValue(ctx, ctxKeySessionID, id)
}

// LoggerFromContext adds request_id and session_id if present.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	l := logger
	if reqID, _ := ctx.Value(ctxKeyRequestID).(string); reqID != "" {
		l = l.With("request_id", reqID)
	}
	if id, _ := ctx.Value(ctxKeySessionID).(domain.SessionID); id != "" {
		l = l.With("session_id", id)
	}
	return l
}
