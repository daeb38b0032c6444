package logctx

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	loggerKey contextKey = "logger"
	jobKeyKey contextKey = "job_key"
)

// WithLogger returns a new context with the provided slog.Logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext retrieves the slog.Logger from the context, or returns slog.Default() if not found.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
		return l
	}

	return slog.Default()
}

// WithJobKey tags the context with the key of the download job it serves.
// TraceHandler adds it to every record logged with that context.
func WithJobKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, jobKeyKey, key)
}

// JobKeyFromContext returns the job key stored by WithJobKey, if any.
func JobKeyFromContext(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(jobKeyKey).(string)

	return key, ok && key != ""
}
