package logger

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

func Setup(dev bool) zerolog.Logger {
	var logger zerolog.Logger
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}

	logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Caller().Logger()

	if dev {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, FormatTimestamp: func(i any) string {
			return time.Now().Format(time.RFC3339)
		}}).Level(level).With().Stack().Logger()
	}

	return logger
}

// WithOperation returns a context carrying a logger annotated with the
// identifiers every step of a tenant operation should log.
func WithOperation(ctx context.Context, operation, tenantID, executionID string) context.Context {
	return zerolog.Ctx(ctx).With().
		Str("operation", operation).
		Str("tenant_id", tenantID).
		Str("execution_id", executionID).
		Logger().WithContext(ctx)
}
