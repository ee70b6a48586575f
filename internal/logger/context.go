package logger

import (
	"context"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"go.uber.org/zap"
)

type contextKey string

const loggerKey contextKey = "logger"

// WithContext returns a new context with the logger attached
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger from context, or a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return logger
	}
	return zap.NewNop()
}

// WithLambdaRequest enriches the logger with the Lambda request id when the
// invocation context carries one.
func WithLambdaRequest(ctx context.Context, logger *zap.Logger) (context.Context, *zap.Logger) {
	if lc, ok := lambdacontext.FromContext(ctx); ok && lc.AwsRequestID != "" {
		logger = logger.With(zap.String("request_id", lc.AwsRequestID))
	}
	return WithContext(ctx, logger), logger
}

// WithUserID adds user_id to the logger stored in ctx.
func WithUserID(ctx context.Context, logger *zap.Logger, userID string) (context.Context, *zap.Logger) {
	enriched := logger.With(zap.String("user_id", userID))
	return WithContext(ctx, enriched), enriched
}

// WithRunID tags every line of one sync run.
func WithRunID(ctx context.Context, logger *zap.Logger, runID string) (context.Context, *zap.Logger) {
	enriched := logger.With(zap.String("run_id", runID))
	return WithContext(ctx, enriched), enriched
}
