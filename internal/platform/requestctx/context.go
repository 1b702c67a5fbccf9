package requestctx

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

type contextKey string

const (
	loggerContextKey       contextKey = "github.com/boltlink/api/internal/platform/requestctx/logger"
	traceContextKey        contextKey = "github.com/boltlink/api/internal/platform/requestctx/trace"
	confirmationContextKey contextKey = "github.com/boltlink/api/internal/platform/requestctx/confirmation"
)

var noopLogger = zap.NewNop()

// TraceInfo captures trace metadata propagated through request context.
type TraceInfo struct {
	TraceID string
	SpanID  string
	Sampled bool
}

// ConfirmationInfo marks a context as belonging to a platform confirmation
// request (a webhook carrying a confirmed transaction). The totals
// reconciler's pre-commit gate only adjusts totals inside such a request;
// everywhere else a mismatch is treated as tampering.
type ConfirmationInfo struct {
	// Source names the hook type that opened the confirmation, e.g.
	// "pending" or "payment".
	Source string
	// Reference is the platform transaction reference being confirmed.
	Reference string
}

// WithLogger stores the logger in context for downstream consumers.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// Logger retrieves the zap logger from context or returns a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noopLogger
	}
	if logger, ok := ctx.Value(loggerContextKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger exposes the shared noop logger instance used across the package.
func NoopLogger() *zap.Logger { return noopLogger }

// WithTrace stores the trace metadata on the context for downstream usage.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceContextKey, info)
}

// Trace retrieves the trace metadata from context when available.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceContextKey).(TraceInfo)
	return info, ok
}

// TraceID extracts the trace identifier from context when present.
func TraceID(ctx context.Context) string {
	info, ok := Trace(ctx)
	if !ok {
		return ""
	}
	return info.TraceID
}

// WithConfirmation marks the context as a confirmation request.
func WithConfirmation(ctx context.Context, info ConfirmationInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	info.Source = strings.TrimSpace(info.Source)
	info.Reference = strings.TrimSpace(info.Reference)
	return context.WithValue(ctx, confirmationContextKey, info)
}

// Confirmation retrieves the confirmation marker from context when present.
func Confirmation(ctx context.Context) (ConfirmationInfo, bool) {
	if ctx == nil {
		return ConfirmationInfo{}, false
	}
	info, ok := ctx.Value(confirmationContextKey).(ConfirmationInfo)
	return info, ok
}

// InConfirmation reports whether the context belongs to a confirmation request.
func InConfirmation(ctx context.Context) bool {
	_, ok := Confirmation(ctx)
	return ok
}
