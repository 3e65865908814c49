// Package observability carries request-scoped logging state through contexts.
package observability

import (
	"context"
	"log/slog"
)

type loggerContextKey struct{}

type requestIDContextKey struct{}

type analysisIDContextKey struct{}

// ContextWithLogger attaches a non-nil logger to the context.
func ContextWithLogger(ctx context.Context, lg *slog.Logger) context.Context {
	if ctx == nil || lg == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerContextKey{}, lg)
}

// LoggerFromContext returns the logger stored in the context, or slog.Default.
// The result always carries request_id and analysis_id when the context has them.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return slog.Default()
	}
	lg := slog.Default()
	if v, ok := ctx.Value(loggerContextKey{}).(*slog.Logger); ok && v != nil {
		return v
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		lg = lg.With(slog.String("request_id", rid))
	}
	if aid := AnalysisIDFromContext(ctx); aid != "" {
		lg = lg.With(slog.String("analysis_id", aid))
	}
	return lg
}

// ContextWithRequestID stores a non-empty request_id in the context.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil || requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

// RequestIDFromContext returns the request_id or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	rid, _ := ctx.Value(requestIDContextKey{}).(string)
	return rid
}

// ContextWithAnalysisID stores the id of the analysis being served and, when
// a logger is already attached, extends it with the id.
func ContextWithAnalysisID(ctx context.Context, analysisID string) context.Context {
	if ctx == nil || analysisID == "" {
		return ctx
	}
	ctx = context.WithValue(ctx, analysisIDContextKey{}, analysisID)
	if lg, ok := ctx.Value(loggerContextKey{}).(*slog.Logger); ok && lg != nil {
		ctx = ContextWithLogger(ctx, lg.With(slog.String("analysis_id", analysisID)))
	}
	return ctx
}

// AnalysisIDFromContext returns the analysis id or "".
func AnalysisIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	aid, _ := ctx.Value(analysisIDContextKey{}).(string)
	return aid
}
