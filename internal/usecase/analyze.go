// Package usecase contains application business logic services.
package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fairyhunter13/ai-purchase-advisor/internal/adapter/ai/keypool"
	"github.com/fairyhunter13/ai-purchase-advisor/internal/adapter/observability"
	"github.com/fairyhunter13/ai-purchase-advisor/internal/domain"
	obsctx "github.com/fairyhunter13/ai-purchase-advisor/internal/observability"
)

// Outcome labels for metrics and spans.
const (
	OutcomeModel    = "model"
	OutcomeFallback = "fallback"
)

// ResultNormalizer turns raw model text into a valid result and supplies the
// safe fallback.
type ResultNormalizer interface {
	Normalize(raw string, product domain.Product) domain.AnalysisResult
	Fallback(product domain.Product) domain.AnalysisResult
}

// CallError describes one failed model call attempt.
type CallError struct {
	Attempt        int
	KeyFingerprint string
	Err            error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("attempt %d with %s: %v", e.Attempt, e.KeyFingerprint, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// AnalyzeService runs one purchase analysis: at most two model calls on
// distinct credentials, then normalization or the fallback.
type AnalyzeService struct {
	Chat       domain.ChatClient
	Pool       domain.CredentialPool
	Normalizer ResultNormalizer
}

// NewAnalyzeService constructs an AnalyzeService with its dependencies.
func NewAnalyzeService(chat domain.ChatClient, pool domain.CredentialPool, n ResultNormalizer) AnalyzeService {
	return AnalyzeService{Chat: chat, Pool: pool, Normalizer: n}
}

// AnalyzePurchase always returns a result that passes AnalysisResult.Validate.
// Transport failures and malformed replies degrade to the fallback.
func (s AnalyzeService) AnalyzePurchase(ctx domain.Context, req domain.AnalysisRequest) domain.AnalysisResult {
	ctx, span := observability.Tracer().Start(ctx, "usecase.AnalyzePurchase")
	defer span.End()
	lg := obsctx.LoggerFromContext(ctx)
	start := time.Now()

	prompt := BuildPrompt(req.Product, req.UserProfile)

	first := s.Pool.Next()
	raw, err := s.attempt(ctx, 1, first, prompt)
	attempts := 1
	if err != nil {
		second := s.Pool.Next()
		if second == first {
			lg.Warn("no alternate credential for retry", slog.String("key", keypool.Fingerprint(first)))
			return s.fallback(ctx, span, req.Product, attempts, err, start)
		}
		attempts = 2
		raw, err = s.attempt(ctx, 2, second, prompt)
		if err != nil {
			return s.fallback(ctx, span, req.Product, attempts, err, start)
		}
	}

	result := s.Normalizer.Normalize(raw, req.Product)
	if verr := result.Validate(); verr != nil {
		lg.Error("normalized result failed validation", slog.Any("error", verr))
		return s.fallback(ctx, span, req.Product, attempts, fmt.Errorf("op=usecase.AnalyzePurchase: %v: %w", verr, domain.ErrInternal), start)
	}

	span.SetAttributes(
		attribute.Int("analysis.attempts", attempts),
		attribute.String("analysis.outcome", OutcomeModel),
		attribute.String("analysis.suggested_action", string(result.SuggestedAction)),
	)
	observability.ObserveAnalysis(OutcomeModel, result.EssentialityScore)
	lg.Info("purchase analyzed",
		slog.String("outcome", OutcomeModel),
		slog.Int("attempts", attempts),
		slog.String("suggested_action", string(result.SuggestedAction)),
		slog.Float64("essentiality_score", result.EssentialityScore),
		slog.Int("warnings", len(result.Warnings)),
		slog.Duration("elapsed", time.Since(start)))
	return result
}

// attempt performs one model call and reports its outcome to the pool.
func (s AnalyzeService) attempt(ctx domain.Context, n int, key string, prompt domain.Prompt) (string, error) {
	lg := obsctx.LoggerFromContext(ctx)
	fp := keypool.Fingerprint(key)
	label := strconv.Itoa(n)

	raw, err := s.Chat.Chat(ctx, key, prompt)
	if err == nil && strings.TrimSpace(raw) == "" {
		err = fmt.Errorf("op=usecase.attempt: empty model content: %w", domain.ErrSchemaInvalid)
	}
	if err != nil {
		s.Pool.ReportError(key)
		observability.ObserveAttempt(label, "error")
		lg.Warn("model call attempt failed",
			slog.Int("attempt", n),
			slog.String("key", fp),
			slog.String("error_kind", errorKind(err)),
			slog.Any("error", err))
		return "", &CallError{Attempt: n, KeyFingerprint: fp, Err: err}
	}

	s.Pool.ReportSuccess(key)
	observability.ObserveAttempt(label, "success")
	lg.Debug("model call attempt succeeded", slog.Int("attempt", n), slog.String("key", fp))
	return raw, nil
}

func (s AnalyzeService) fallback(ctx domain.Context, span trace.Span, product domain.Product, attempts int, cause error, start time.Time) domain.AnalysisResult {
	result := s.Normalizer.Fallback(product)
	span.SetAttributes(
		attribute.Int("analysis.attempts", attempts),
		attribute.String("analysis.outcome", OutcomeFallback),
	)
	if cause != nil {
		span.RecordError(cause)
		span.SetStatus(codes.Error, errorKind(cause))
	}
	observability.ObserveAnalysis(OutcomeFallback, result.EssentialityScore)
	obsctx.LoggerFromContext(ctx).Warn("returning fallback analysis",
		slog.String("outcome", OutcomeFallback),
		slog.Int("attempts", attempts),
		slog.String("error_kind", errorKind(cause)),
		slog.Duration("elapsed", time.Since(start)))
	return result
}

// errorKind names the domain sentinel behind err for logs and span status.
func errorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrUpstreamTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrUpstreamRateLimit):
		return "rate_limit"
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return "unavailable"
	case errors.Is(err, domain.ErrUpstreamStatus):
		return "status"
	case errors.Is(err, domain.ErrSchemaInvalid):
		return "schema"
	case errors.Is(err, domain.ErrInternal):
		return "internal"
	default:
		return "unknown"
	}
}
