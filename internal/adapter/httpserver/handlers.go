package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/ai-purchase-advisor/internal/adapter/ai/keypool"
	"github.com/fairyhunter13/ai-purchase-advisor/internal/config"
	"github.com/fairyhunter13/ai-purchase-advisor/internal/domain"
	obsctx "github.com/fairyhunter13/ai-purchase-advisor/internal/observability"
)

// Analyzer runs one purchase analysis. It never fails.
type Analyzer interface {
	AnalyzePurchase(ctx domain.Context, req domain.AnalysisRequest) domain.AnalysisResult
}

// CredentialHealth reports the credential pool state without secrets.
type CredentialHealth interface {
	Snapshot() []keypool.KeyStatus
	Available() int
}

// Server aggregates handler dependencies.
type Server struct {
	Cfg         config.Config
	Analyzer    Analyzer
	Credentials CredentialHealth
	RedisCheck  func(ctx context.Context) error
}

// NewServer constructs an HTTP server with its handlers and checks wired.
func NewServer(cfg config.Config, analyzer Analyzer, creds CredentialHealth, redisCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Analyzer: analyzer, Credentials: creds, RedisCheck: redisCheck}
}

// AnalyzeResponse is the body of a successful analysis.
type AnalyzeResponse struct {
	AnalysisID string                `json:"analysis_id"`
	Result     domain.AnalysisResult `json:"result"`
}

func acceptsJSON(r *http.Request) bool {
	a := r.Header.Get("Accept")
	return a == "" || strings.Contains(a, "*/*") || strings.Contains(a, "application/json")
}

// AnalyzeHandler handles POST /v1/analyze.
func (s *Server) AnalyzeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(r) {
			writeJSON(w, http.StatusNotAcceptable, errorEnvelope{Error: apiError{
				Code: "INVALID_ARGUMENT", Message: "not acceptable", Details: map[string]string{"accept": r.Header.Get("Accept")},
			}})
			return
		}
		if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			writeJSON(w, http.StatusUnsupportedMediaType, errorEnvelope{Error: apiError{
				Code: "INVALID_ARGUMENT", Message: "content-type must be application/json",
			}})
			return
		}

		maxBytes := s.Cfg.MaxBodyKB * 1024
		if maxBytes <= 0 {
			maxBytes = 64 * 1024
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

		var req domain.AnalysisRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSON(w, http.StatusRequestEntityTooLarge, errorEnvelope{Error: apiError{
					Code: "INVALID_ARGUMENT", Message: "request body too large", Details: map[string]int64{"max_bytes": maxBytes},
				}})
				return
			}
			writeError(w, r, fmt.Errorf("%w: invalid json: %v", domain.ErrInvalidArgument, err), nil)
			return
		}
		if err := dec.Decode(&struct{}{}); err != io.EOF {
			writeError(w, r, fmt.Errorf("%w: body must contain a single JSON object", domain.ErrInvalidArgument), nil)
			return
		}
		if verrs := ValidateAnalysisRequest(req); len(verrs) > 0 {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), verrs)
			return
		}

		id := uuid.NewString()
		ctx := obsctx.ContextWithAnalysisID(r.Context(), id)
		result := s.Analyzer.AnalyzePurchase(ctx, req)
		obsctx.LoggerFromContext(ctx).Info("analysis served",
			slog.String("suggested_action", string(result.SuggestedAction)))
		writeJSON(w, http.StatusOK, AnalyzeResponse{AnalysisID: id, Result: result})
	}
}

// CredentialsHandler handles GET /v1/credentials.
func (s *Server) CredentialsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Credentials == nil {
			writeError(w, r, fmt.Errorf("op=httpserver.CredentialsHandler: %w", domain.ErrNoCredentials), nil)
			return
		}
		keys := s.Credentials.Snapshot()
		writeJSON(w, http.StatusOK, map[string]any{
			"total":     len(keys),
			"available": s.Credentials.Available(),
			"keys":      keys,
		})
	}
}

type readinessCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Details string `json:"details,omitempty"`
}

// ReadyzHandler reports whether the credential pool and optional Redis are usable.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := make([]readinessCheck, 0, 2)
		if s.Credentials == nil || len(s.Credentials.Snapshot()) == 0 {
			checks = append(checks, readinessCheck{Name: "credentials", OK: false, Details: domain.ErrNoCredentials.Error()})
		} else {
			checks = append(checks, readinessCheck{Name: "credentials", OK: true,
				Details: fmt.Sprintf("%d of %d available", s.Credentials.Available(), len(s.Credentials.Snapshot()))})
		}
		if s.RedisCheck != nil {
			if err := s.RedisCheck(ctx); err != nil {
				checks = append(checks, readinessCheck{Name: "redis", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, readinessCheck{Name: "redis", OK: true})
			}
		}

		st := http.StatusOK
		for _, c := range checks {
			if !c.OK {
				st = http.StatusServiceUnavailable
				break
			}
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}
