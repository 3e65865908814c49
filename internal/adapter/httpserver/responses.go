// Package httpserver exposes the purchase analyzer over a JSON HTTP API.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fairyhunter13/ai-purchase-advisor/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain sentinels onto status codes and the error envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error, details interface{}) {
	code := http.StatusInternalServerError
	codeStr := "INTERNAL"
	message := "internal error"
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		code = http.StatusBadRequest
		codeStr = "INVALID_ARGUMENT"
		message = err.Error()
	case errors.Is(err, domain.ErrRateLimited):
		code = http.StatusTooManyRequests
		codeStr = "RATE_LIMITED"
		message = err.Error()
	case errors.Is(err, domain.ErrNoCredentials):
		code = http.StatusServiceUnavailable
		codeStr = "NO_CREDENTIALS"
		message = err.Error()
	case errors.Is(err, domain.ErrUpstreamTimeout):
		code = http.StatusServiceUnavailable
		codeStr = "UPSTREAM_TIMEOUT"
		message = err.Error()
	case errors.Is(err, domain.ErrUpstreamRateLimit):
		code = http.StatusServiceUnavailable
		codeStr = "UPSTREAM_RATE_LIMIT"
		message = err.Error()
	case errors.Is(err, domain.ErrUpstreamUnavailable), errors.Is(err, domain.ErrUpstreamStatus):
		code = http.StatusServiceUnavailable
		codeStr = "UPSTREAM_UNAVAILABLE"
		message = err.Error()
	case errors.Is(err, domain.ErrSchemaInvalid):
		code = http.StatusServiceUnavailable
		codeStr = "SCHEMA_INVALID"
		message = err.Error()
	default:
		if r != nil {
			LoggerFrom(r).Error("unhandled error", "error", err)
		}
	}
	writeJSON(w, code, errorEnvelope{Error: apiError{Code: codeStr, Message: message, Details: details}})
}

// RateLimitExceeded writes the 429 envelope for requests rejected by the
// per-IP limiter.
func RateLimitExceeded(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, domain.ErrRateLimited, nil)
}
