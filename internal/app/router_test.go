package app

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpserver "github.com/fairyhunter13/ai-purchase-advisor/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-purchase-advisor/internal/adapter/ai/keypool"
	"github.com/fairyhunter13/ai-purchase-advisor/internal/config"
	"github.com/fairyhunter13/ai-purchase-advisor/internal/domain"
)

func TestParseOrigins(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", []string{"*"}},
		{"*", []string{"*"}},
		{" , ,", []string{"*"}},
		{"https://a.example", []string{"https://a.example"}},
		{" https://a.example , https://b.example ", []string{"https://a.example", "https://b.example"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseOrigins(tt.in), "input %q", tt.in)
	}
}

type stubAnalyzer struct{}

func (stubAnalyzer) AnalyzePurchase(_ domain.Context, req domain.AnalysisRequest) domain.AnalysisResult {
	return domain.AnalysisResult{
		EssentialityScore:   0.5,
		Reasoning:           "ok",
		Warnings:            []domain.Warning{},
		OpportunityCost:     domain.OpportunityCost{Amount: req.Product.Price, Currency: req.Product.Currency},
		PersonalizedMessage: "ok",
		SuggestedAction:     domain.ActionCooldown,
	}
}

func newRouter(t *testing.T, cfg config.Config) http.Handler {
	t.Helper()
	pool, err := keypool.New([]string{"sk-a"})
	require.NoError(t, err)
	srv := httpserver.NewServer(cfg, stubAnalyzer{}, pool, nil)
	return BuildRouter(cfg, srv)
}

func TestBuildRouter_Routes(t *testing.T) {
	h := newRouter(t, config.Config{RateLimitPerMin: 100, MaxBodyKB: 64})

	tests := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodGet, "/healthz", "", http.StatusOK},
		{http.MethodGet, "/readyz", "", http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodGet, "/v1/credentials", "", http.StatusOK},
		{http.MethodPost, "/v1/analyze", `{"product":{"name":"Mug","price":12,"currency":"USD"}}`, http.StatusOK},
		{http.MethodGet, "/v1/analyze", "", http.StatusMethodNotAllowed},
		{http.MethodGet, "/v1/nope", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
		if tt.body != "" {
			req.Header.Set("Content-Type", "application/json")
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, tt.want, rec.Code, "%s %s: %s", tt.method, tt.path, rec.Body.String())
	}
}

func TestBuildRouter_HeadersAndRequestID(t *testing.T) {
	h := newRouter(t, config.Config{RateLimitPerMin: 100})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-Id"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestBuildRouter_RateLimitsAnalyze(t *testing.T) {
	h := newRouter(t, config.Config{RateLimitPerMin: 2, MaxBodyKB: 64})
	body := `{"product":{"name":"Mug","price":12,"currency":"USD"}}`

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/analyze", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "10.0.0.1:1234"
		last = httptest.NewRecorder()
		h.ServeHTTP(last, req)
		codes = append(codes, last.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Contains(t, last.Header().Get("Content-Type"), "application/json")
	assert.JSONEq(t, `{"error":{"code":"RATE_LIMITED","message":"rate limited","details":null}}`, last.Body.String())

	// Other routes are not limited.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/credentials", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
