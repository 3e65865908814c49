package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-purchase-advisor/internal/adapter/ai/keypool"
	"github.com/fairyhunter13/ai-purchase-advisor/internal/config"
	"github.com/fairyhunter13/ai-purchase-advisor/internal/domain"
	obsctx "github.com/fairyhunter13/ai-purchase-advisor/internal/observability"
)

type fakeAnalyzer struct {
	mu       sync.Mutex
	requests []domain.AnalysisRequest
	ids      []string
}

func (f *fakeAnalyzer) AnalyzePurchase(ctx domain.Context, req domain.AnalysisRequest) domain.AnalysisResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	f.ids = append(f.ids, obsctx.AnalysisIDFromContext(ctx))
	return domain.AnalysisResult{
		EssentialityScore:   0.25,
		Reasoning:           "r",
		Warnings:            []domain.Warning{},
		OpportunityCost:     domain.OpportunityCost{Amount: req.Product.Price, Currency: req.Product.Currency},
		PersonalizedMessage: "m",
		SuggestedAction:     domain.ActionSkip,
	}
}

func newTestServer(t *testing.T) (*Server, *fakeAnalyzer, *keypool.Tracker) {
	t.Helper()
	pool, err := keypool.New([]string{"sk-one", "sk-two"})
	require.NoError(t, err)
	a := &fakeAnalyzer{}
	return NewServer(config.Config{MaxBodyKB: 1}, a, pool, nil), a, pool
}

func postAnalyze(s *Server, body string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/analyze", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, m := range mutate {
		m(req)
	}
	rec := httptest.NewRecorder()
	s.AnalyzeHandler()(rec, req)
	return rec
}

func TestAnalyzeHandler_Success(t *testing.T) {
	s, a, _ := newTestServer(t)

	rec := postAnalyze(s, `{"product":{"name":"Widget","price":49.99,"currency":"USD","urgencyIndicators":["Only 1 left"]},"userProfile":{"financialGoals":["save"],"monthlyBudget":300}}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp AnalyzeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	_, err := uuid.Parse(resp.AnalysisID)
	assert.NoError(t, err)
	assert.Equal(t, domain.ActionSkip, resp.Result.SuggestedAction)
	assert.Equal(t, 49.99, resp.Result.OpportunityCost.Amount)

	require.Len(t, a.requests, 1)
	assert.Equal(t, "Widget", a.requests[0].Product.Name)
	require.NotNil(t, a.requests[0].UserProfile)
	assert.Equal(t, 300.0, *a.requests[0].UserProfile.MonthlyBudget)
	assert.Equal(t, resp.AnalysisID, a.ids[0])

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	result := raw["result"].(map[string]any)
	assert.Contains(t, result, "essentialityScore")
	assert.Contains(t, result, "personalizedMessage")
}

func TestAnalyzeHandler_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		mutate     func(*http.Request)
		wantStatus int
		wantInBody string
	}{
		{"malformed json", `{"product":`, nil, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"unknown field", `{"product":{"name":"a","price":1,"currency":"USD"},"extra":1}`, nil, http.StatusBadRequest, "invalid json"},
		{"two objects", `{"product":{"name":"a","price":1,"currency":"USD"}}{}`, nil, http.StatusBadRequest, "single JSON object"},
		{"missing product", `{}`, nil, http.StatusBadRequest, "product"},
		{"negative price", `{"product":{"name":"a","price":-1,"currency":"USD"}}`, nil, http.StatusBadRequest, "product.price"},
		{"blank name", `{"product":{"name":"   ","price":1,"currency":"USD"}}`, nil, http.StatusBadRequest, "product.name"},
		{"missing currency", `{"product":{"name":"a","price":1}}`, nil, http.StatusBadRequest, "product.currency"},
		{"negative budget", `{"product":{"name":"a","price":1,"currency":"USD"},"userProfile":{"monthlyBudget":-5}}`, nil, http.StatusBadRequest, "userProfile.monthlyBudget"},
		{"too large", `{"product":{"name":"` + strings.Repeat("a", 2048) + `","price":1,"currency":"USD"}}`, nil, http.StatusRequestEntityTooLarge, "too large"},
		{"wrong content type", `{}`, func(r *http.Request) { r.Header.Set("Content-Type", "text/plain") }, http.StatusUnsupportedMediaType, "content-type"},
		{"not acceptable", `{}`, func(r *http.Request) { r.Header.Set("Accept", "text/html") }, http.StatusNotAcceptable, "not acceptable"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			s, a, _ := newTestServer(t)
			var mutate []func(*http.Request)
			if tt.mutate != nil {
				mutate = append(mutate, tt.mutate)
			}
			rec := postAnalyze(s, tt.body, mutate...)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), tt.wantInBody)
			assert.Empty(t, a.requests)
		})
	}
}

func TestCredentialsHandler_NoSecrets(t *testing.T) {
	s, _, pool := newTestServer(t)
	for i := 0; i < 3; i++ {
		pool.ReportError("sk-one")
	}

	rec := httptest.NewRecorder()
	s.CredentialsHandler()(rec, httptest.NewRequest(http.MethodGet, "/v1/credentials", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.NotContains(t, body, "sk-one")
	assert.NotContains(t, body, "sk-two")
	assert.Contains(t, body, keypool.Fingerprint("sk-one"))

	var resp struct {
		Total     int                 `json:"total"`
		Available int                 `json:"available"`
		Keys      []keypool.KeyStatus `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, 1, resp.Available)
	assert.True(t, resp.Keys[0].Quarantined)
}

func TestReadyzHandler(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.ReadyzHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"credentials"`)

	s.RedisCheck = func(context.Context) error { return errors.New("connection refused") }
	rec = httptest.NewRecorder()
	s.ReadyzHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")

	empty := NewServer(config.Config{}, &fakeAnalyzer{}, nil, nil)
	rec = httptest.NewRecorder()
	empty.ReadyzHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
