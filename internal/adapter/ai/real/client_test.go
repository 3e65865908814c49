package real

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-purchase-advisor/internal/config"
	"github.com/fairyhunter13/ai-purchase-advisor/internal/domain"
	"github.com/fairyhunter13/ai-purchase-advisor/internal/service/ratelimiter"
)

var testPrompt = domain.Prompt{System: "system text", User: "user text"}

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	cfg := config.Config{
		LLMBaseURL: ts.URL + "/",
		LLMReferer: "https://advisor.example",
		LLMTitle:   "Advisor",
		LLMTimeout: 2 * time.Second,
	}
	return New(cfg, opts...)
}

func writeChoice(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"model":   Model,
		"choices": []map[string]any{{"message": map[string]any{"content": content}}},
	})
}

func TestChat_SendsFixedParameters(t *testing.T) {
	var got chatRequest
	var headers http.Header
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		headers = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeChoice(w, `{"isEssential":true}`)
	})

	out, err := c.Chat(context.Background(), "sk-test", testPrompt)
	require.NoError(t, err)
	assert.Equal(t, `{"isEssential":true}`, out)

	assert.Equal(t, Model, got.Model)
	assert.Equal(t, MaxOutputTokens, got.MaxTokens)
	assert.InDelta(t, Temperature, got.Temperature, 1e-9)
	assert.InDelta(t, TopP, got.TopP, 1e-9)
	assert.False(t, got.Stream)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, chatMessage{Role: "system", Content: "system text"}, got.Messages[0])
	assert.Equal(t, chatMessage{Role: "user", Content: "user text"}, got.Messages[1])

	assert.Equal(t, "Bearer sk-test", headers.Get("Authorization"))
	assert.Equal(t, "https://advisor.example", headers.Get("HTTP-Referer"))
	assert.Equal(t, "Advisor", headers.Get("X-Title"))
}

func TestChat_ErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{"429", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}, domain.ErrUpstreamRateLimit},
		{"500", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}, domain.ErrUpstreamStatus},
		{"401", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad key", http.StatusUnauthorized)
		}, domain.ErrUpstreamStatus},
		{"not json", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>"))
		}, domain.ErrSchemaInvalid},
		{"empty choices", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"choices":[]}`))
		}, domain.ErrSchemaInvalid},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler)
			out, err := c.Chat(context.Background(), "k", testPrompt)
			require.Error(t, err)
			assert.Empty(t, out)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.NotContains(t, err.Error(), "Bearer")
		})
	}
}

func TestChat_Timeout(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)
	c.hc.Timeout = 50 * time.Millisecond

	_, err := c.Chat(context.Background(), "k", testPrompt)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUpstreamTimeout), "got %v", err)
}

func TestChat_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c := New(config.Config{LLMBaseURL: url, LLMTimeout: time.Second})
	_, err := c.Chat(context.Background(), "k", testPrompt)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUpstreamUnavailable), "got %v", err)
}

func TestChat_LocalLimiterDeniesWithoutCalling(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	limiter := ratelimiter.NewRedisLuaLimiter(rdb, ratelimiter.BucketConfig{Capacity: 1, RefillRate: 0.001})

	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeChoice(w, "{}")
	}, WithLimiter(limiter))

	_, err := c.Chat(context.Background(), "k1", testPrompt)
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), "k1", testPrompt)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUpstreamRateLimit))
	assert.Equal(t, 1, calls)

	// a different credential has its own bucket
	_, err = c.Chat(context.Background(), "k2", testPrompt)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestChat_LimiterErrorFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	limiter := ratelimiter.NewRedisLuaLimiter(rdb, ratelimiter.NewBucketConfigFromPerMinute(1))
	mr.Close()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeChoice(w, "ok")
	}, WithLimiter(limiter))

	out, err := c.Chat(context.Background(), "k", testPrompt)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestReadSnippet(t *testing.T) {
	assert.Equal(t, "", readSnippet(nil, 10))
	assert.Equal(t, "abc", readSnippet(strings.NewReader("abcdef"), 3))
}
