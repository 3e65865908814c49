// Package real implements domain.ChatClient against an OpenAI-compatible
// chat completions API.
package real

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/ai-purchase-advisor/internal/adapter/ai/keypool"
	"github.com/fairyhunter13/ai-purchase-advisor/internal/adapter/ai/tokencount"
	"github.com/fairyhunter13/ai-purchase-advisor/internal/adapter/observability"
	"github.com/fairyhunter13/ai-purchase-advisor/internal/config"
	"github.com/fairyhunter13/ai-purchase-advisor/internal/domain"
	obsctx "github.com/fairyhunter13/ai-purchase-advisor/internal/observability"
	"github.com/fairyhunter13/ai-purchase-advisor/internal/service/ratelimiter"
)

// Fixed generation parameters. Callers cannot change them per request.
const (
	Model           = "gpt-4o-mini"
	MaxOutputTokens = 1024
	Temperature     = 0.3
	TopP            = 0.9
)

const (
	provider      = "openai_compatible"
	operation     = "chat"
	snippetLength = 512
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Client sends one chat completion per Chat call. Retrying across
// credentials is the caller's job.
type Client struct {
	baseURL string
	referer string
	title   string
	hc      *http.Client
	limiter ratelimiter.Limiter
	counter *tokencount.Counter
}

var _ domain.ChatClient = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithLimiter enables per-credential rate limiting. Buckets are keyed by the
// credential fingerprint.
func WithLimiter(l ratelimiter.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.hc = hc
		}
	}
}

// New constructs a client from configuration.
func New(cfg config.Config, opts ...Option) *Client {
	timeout := cfg.LLMTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(cfg.LLMBaseURL, "/"),
		referer: cfg.LLMReferer,
		title:   cfg.LLMTitle,
		hc: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		counter: tokencount.Default,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Chat sends prompt using credential and returns the first choice's content.
func (c *Client) Chat(ctx domain.Context, credential string, prompt domain.Prompt) (string, error) {
	lg := obsctx.LoggerFromContext(ctx)
	fp := keypool.Fingerprint(credential)

	if c.limiter != nil {
		allowed, retryAfter, err := c.limiter.Allow(ctx, fp, 1)
		if err != nil {
			lg.Warn("credential limiter unavailable; allowing call", slog.String("key", fp), slog.Any("error", err))
		} else if !allowed {
			observability.AIRequestsTotal.WithLabelValues(provider, operation, "throttled").Inc()
			lg.Warn("credential locally rate limited", slog.String("key", fp), slog.Duration("retry_after", retryAfter))
			return "", fmt.Errorf("op=real.Chat: local limit, retry after %s: %w", retryAfter, domain.ErrUpstreamRateLimit)
		}
	}

	body, err := json.Marshal(chatRequest{
		Model: Model,
		Messages: []chatMessage{
			{Role: "system", Content: prompt.System},
			{Role: "user", Content: prompt.User},
		},
		Temperature: Temperature,
		TopP:        TopP,
		MaxTokens:   MaxOutputTokens,
		Stream:      false,
	})
	if err != nil {
		return "", fmt.Errorf("op=real.Chat: marshal: %w", domain.ErrInternal)
	}

	endpoint := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("op=real.Chat: build request: %v: %w", err, domain.ErrInternal)
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Content-Type", "application/json")
	if c.referer != "" {
		req.Header.Set("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		req.Header.Set("X-Title", c.title)
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		c.observe("error", start)
		classified := classifyTransportError(err)
		lg.Warn("ai provider call failed",
			slog.String("provider", provider),
			slog.String("key", fp),
			slog.Duration("elapsed", time.Since(start)),
			slog.Any("error", err))
		return "", fmt.Errorf("op=real.Chat: %v: %w", err, classified)
	}
	defer func() { _ = resp.Body.Close() }()

	status := strconv.Itoa(resp.StatusCode)
	if resp.StatusCode == http.StatusTooManyRequests {
		c.observe(status, start)
		lg.Warn("ai provider rate limited",
			slog.String("provider", provider),
			slog.String("key", fp),
			slog.String("retry_after", resp.Header.Get("Retry-After")),
			slog.String("x_request_id", resp.Header.Get("X-Request-Id")))
		return "", fmt.Errorf("op=real.Chat: status 429: %w", domain.ErrUpstreamRateLimit)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.observe(status, start)
		lg.Warn("ai provider non-2xx",
			slog.String("provider", provider),
			slog.String("key", fp),
			slog.Int("status", resp.StatusCode),
			slog.String("x_request_id", resp.Header.Get("X-Request-Id")),
			slog.String("body", readSnippet(resp.Body, snippetLength)))
		return "", fmt.Errorf("op=real.Chat: status %d: %w", resp.StatusCode, domain.ErrUpstreamStatus)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.observe("error", start)
		return "", fmt.Errorf("op=real.Chat: read body: %v: %w", err, classifyTransportError(err))
	}
	c.observe(status, start)

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		lg.Warn("ai provider decode error", slog.String("provider", provider), slog.Any("error", err))
		return "", fmt.Errorf("op=real.Chat: decode: %v: %w", err, domain.ErrSchemaInvalid)
	}
	if len(out.Choices) == 0 {
		lg.Warn("ai provider returned empty choices", slog.String("provider", provider))
		return "", fmt.Errorf("op=real.Chat: empty choices: %w", domain.ErrSchemaInvalid)
	}
	content := out.Choices[0].Message.Content

	if out.Usage != nil {
		observability.ObserveTokens(out.Usage.PromptTokens, out.Usage.CompletionTokens)
	} else if c.counter != nil {
		u := c.counter.Estimate(prompt, content, Model)
		observability.ObserveTokens(u.PromptTokens, u.CompletionTokens)
	}
	if out.Model != "" && out.Model != Model {
		lg.Debug("provider served a different model",
			slog.String("requested_model", Model),
			slog.String("actual_model", out.Model))
	}
	lg.Info("ai provider call succeeded",
		slog.String("provider", provider),
		slog.String("key", fp),
		slog.Duration("elapsed", time.Since(start)),
		slog.Int("content_length", len(content)))
	return content, nil
}

func (c *Client) observe(status string, start time.Time) {
	observability.AIRequestsTotal.WithLabelValues(provider, operation, status).Inc()
	observability.AIRequestDuration.WithLabelValues(provider, operation).Observe(time.Since(start).Seconds())
}

// classifyTransportError maps a failed round trip onto the domain taxonomy.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrUpstreamTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return domain.ErrUpstreamTimeout
	}
	return domain.ErrUpstreamUnavailable
}

// readSnippet reads at most n bytes from r for logging.
func readSnippet(r io.Reader, n int) string {
	if r == nil || n <= 0 {
		return ""
	}
	b, _ := io.ReadAll(io.LimitReader(r, int64(n)))
	return string(b)
}
