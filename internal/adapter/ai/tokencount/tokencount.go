// Package tokencount estimates prompt and completion token usage for the
// chat model using tiktoken-go with the embedded BPE tables, so counting
// never needs network access.
package tokencount

import (
	"log/slog"
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	"github.com/fairyhunter13/ai-purchase-advisor/internal/domain"
)

const fallbackEncoding = "cl100k_base"

// Per-message framing used by OpenAI-compatible chat APIs.
const (
	tokensPerMessage = 3
	tokensPerReply   = 3
)

func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// Usage is the token count of one chat exchange.
type Usage struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	Model            string `json:"model"`
}

// Counter caches encodings per model and is safe for concurrent use.
type Counter struct {
	mu        sync.RWMutex
	encodings map[string]*tiktoken.Tiktoken
}

// NewCounter creates an empty counter.
func NewCounter() *Counter {
	return &Counter{encodings: make(map[string]*tiktoken.Tiktoken)}
}

// Default is the process-wide counter.
var Default = NewCounter()

func (c *Counter) encoding(model string) (*tiktoken.Tiktoken, error) {
	name := encodingModel(model)

	c.mu.RLock()
	enc, ok := c.encodings[name]
	c.mu.RUnlock()
	if ok {
		return enc, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.encodings[name]; ok {
		return enc, nil
	}
	enc, err := tiktoken.EncodingForModel(name)
	if err != nil {
		slog.Debug("no encoding for model, using cl100k_base",
			slog.String("model", model),
			slog.Any("error", err))
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return nil, err
		}
	}
	c.encodings[name] = enc
	return enc, nil
}

// encodingModel maps provider model ids like "openai/gpt-4o-mini" onto a
// name tiktoken knows.
func encodingModel(model string) string {
	model = strings.ToLower(strings.TrimSpace(model))
	if i := strings.LastIndex(model, "/"); i >= 0 {
		model = model[i+1:]
	}
	if i := strings.IndexByte(model, ':'); i >= 0 {
		model = model[:i]
	}
	switch {
	case strings.HasPrefix(model, "gpt-4o"), strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"):
		return "gpt-4o"
	case strings.HasPrefix(model, "gpt-3.5"):
		return "gpt-3.5-turbo"
	default:
		return "gpt-4"
	}
}

// Count returns the token count of text.
func (c *Counter) Count(text, model string) (int, error) {
	enc, err := c.encoding(model)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// CountPrompt counts a system plus user chat request including message framing.
func (c *Counter) CountPrompt(prompt domain.Prompt, model string) (int, error) {
	enc, err := c.encoding(model)
	if err != nil {
		return 0, err
	}
	n := tokensPerReply
	for _, m := range [][2]string{{"system", prompt.System}, {"user", prompt.User}} {
		n += tokensPerMessage
		n += len(enc.Encode(m[0], nil, nil))
		n += len(enc.Encode(m[1], nil, nil))
	}
	return n, nil
}

// Estimate computes usage for one exchange. Encoding failures degrade to a
// four-characters-per-token estimate.
func (c *Counter) Estimate(prompt domain.Prompt, completion, model string) Usage {
	promptTokens, err := c.CountPrompt(prompt, model)
	if err != nil {
		slog.Warn("prompt token count failed, estimating", slog.String("model", model), slog.Any("error", err))
		promptTokens = (len(prompt.System) + len(prompt.User)) / 4
	}
	completionTokens, err := c.Count(completion, model)
	if err != nil {
		slog.Warn("completion token count failed, estimating", slog.String("model", model), slog.Any("error", err))
		completionTokens = len(completion) / 4
	}
	return Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
		Model:            model,
	}
}
