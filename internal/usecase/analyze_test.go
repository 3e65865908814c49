package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-purchase-advisor/internal/adapter/ai"
	"github.com/fairyhunter13/ai-purchase-advisor/internal/adapter/ai/keypool"
	"github.com/fairyhunter13/ai-purchase-advisor/internal/domain"
	"github.com/fairyhunter13/ai-purchase-advisor/internal/service/opportunity"
)

type chatReply struct {
	content string
	err     error
}

// scriptedChat answers per credential and records the order of calls.
type scriptedChat struct {
	mu      sync.Mutex
	replies map[string]chatReply
	calls   []string
	prompts []domain.Prompt
}

func (c *scriptedChat) Chat(_ domain.Context, credential string, prompt domain.Prompt) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, credential)
	c.prompts = append(c.prompts, prompt)
	r, ok := c.replies[credential]
	if !ok {
		return "", fmt.Errorf("no reply scripted: %w", domain.ErrUpstreamUnavailable)
	}
	return r.content, r.err
}

var widgetRequest = domain.AnalysisRequest{Product: domain.Product{Name: "Widget", Price: 49.99, Currency: "USD"}}

const goodReply = "```json\n{\"isEssential\":true,\"essentialityScore\":0.9,\"reasoning\":\"Needed for work.\",\"warnings\":[],\"personalizedMessage\":\"Nice.\",\"suggestedAction\":\"proceed\"}\n```"

func newService(t *testing.T, keys []string, chat *scriptedChat) (AnalyzeService, *keypool.Tracker) {
	t.Helper()
	pool, err := keypool.New(keys)
	require.NoError(t, err)
	n := ai.NewNormalizer(opportunity.NewCalculator(opportunity.DefaultAnnualReturn))
	return NewAnalyzeService(chat, pool, n), pool
}

func stats(pool *keypool.Tracker) map[string]keypool.KeyStatus {
	out := map[string]keypool.KeyStatus{}
	for _, s := range pool.Snapshot() {
		out[s.Fingerprint] = s
	}
	return out
}

func TestAnalyzePurchase_FirstAttemptSucceeds(t *testing.T) {
	chat := &scriptedChat{replies: map[string]chatReply{"k1": {content: goodReply}}}
	svc, pool := newService(t, []string{"k1", "k2"}, chat)

	got := svc.AnalyzePurchase(context.Background(), widgetRequest)

	assert.Equal(t, []string{"k1"}, chat.calls)
	assert.True(t, got.IsEssential)
	assert.Equal(t, 0.9, got.EssentialityScore)
	assert.Equal(t, domain.ActionProceed, got.SuggestedAction)
	assert.Equal(t, 98.34, got.OpportunityCost.Projections.Years10)
	assert.Equal(t, 1, stats(pool)[keypool.Fingerprint("k1")].TotalSuccesses)
}

func TestAnalyzePurchase_RetriesOnDifferentCredential(t *testing.T) {
	chat := &scriptedChat{replies: map[string]chatReply{
		"k1": {err: fmt.Errorf("op=real.Chat: status 503: %w", domain.ErrUpstreamStatus)},
		"k2": {content: goodReply},
	}}
	svc, pool := newService(t, []string{"k1", "k2"}, chat)

	got := svc.AnalyzePurchase(context.Background(), widgetRequest)

	assert.Equal(t, []string{"k1", "k2"}, chat.calls)
	assert.Equal(t, domain.ActionProceed, got.SuggestedAction)
	assert.Equal(t, "Needed for work.", got.Reasoning)
	assert.Equal(t, chat.prompts[0], chat.prompts[1])

	st := stats(pool)
	assert.Equal(t, 1, st[keypool.Fingerprint("k1")].TotalFailures)
	assert.Equal(t, 0, st[keypool.Fingerprint("k1")].TotalSuccesses)
	assert.Equal(t, 1, st[keypool.Fingerprint("k2")].TotalSuccesses)
	assert.Equal(t, 0, st[keypool.Fingerprint("k2")].TotalFailures)
}

func TestAnalyzePurchase_BothAttemptsFail_ReturnsFallback(t *testing.T) {
	chat := &scriptedChat{replies: map[string]chatReply{
		"k1": {err: domain.ErrUpstreamTimeout},
		"k2": {err: domain.ErrUpstreamRateLimit},
		"k3": {content: goodReply},
	}}
	svc, pool := newService(t, []string{"k1", "k2", "k3"}, chat)

	got := svc.AnalyzePurchase(context.Background(), widgetRequest)

	assert.Equal(t, []string{"k1", "k2"}, chat.calls, "no third attempt")
	assert.Equal(t, ai.FallbackReasoning, got.Reasoning)
	assert.Equal(t, domain.ActionCooldown, got.SuggestedAction)
	assert.Equal(t, 0.5, got.EssentialityScore)
	assert.Equal(t, []domain.Warning{}, got.Warnings)
	assert.Equal(t, 49.99, got.OpportunityCost.Amount)
	require.NoError(t, got.Validate())

	st := stats(pool)
	assert.Equal(t, 1, st[keypool.Fingerprint("k1")].TotalFailures)
	assert.Equal(t, 1, st[keypool.Fingerprint("k2")].TotalFailures)
}

func TestAnalyzePurchase_SingleCredentialSkipsRetry(t *testing.T) {
	chat := &scriptedChat{replies: map[string]chatReply{"only": {err: domain.ErrUpstreamUnavailable}}}
	svc, pool := newService(t, []string{"only"}, chat)

	got := svc.AnalyzePurchase(context.Background(), widgetRequest)

	assert.Equal(t, []string{"only"}, chat.calls)
	assert.Equal(t, ai.FallbackReasoning, got.Reasoning)
	assert.Equal(t, 1, stats(pool)[keypool.Fingerprint("only")].TotalFailures)
}

func TestAnalyzePurchase_EmptyContentCountsAsFailure(t *testing.T) {
	chat := &scriptedChat{replies: map[string]chatReply{
		"k1": {content: "   "},
		"k2": {content: goodReply},
	}}
	svc, pool := newService(t, []string{"k1", "k2"}, chat)

	got := svc.AnalyzePurchase(context.Background(), widgetRequest)

	assert.Equal(t, []string{"k1", "k2"}, chat.calls)
	assert.Equal(t, domain.ActionProceed, got.SuggestedAction)
	assert.Equal(t, 1, stats(pool)[keypool.Fingerprint("k1")].TotalFailures)
}

func TestAnalyzePurchase_GarbageReplyIsNormalizedNotRetried(t *testing.T) {
	chat := &scriptedChat{replies: map[string]chatReply{
		"k1": {content: "I'd rather not answer in JSON."},
		"k2": {content: goodReply},
	}}
	svc, pool := newService(t, []string{"k1", "k2"}, chat)

	got := svc.AnalyzePurchase(context.Background(), widgetRequest)

	assert.Equal(t, []string{"k1"}, chat.calls)
	assert.Equal(t, ai.FallbackReasoning, got.Reasoning)
	assert.Equal(t, 1, stats(pool)[keypool.Fingerprint("k1")].TotalSuccesses)
}

func TestAnalyzePurchase_QuarantinedKeyIsSkippedNextTime(t *testing.T) {
	chat := &scriptedChat{replies: map[string]chatReply{
		"bad":  {err: domain.ErrUpstreamStatus},
		"good": {content: goodReply},
	}}
	svc, pool := newService(t, []string{"bad", "good"}, chat)

	for i := 0; i < 6; i++ {
		got := svc.AnalyzePurchase(context.Background(), widgetRequest)
		require.Equal(t, domain.ActionProceed, got.SuggestedAction)
	}
	st := stats(pool)[keypool.Fingerprint("bad")]
	assert.True(t, st.Quarantined)
	assert.Equal(t, 3, st.TotalFailures)
}

func TestAnalyzePurchase_Concurrent(t *testing.T) {
	chat := &scriptedChat{replies: map[string]chatReply{
		"k1": {err: domain.ErrUpstreamStatus},
		"k2": {content: goodReply},
		"k3": {content: goodReply},
	}}
	svc, pool := newService(t, []string{"k1", "k2", "k3"}, chat)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := svc.AnalyzePurchase(context.Background(), widgetRequest)
			assert.NoError(t, r.Validate())
		}()
	}
	wg.Wait()

	calls := 0
	for _, st := range pool.Snapshot() {
		calls += st.TotalFailures + st.TotalSuccesses
	}
	assert.Equal(t, len(chat.calls), calls)
}

func TestCallError_Unwraps(t *testing.T) {
	err := &CallError{Attempt: 2, KeyFingerprint: "key_ab", Err: domain.ErrUpstreamTimeout}
	assert.True(t, errors.Is(err, domain.ErrUpstreamTimeout))
	assert.Contains(t, err.Error(), "attempt 2")
	assert.Equal(t, "timeout", errorKind(err))
	assert.Equal(t, "unknown", errorKind(errors.New("x")))
}

func TestAnalyzePurchase_NonFinitePriceDoesNotPanic(t *testing.T) {
	chat := &scriptedChat{replies: map[string]chatReply{"k1": {content: goodReply}}}
	svc, _ := newService(t, []string{"k1"}, chat)
	req := domain.AnalysisRequest{Product: domain.Product{Name: "Widget", Price: math.Inf(1), Currency: "USD"}}

	var got domain.AnalysisResult
	require.NotPanics(t, func() { got = svc.AnalyzePurchase(context.Background(), req) })
	require.NoError(t, got.Validate())
	assert.Equal(t, []string{"k1"}, chat.calls)
	assert.Equal(t, 0.0, got.OpportunityCost.Amount)
	assert.Contains(t, chat.prompts[0].User, "- Price: $0.00")
}
