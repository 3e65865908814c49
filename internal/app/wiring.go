package app

import (
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	ai "github.com/fairyhunter13/ai-purchase-advisor/internal/adapter/ai"
	"github.com/fairyhunter13/ai-purchase-advisor/internal/adapter/ai/keypool"
	"github.com/fairyhunter13/ai-purchase-advisor/internal/adapter/ai/real"
	"github.com/fairyhunter13/ai-purchase-advisor/internal/config"
	"github.com/fairyhunter13/ai-purchase-advisor/internal/service/opportunity"
	"github.com/fairyhunter13/ai-purchase-advisor/internal/service/ratelimiter"
	"github.com/fairyhunter13/ai-purchase-advisor/internal/usecase"
)

// Advisor bundles the analysis service with the infrastructure it owns.
type Advisor struct {
	Service usecase.AnalyzeService
	Pool    *keypool.Tracker
	Redis   *redis.Client
}

// Close releases the Redis connection if one was opened.
func (a *Advisor) Close() error {
	if a == nil || a.Redis == nil {
		return nil
	}
	return a.Redis.Close()
}

// BuildAdvisor loads credentials and wires the model client, key pool,
// optional per-key limiter, normalizer and analysis service.
func BuildAdvisor(cfg config.Config) (*Advisor, error) {
	keys, err := cfg.Credentials()
	if err != nil {
		return nil, fmt.Errorf("op=app.BuildAdvisor: %w", err)
	}
	pool, err := keypool.New(keys,
		keypool.WithFailureThreshold(cfg.KeyFailureThreshold),
		keypool.WithQuarantine(cfg.KeyQuarantineBase, cfg.KeyQuarantineMax),
	)
	if err != nil {
		return nil, fmt.Errorf("op=app.BuildAdvisor: %w", err)
	}

	rdb, err := NewRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("op=app.BuildAdvisor: %w", err)
	}
	var opts []real.Option
	if bucket := ratelimiter.NewBucketConfigFromPerMinute(cfg.KeyRatePerMin); rdb != nil && bucket.Enabled() {
		opts = append(opts, real.WithLimiter(ratelimiter.NewRedisLuaLimiter(rdb, bucket)))
		slog.Info("per-key rate limit enabled", slog.Int("per_min", cfg.KeyRatePerMin))
	}

	calc := opportunity.NewCalculator(cfg.OpportunityAnnualReturn)
	svc := usecase.NewAnalyzeService(real.New(cfg, opts...), pool, ai.NewNormalizer(calc))
	slog.Info("advisor ready", slog.Int("credentials", pool.Size()))
	return &Advisor{Service: svc, Pool: pool, Redis: rdb}, nil
}
