package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"docchat-go/internal/config"
)

// RateLimitedClient 用令牌桶限制对生成接口的调用速率，避免触发供应商的配额限制。
type RateLimitedClient struct {
	inner    Client
	provider string
	limiter  *rate.Limiter
}

// NewRateLimitedClient 包装 inner。Burst 小于 1 时按 1 处理。
func NewRateLimitedClient(inner Client, provider string, cfg config.RateLimitConfig) *RateLimitedClient {
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedClient{
		inner:    inner,
		provider: provider,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
	}
}

// Generate 等待令牌后再调用 inner，等待期间 ctx 结束则返回 *GenerationError。
func (c *RateLimitedClient) Generate(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", generationFailed(c.provider, fmt.Errorf("rate limit wait: %w", err))
	}
	return c.inner.Generate(ctx, prompt)
}
