package embedding

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"docchat-go/internal/config"
)

// RateLimitedClient 限制 inner 的调用速率，入库大文档时分块会连续请求 embedding 接口。
type RateLimitedClient struct {
	Client
	limiter *rate.Limiter
}

func NewRateLimitedClient(inner Client, cfg config.RateLimitConfig) *RateLimitedClient {
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedClient{
		Client:  inner,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
	}
}

func (c *RateLimitedClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding rate limit wait: %w", err)
	}
	return c.Client.CreateEmbedding(ctx, text)
}
