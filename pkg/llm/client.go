// Package llm provides clients for interacting with Large Language Models.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"docchat-go/internal/config"
	"docchat-go/pkg/log"
)

// Client defines the interface for an LLM client.
type Client interface {
	// Generate 发送单条提示词并返回完整回答。任何失败都以 *GenerationError 返回。
	Generate(ctx context.Context, prompt string) (string, error)
}

// GenerationError 包装一次生成调用的失败原因（网络、配额、响应格式等）。
type GenerationError struct {
	Provider string
	Cause    error
}

func (e *GenerationError) Error() string {
	return e.Cause.Error()
}

func (e *GenerationError) Unwrap() error { return e.Cause }

// NewClient creates a new LLM client based on the provider in the config.
func NewClient(cfg config.LLMConfig) (Client, error) {
	var client Client
	switch cfg.Provider {
	case "openai", "deepseek", "":
		client = newOpenAICompatibleClient(cfg)
	case "gemini":
		client = newGeminiClient(cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if cfg.RateLimit.RequestsPerSecond > 0 {
		client = NewRateLimitedClient(client, cfg.Provider, cfg.RateLimit)
	}
	return client, nil
}

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams 控制生成行为，nil 字段不下发。
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// paramsFromConfig 仅注入非零的配置项。
func paramsFromConfig(g config.LLMGenerationConfig) GenerationParams {
	var p GenerationParams
	if g.Temperature != 0 {
		t := g.Temperature
		p.Temperature = &t
	}
	if g.TopP != 0 {
		v := g.TopP
		p.TopP = &v
	}
	if g.MaxTokens != 0 {
		m := g.MaxTokens
		p.MaxTokens = &m
	}
	return p
}

// withTimeout 为单次调用加上配置的超时时间。
func withTimeout(ctx context.Context, cfg config.LLMConfig) (context.Context, context.CancelFunc) {
	if d := cfg.Timeout(); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

// postJSON 发送 JSON 请求并将 200 响应解码到 out。
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, in, out interface{}) error {
	reqBytes, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("api returned non-200 status: %s, body: %s", resp.Status, strings.TrimSpace(string(bodyBytes)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func generationFailed(provider string, err error) error {
	log.Errorf("[LLMClient] %s 生成失败: %v", provider, err)
	return &GenerationError{Provider: provider, Cause: err}
}
