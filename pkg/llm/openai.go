package llm

import (
	"context"
	"errors"
	"net/http"

	"docchat-go/internal/config"
	"docchat-go/pkg/log"
)

type openAICompatibleClient struct {
	cfg    config.LLMConfig
	client *http.Client
}

func newOpenAICompatibleClient(cfg config.LLMConfig) *openAICompatibleClient {
	return &openAICompatibleClient{cfg: cfg, client: &http.Client{}}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Generate calls the /chat/completions endpoint with a single user message.
func (c *openAICompatibleClient) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := withTimeout(ctx, c.cfg)
	defer cancel()

	params := paramsFromConfig(c.cfg.Generation)
	reqBody := chatRequest{
		Model:       c.cfg.Model,
		Messages:    []Message{{Role: "user", Content: prompt}},
		Temperature: params.Temperature,
		TopP:        params.TopP,
		MaxTokens:   params.MaxTokens,
	}

	log.Debugf("[LLMClient] 调用 chat/completions, model: %s, prompt_len: %d", c.cfg.Model, len(prompt))
	var resp chatResponse
	err := postJSON(ctx, c.client, c.cfg.BaseURL+"/chat/completions",
		map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}, reqBody, &resp)
	if err != nil {
		return "", generationFailed("openai", err)
	}
	if len(resp.Choices) == 0 {
		return "", generationFailed("openai", errors.New("response contains no choices"))
	}
	return resp.Choices[0].Message.Content, nil
}
