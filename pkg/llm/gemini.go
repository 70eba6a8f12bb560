package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"docchat-go/internal/config"
	"docchat-go/pkg/log"
)

type geminiClient struct {
	cfg    config.LLMConfig
	client *http.Client
}

func newGeminiClient(cfg config.LLMConfig) *geminiClient {
	return &geminiClient{cfg: cfg, client: &http.Client{}}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

// Generate calls {base}/models/{model}:generateContent.
func (c *geminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := withTimeout(ctx, c.cfg)
	defer cancel()

	reqBody := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
	}
	params := paramsFromConfig(c.cfg.Generation)
	if params.Temperature != nil || params.TopP != nil || params.MaxTokens != nil {
		reqBody.GenerationConfig = &geminiGenerationConfig{
			Temperature:     params.Temperature,
			TopP:            params.TopP,
			MaxOutputTokens: params.MaxTokens,
		}
	}

	model := strings.TrimPrefix(c.cfg.Model, "models/")
	url := fmt.Sprintf("%s/models/%s:generateContent", strings.TrimRight(c.cfg.BaseURL, "/"), model)

	log.Debugf("[LLMClient] 调用 Gemini generateContent, model: %s, prompt_len: %d", model, len(prompt))
	var resp geminiResponse
	err := postJSON(ctx, c.client, url, map[string]string{"x-goog-api-key": c.cfg.APIKey}, reqBody, &resp)
	if err != nil {
		return "", generationFailed("gemini", err)
	}
	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", generationFailed("gemini", fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason))
		}
		return "", generationFailed("gemini", errors.New("response contains no candidates"))
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}
