package llm

import (
	"context"
	"fmt"
	"strings"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o-mini"
)

// OpenAI talks to any OpenAI-compatible chat completions endpoint
type OpenAI struct {
	settings Settings
	baseURL  string
	model    string
}

// NewOpenAI creates an OpenAI client. A custom base URL without an API key
// is allowed for self-hosted compatible servers.
func NewOpenAI(s Settings) (Client, error) {
	if s.APIKey == "" && s.BaseURL == "" {
		return nil, fmt.Errorf("openai: API key is missing")
	}
	return &OpenAI{
		settings: s,
		baseURL:  normalizeBaseURL(s.baseURL(defaultOpenAIBaseURL)),
		model:    s.model(defaultOpenAIModel),
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature,omitempty"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	ResponseFormat any           `json:"response_format,omitempty"`
}

type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Citations []string `json:"citations,omitempty"`
}

func (c *OpenAI) Generate(ctx context.Context, prompt Prompt) (Completion, error) {
	req := chatRequest{
		Model:       c.model,
		Messages:    messages(prompt),
		Temperature: prompt.Temperature,
		MaxTokens:   prompt.MaxTokens,
	}
	if prompt.JSON {
		req.ResponseFormat = map[string]string{"type": "json_object"}
	}

	headers := map[string]string{}
	if c.settings.APIKey != "" {
		headers["Authorization"] = "Bearer " + c.settings.APIKey
	}

	var resp chatCompletionResponse
	if err := postJSON(ctx, c.settings.httpClient(), "openai", c.baseURL+"/chat/completions", headers, req, &resp); err != nil {
		return Completion{}, err
	}
	if len(resp.Choices) == 0 {
		return Completion{}, fmt.Errorf("openai: response has no choices")
	}

	model := resp.Model
	if model == "" {
		model = c.model
	}
	return Completion{
		Text:         resp.Choices[0].Message.Content,
		Model:        model,
		Provider:     "openai",
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

func messages(prompt Prompt) []chatMessage {
	var msgs []chatMessage
	if prompt.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: prompt.System})
	}
	return append(msgs, chatMessage{Role: "user", Content: prompt.User})
}

func normalizeBaseURL(baseURL string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	if strings.HasSuffix(trimmed, "/v1") {
		return trimmed
	}
	return trimmed + "/v1"
}
