package llm

import (
	"context"
	"fmt"
	"strings"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicModel   = "claude-3-5-sonnet-latest"
	anthropicVersion        = "2023-06-01"
)

// Anthropic calls the Messages API
type Anthropic struct {
	settings Settings
	baseURL  string
	model    string
}

func NewAnthropic(s Settings) (Client, error) {
	if s.APIKey == "" {
		return nil, fmt.Errorf("anthropic: API key is missing")
	}
	return &Anthropic{
		settings: s,
		baseURL:  s.baseURL(defaultAnthropicBaseURL),
		model:    s.model(defaultAnthropicModel),
	}, nil
}

type anthropicRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	System      string        `json:"system,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (c *Anthropic) Generate(ctx context.Context, prompt Prompt) (Completion, error) {
	maxTokens := prompt.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	system := prompt.System
	if prompt.JSON {
		system = strings.TrimSpace(system + "\nRespond with a single JSON object and nothing else.")
	}

	req := anthropicRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		System:      system,
		Messages:    []chatMessage{{Role: "user", Content: prompt.User}},
		Temperature: prompt.Temperature,
	}
	headers := map[string]string{
		"x-api-key":         c.settings.APIKey,
		"anthropic-version": anthropicVersion,
	}

	var resp anthropicResponse
	if err := postJSON(ctx, c.settings.httpClient(), "anthropic", c.baseURL+"/v1/messages", headers, req, &resp); err != nil {
		return Completion{}, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	model := resp.Model
	if model == "" {
		model = c.model
	}
	return Completion{
		Text:         text.String(),
		Model:        model,
		Provider:     "anthropic",
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}
