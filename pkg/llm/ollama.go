package llm

import (
	"context"
)

const (
	defaultOllamaBaseURL = "http://localhost:11434"
	defaultOllamaModel   = "llama3"
)

// Ollama calls a local Ollama server's chat endpoint
type Ollama struct {
	settings Settings
	baseURL  string
	model    string
}

func NewOllama(s Settings) (Client, error) {
	return &Ollama{
		settings: s,
		baseURL:  s.baseURL(defaultOllamaBaseURL),
		model:    s.model(defaultOllamaModel),
	}, nil
}

type ollamaRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Model           string      `json:"model"`
	Message         chatMessage `json:"message"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
}

func (c *Ollama) Generate(ctx context.Context, prompt Prompt) (Completion, error) {
	req := ollamaRequest{
		Model:    c.model,
		Messages: messages(prompt),
	}
	if prompt.JSON {
		req.Format = "json"
	}
	if prompt.Temperature > 0 {
		req.Options = map[string]any{"temperature": prompt.Temperature}
	}

	var resp ollamaResponse
	if err := postJSON(ctx, c.settings.httpClient(), "ollama", c.baseURL+"/api/chat", nil, req, &resp); err != nil {
		return Completion{}, err
	}

	model := resp.Model
	if model == "" {
		model = c.model
	}
	return Completion{
		Text:         resp.Message.Content,
		Model:        model,
		Provider:     "ollama",
		InputTokens:  resp.PromptEvalCount,
		OutputTokens: resp.EvalCount,
	}, nil
}
