package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Perplexity answers through its chat completions API and bills by token.
// The returned citations become the results.
type Perplexity struct {
	settings Settings
	endpoint string
	model    string
}

func NewPerplexity(s Settings) (Provider, error) {
	if strings.TrimSpace(s.APIKey) == "" {
		return nil, fmt.Errorf("perplexity: API key is missing")
	}
	return &Perplexity{
		settings: s,
		endpoint: s.baseURL("https://api.perplexity.ai") + "/chat/completions",
		model:    "sonar",
	}, nil
}

func (p *Perplexity) Name() string { return string(PerplexityName) }

func (p *Perplexity) Search(ctx context.Context, query string, max int) (Response, error) {
	payload, err := json.Marshal(map[string]any{
		"model": p.model,
		"messages": []map[string]string{
			{"role": "user", "content": query},
		},
	})
	if err != nil {
		return Response{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.settings.APIKey)

	var body struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Citations []string `json:"citations"`
		Usage     struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := doJSON(p.settings.httpClient(), "perplexity", req, &body); err != nil {
		return Response{}, err
	}

	snippet := ""
	if len(body.Choices) > 0 {
		snippet = body.Choices[0].Message.Content
	}
	results := make([]Result, 0, len(body.Citations))
	for i, u := range body.Citations {
		r := Result{Title: u, URL: u}
		if i == 0 {
			r.Snippet = snippet
		}
		results = append(results, r)
	}
	return Response{
		Provider:     p.Name(),
		Results:      truncate(results, max),
		InputTokens:  body.Usage.PromptTokens,
		OutputTokens: body.Usage.CompletionTokens,
	}, nil
}
