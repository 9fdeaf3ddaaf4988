package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Tavily calls the Tavily search API
type Tavily struct {
	settings Settings
	endpoint string
}

func NewTavily(s Settings) (Provider, error) {
	if strings.TrimSpace(s.APIKey) == "" {
		return nil, fmt.Errorf("tavily: API key is missing")
	}
	return &Tavily{settings: s, endpoint: s.baseURL("https://api.tavily.com") + "/search"}, nil
}

func (t *Tavily) Name() string { return string(TavilyName) }

func (t *Tavily) Search(ctx context.Context, query string, max int) (Response, error) {
	payload, err := json.Marshal(map[string]any{
		"query":        query,
		"api_key":      t.settings.APIKey,
		"search_depth": "basic",
		"max_results":  max,
	})
	if err != nil {
		return Response{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var body struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := doJSON(t.settings.httpClient(), "tavily", req, &body); err != nil {
		return Response{}, err
	}

	results := make([]Result, 0, len(body.Results))
	for _, r := range body.Results {
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return Response{Provider: t.Name(), Results: truncate(results, max)}, nil
}
