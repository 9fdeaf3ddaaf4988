package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Serper calls the serper.dev Google search API
type Serper struct {
	settings Settings
	endpoint string
}

func NewSerper(s Settings) (Provider, error) {
	if strings.TrimSpace(s.APIKey) == "" {
		return nil, fmt.Errorf("serper: API key is missing")
	}
	return &Serper{settings: s, endpoint: s.baseURL("https://google.serper.dev") + "/search"}, nil
}

func (s *Serper) Name() string { return string(SerperName) }

func (s *Serper) Search(ctx context.Context, query string, max int) (Response, error) {
	payload, err := json.Marshal(map[string]any{"q": query, "num": max})
	if err != nil {
		return Response{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", s.settings.APIKey)

	var body struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
	}
	if err := doJSON(s.settings.httpClient(), "serper", req, &body); err != nil {
		return Response{}, err
	}

	results := make([]Result, 0, len(body.Organic))
	for _, r := range body.Organic {
		results = append(results, Result{Title: r.Title, URL: r.Link, Snippet: r.Snippet})
	}
	return Response{Provider: s.Name(), Results: truncate(results, max)}, nil
}
