package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Brave uses the Brave Search API. An API key is required via X-Subscription-Token.
type Brave struct {
	settings Settings
	endpoint string
}

func NewBrave(s Settings) (Provider, error) {
	if strings.TrimSpace(s.APIKey) == "" {
		return nil, fmt.Errorf("brave: API key is missing")
	}
	return &Brave{settings: s, endpoint: s.baseURL("https://api.search.brave.com") + "/res/v1/web/search"}, nil
}

func (b *Brave) Name() string { return string(BraveName) }

func (b *Brave) Search(ctx context.Context, query string, max int) (Response, error) {
	q := url.Values{}
	q.Set("q", query)
	if max > 0 {
		q.Set("count", strconv.Itoa(max))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.settings.APIKey)

	var body struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := doJSON(b.settings.httpClient(), "brave", req, &body); err != nil {
		return Response{}, err
	}

	results := make([]Result, 0, len(body.Web.Results))
	for _, r := range body.Web.Results {
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	return Response{Provider: b.Name(), Results: truncate(results, max)}, nil
}
