package search

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/spawn-mcp/research-pipeline/pkg/errors"
)

var (
	ddgLinkPattern    = regexp.MustCompile(`<a[^>]*href=['"]([^'"]+)['"][^>]*class=['"]result-link['"][^>]*>([^<]+)</a>`)
	ddgLinkPatternAlt = regexp.MustCompile(`<a[^>]*class=['"]result-link['"][^>]*href=['"]([^'"]+)['"][^>]*>([^<]+)</a>`)
	ddgSnippetPattern = regexp.MustCompile(`(?s)<td[^>]*class=['"]result-snippet['"][^>]*>(.*?)</td>`)
	tagPattern        = regexp.MustCompile(`<[^>]+>`)
)

// DuckDuckGo scrapes the DuckDuckGo lite HTML interface. No API key needed.
type DuckDuckGo struct {
	settings Settings
	endpoint string
}

func NewDuckDuckGo(s Settings) (Provider, error) {
	return &DuckDuckGo{settings: s, endpoint: s.baseURL("https://lite.duckduckgo.com") + "/lite/"}, nil
}

func (d *DuckDuckGo) Name() string { return string(DuckDuckGoName) }

func (d *DuckDuckGo) Search(ctx context.Context, query string, max int) (Response, error) {
	if strings.TrimSpace(query) == "" {
		return Response{}, fmt.Errorf("duckduckgo: query is empty")
	}

	form := url.Values{}
	form.Set("q", query)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; research-pipeline/1.0)")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.settings.httpClient().Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("duckduckgo request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Response{}, errors.ProviderHTTP("duckduckgo", resp.StatusCode, string(body))
	}

	return Response{Provider: d.Name(), Results: truncate(parseLiteHTML(string(body)), max)}, nil
}

// parseLiteHTML extracts result links and their snippets from the lite page
func parseLiteHTML(page string) []Result {
	links := ddgLinkPattern.FindAllStringSubmatch(page, -1)
	if len(links) == 0 {
		links = ddgLinkPatternAlt.FindAllStringSubmatch(page, -1)
	}
	snippets := ddgSnippetPattern.FindAllStringSubmatch(page, -1)

	var results []Result
	for i, m := range links {
		u := strings.TrimSpace(html.UnescapeString(m[1]))
		title := cleanHTML(m[2])
		if u == "" || title == "" {
			continue
		}
		snippet := ""
		if i < len(snippets) {
			snippet = cleanHTML(snippets[i][1])
		}
		results = append(results, Result{Title: title, URL: u, Snippet: snippet})
	}
	return results
}

func cleanHTML(s string) string {
	return strings.TrimSpace(html.UnescapeString(tagPattern.ReplaceAllString(s, "")))
}
