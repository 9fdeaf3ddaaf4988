package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/spawn-mcp/research-pipeline/pkg/errors"
	"github.com/spawn-mcp/research-pipeline/pkg/retry"
	"github.com/spawn-mcp/research-pipeline/pkg/timeout"
)

// Result is a single search hit
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Response carries the hits and, for token-billed providers, token usage
type Response struct {
	Provider     string
	Results      []Result
	InputTokens  int
	OutputTokens int
}

// Provider executes a query and returns at most max results
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, max int) (Response, error)
}

// Settings configures a provider
type Settings struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

func (s Settings) httpClient() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (s Settings) baseURL(fallback string) string {
	if s.BaseURL == "" {
		return fallback
	}
	return s.BaseURL
}

// doJSON executes req and decodes a 2xx JSON response into out
func doJSON(client *http.Client, provider string, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.ProviderHTTP(provider, resp.StatusCode, string(data))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", provider, err)
	}
	return nil
}

func truncate(results []Result, max int) []Result {
	if max > 0 && len(results) > max {
		return results[:max]
	}
	return results
}

// guarded applies rate limiting, timeouts and retries to a provider
type guarded struct {
	next     Provider
	limiter  *rate.Limiter
	timeouts *timeout.Manager
	retry    retry.Config
}

// Wrap rate-limits a provider to perSecond requests (burst 1) and applies
// the search timeout and retry policy to every call.
func Wrap(p Provider, perSecond float64, timeouts *timeout.Manager, cfg retry.Config) Provider {
	return &guarded{
		next:     p,
		limiter:  rate.NewLimiter(rate.Limit(perSecond), 1),
		timeouts: timeouts,
		retry:    cfg,
	}
}

func (g *guarded) Name() string { return g.next.Name() }

func (g *guarded) Search(ctx context.Context, query string, max int) (Response, error) {
	return retry.ExecuteWithRetry(ctx, func() (Response, error) {
		if err := g.limiter.Wait(ctx); err != nil {
			return Response{}, err
		}
		return timeout.Run(ctx, g.timeouts, timeout.OpSearch, func(ctx context.Context) (Response, error) {
			return g.next.Search(ctx, query, max)
		})
	}, g.retry)
}
