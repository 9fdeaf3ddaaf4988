package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spawn-mcp/research-pipeline/pkg/errors"
	"github.com/spawn-mcp/research-pipeline/pkg/retry"
	"github.com/spawn-mcp/research-pipeline/pkg/timeout"
)

// Prompt is one generation request
type Prompt struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
	// JSON asks the provider for a JSON object response where supported
	JSON bool
}

// Completion is the generated text and its token usage
type Completion struct {
	Text         string
	Model        string
	Provider     string
	InputTokens  int
	OutputTokens int
}

// Client generates text from a prompt
type Client interface {
	Generate(ctx context.Context, prompt Prompt) (Completion, error)
}

// Settings configures a provider client
type Settings struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

func (s Settings) httpClient() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return &http.Client{Timeout: 120 * time.Second}
}

func (s Settings) baseURL(fallback string) string {
	if s.BaseURL == "" {
		return fallback
	}
	return strings.TrimRight(s.BaseURL, "/")
}

func (s Settings) model(fallback string) string {
	if s.Model == "" {
		return fallback
	}
	return s.Model
}

// postJSON sends body to url and decodes a 2xx response into out
func postJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.ProviderHTTP(provider, resp.StatusCode, string(data))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", provider, err)
	}
	return nil
}

// resilient applies the per-call timeout and retry policy to a client
type resilient struct {
	next     Client
	timeouts *timeout.Manager
	retry    retry.Config
}

// Wrap applies timeouts and retries to every Generate call
func Wrap(client Client, timeouts *timeout.Manager, cfg retry.Config) Client {
	return &resilient{next: client, timeouts: timeouts, retry: cfg}
}

func (r *resilient) Generate(ctx context.Context, prompt Prompt) (Completion, error) {
	return retry.ExecuteWithRetry(ctx, func() (Completion, error) {
		return timeout.Run(ctx, r.timeouts, timeout.OpLLMGenerate, func(ctx context.Context) (Completion, error) {
			return r.next.Generate(ctx, prompt)
		})
	}, r.retry)
}
