package drone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"google.golang.org/api/idtoken"

	"github.com/spawn-mcp/research-pipeline/pkg/costledger"
	"github.com/spawn-mcp/research-pipeline/pkg/errors"
	"github.com/spawn-mcp/research-pipeline/pkg/researcher"
	"github.com/spawn-mcp/research-pipeline/pkg/timeout"
	"github.com/spawn-mcp/research-pipeline/pkg/types"
)

// ServiceEnsurer resolves (and if needed deploys) a Cloud Run service
type ServiceEnsurer interface {
	EnsureService(ctx context.Context, serviceName, imageURI string, env map[string]string) (string, error)
}

// Remote is a SectionResearcher that delegates to a drone service. The
// calls the drone reports are billed to ledger.
type Remote struct {
	baseURL    string
	httpClient *http.Client
	timeouts   *timeout.Manager
	ledger     researcher.Ledger
}

// NewRemote creates a client for the drone at baseURL using httpClient
func NewRemote(baseURL string, httpClient *http.Client, timeouts *timeout.Manager, ledger researcher.Ledger) *Remote {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Remote{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		timeouts:   timeouts,
		ledger:     ledger,
	}
}

// NewAuthenticatedRemote creates a client that signs every request with a
// Google ID token for the drone's URL, as Cloud Run service-to-service calls
// require.
func NewAuthenticatedRemote(ctx context.Context, baseURL string, timeouts *timeout.Manager, ledger researcher.Ledger) (*Remote, error) {
	client, err := idtoken.NewClient(ctx, baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create authenticated client: %w", err)
	}
	return NewRemote(baseURL, client, timeouts, ledger), nil
}

// ResolveURL returns staticURL when set, otherwise the URL of the drone's
// Cloud Run service, deploying it from image when missing.
func ResolveURL(ctx context.Context, staticURL string, services ServiceEnsurer, service, image string, env map[string]string) (string, error) {
	if staticURL != "" {
		return staticURL, nil
	}
	if services == nil || service == "" {
		return "", fmt.Errorf("no drone URL or service configured")
	}
	url, err := services.EnsureService(ctx, service, image, env)
	if err != nil {
		return "", fmt.Errorf("failed to resolve drone service %s: %w", service, err)
	}
	return url, nil
}

// Research sends the section to the drone and returns its researched copy
func (r *Remote) Research(ctx context.Context, section types.Section, rc types.ResearchContext) (types.Section, error) {
	return timeout.Run(ctx, r.timeouts, timeout.OpDrone, func(ctx context.Context) (types.Section, error) {
		body, err := json.Marshal(sectionRequest{Section: section, Context: rc})
		if err != nil {
			return section, fmt.Errorf("failed to marshal request: %w", err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/section", bytes.NewReader(body))
		if err != nil {
			return section, fmt.Errorf("failed to create HTTP request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := r.httpClient.Do(httpReq)
		if err != nil {
			return section, fmt.Errorf("failed to send request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return section, fmt.Errorf("failed to read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			var e errorResponse
			msg := string(respBody)
			if json.Unmarshal(respBody, &e) == nil && e.Error != "" {
				msg = e.Error
				r.bill(ctx, rc.TaskID, e.LLMCalls, e.SearchCalls)
			}
			return section, errors.ProviderHTTP("drone", resp.StatusCode, msg)
		}

		var out sectionResponse
		if err := json.Unmarshal(respBody, &out); err != nil {
			return section, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		r.bill(ctx, rc.TaskID, out.LLMCalls, out.SearchCalls)
		return out.Section, nil
	})
}

func (r *Remote) bill(ctx context.Context, taskID string, llmCalls []costledger.LLMCall, searchCalls []costledger.SearchCall) {
	if r.ledger == nil {
		return
	}
	for _, call := range llmCalls {
		r.ledger.LogLLMRequest(ctx, taskID, call)
	}
	for _, call := range searchCalls {
		r.ledger.LogSearchRequest(ctx, taskID, call)
	}
}
