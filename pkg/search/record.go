package search

import (
	"context"

	"github.com/spawn-mcp/research-pipeline/pkg/costledger"
)

// Recorder bills search calls to a task
type Recorder interface {
	LogSearchRequest(ctx context.Context, taskID string, call costledger.SearchCall) float64
}

// SearchAndRecord runs the query and bills it to taskID. rec may be nil.
func SearchAndRecord(ctx context.Context, p Provider, rec Recorder, taskID, purpose, query string, max int) (Response, error) {
	resp, err := p.Search(ctx, query, max)
	if err != nil {
		return Response{}, err
	}
	if rec != nil {
		provider := resp.Provider
		if provider == "" {
			provider = p.Name()
		}
		rec.LogSearchRequest(ctx, taskID, costledger.SearchCall{
			Provider:     provider,
			Query:        query,
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
			Purpose:      purpose,
		})
	}
	return resp, nil
}
