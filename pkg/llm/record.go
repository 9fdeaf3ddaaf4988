package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spawn-mcp/research-pipeline/pkg/costledger"
)

// Recorder bills LLM calls to a task
type Recorder interface {
	LogLLMRequest(ctx context.Context, taskID string, call costledger.LLMCall) float64
}

// GenerateAndRecord calls the client and bills the completion to taskID.
// rec may be nil.
func GenerateAndRecord(ctx context.Context, c Client, rec Recorder, taskID, purpose string, p Prompt) (Completion, error) {
	out, err := c.Generate(ctx, p)
	if err != nil {
		return Completion{}, err
	}
	if rec != nil {
		rec.LogLLMRequest(ctx, taskID, costledger.LLMCall{
			Model:        out.Model,
			Provider:     out.Provider,
			InputTokens:  out.InputTokens,
			OutputTokens: out.OutputTokens,
			Prompt:       p.User,
			Purpose:      purpose,
		})
	}
	return out, nil
}

// DecodeJSON decodes the first JSON object in text, tolerating Markdown
// code fences and surrounding prose.
func DecodeJSON(text string, v any) error {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return fmt.Errorf("no JSON object in model output")
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), v); err != nil {
		return fmt.Errorf("decode model output: %w", err)
	}
	return nil
}
