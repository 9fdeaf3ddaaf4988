package prepare

import (
	"context"
	"fmt"
	"strings"

	"github.com/spawn-mcp/research-pipeline/pkg/llm"
	"github.com/spawn-mcp/research-pipeline/pkg/types"
)

// MaxSections caps the outline length
const MaxSections = 8

// Preparer analyzes the request and drafts the outline
type Preparer struct {
	llm    llm.Client
	ledger llm.Recorder
}

// New creates a preparer. ledger may be nil.
func New(client llm.Client, ledger llm.Recorder) *Preparer {
	return &Preparer{llm: client, ledger: ledger}
}

// Analyze asks the model for the topic, scope and audience of the request.
// The raw map is returned; callers normalize it.
func (p *Preparer) Analyze(ctx context.Context, taskID string, req types.ResearchRequest) (map[string]any, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Research request: %s\n", req.Query)
	if req.Topic != "" {
		fmt.Fprintf(&b, "Requested topic: %s\n", req.Topic)
	}
	if req.Scope != "" {
		fmt.Fprintf(&b, "Requested scope: %s\n", req.Scope)
	}
	if req.TargetAudience != "" {
		fmt.Fprintf(&b, "Requested audience: %s\n", req.TargetAudience)
	}
	b.WriteString("\nReturn a JSON object with the keys \"topic\", \"scope\", \"target_audience\" and \"key_questions\" (a list of strings).")

	out, err := llm.GenerateAndRecord(ctx, p.llm, p.ledger, taskID, "analyze", llm.Prompt{
		System: "You analyze research requests and answer only with JSON.",
		User:   b.String(),
		JSON:   true,
	})
	if err != nil {
		return nil, err
	}

	analysis := map[string]any{}
	if err := llm.DecodeJSON(out.Text, &analysis); err != nil {
		return nil, err
	}
	return analysis, nil
}

type outlineJSON struct {
	Title    string `json:"title"`
	Sections []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"sections"`
}

// Outline drafts the ordered list of sections for the analyzed request
func (p *Preparer) Outline(ctx context.Context, taskID string, req types.ResearchRequest, analysis types.Analysis) (*types.Outline, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Research request: %s\n", req.Query)
	fmt.Fprintf(&b, "Topic: %s\nScope: %s\nTarget audience: %s\n\n", analysis.Topic, analysis.Scope, analysis.TargetAudience)
	fmt.Fprintf(&b, "Draft an outline of at most %d sections. ", MaxSections)
	b.WriteString("Return a JSON object {\"title\": string, \"sections\": [{\"title\": string, \"description\": string}]}.")

	out, err := llm.GenerateAndRecord(ctx, p.llm, p.ledger, taskID, "outline", llm.Prompt{
		System: "You plan research documents and answer only with JSON.",
		User:   b.String(),
		JSON:   true,
	})
	if err != nil {
		return nil, err
	}

	var raw outlineJSON
	if err := llm.DecodeJSON(out.Text, &raw); err != nil {
		return nil, err
	}

	outline := &types.Outline{Title: strings.TrimSpace(raw.Title)}
	if outline.Title == "" {
		outline.Title = analysis.Topic
	}
	for _, s := range raw.Sections {
		title := strings.TrimSpace(s.Title)
		if title == "" {
			continue
		}
		outline.Sections = append(outline.Sections, types.Section{Title: title, Description: strings.TrimSpace(s.Description)})
		if len(outline.Sections) == MaxSections {
			break
		}
	}
	if len(outline.Sections) == 0 {
		return nil, fmt.Errorf("model returned an outline without sections")
	}
	return outline, nil
}
