package editor

import (
	"context"
	"fmt"
	"strings"

	"github.com/spawn-mcp/research-pipeline/pkg/llm"
	"github.com/spawn-mcp/research-pipeline/pkg/types"
)

// Input is everything the editor merges into the final document
type Input struct {
	Query    string
	Analysis types.Analysis
	Title    string
	Sections []types.Section
}

// Editor merges researched sections into one document
type Editor struct {
	llm    llm.Client
	ledger llm.Recorder
}

// New creates an editor. ledger may be nil.
func New(client llm.Client, ledger llm.Recorder) *Editor {
	return &Editor{llm: client, ledger: ledger}
}

// Edit produces the final result. It fails when no section has content.
func (e *Editor) Edit(ctx context.Context, taskID string, in Input) (*types.ResearchResult, error) {
	var sections []types.Section
	for _, s := range in.Sections {
		if s.Researched() {
			sections = append(sections, s)
		}
	}
	if len(sections) == 0 {
		return nil, fmt.Errorf("no researched sections to edit")
	}

	title := in.Title
	if title == "" {
		title = in.Analysis.Topic
	}

	out, err := llm.GenerateAndRecord(ctx, e.llm, e.ledger, taskID, "edit", llm.Prompt{
		System: "You are an editor. Merge the researched sections into one cohesive document in Markdown. Keep inline citations.",
		User:   editPrompt(in, title, sections),
	})
	if err != nil {
		return nil, err
	}
	content := strings.TrimSpace(out.Text)
	if content == "" {
		return nil, fmt.Errorf("model returned an empty document")
	}

	return &types.ResearchResult{
		Title:    title,
		Content:  content,
		Sections: types.CloneSections(sections),
		Sources:  Sources(sections),
	}, nil
}

// Sources is the deduplicated union of section sources in first-seen order
func Sources(sections []types.Section) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, s := range sections {
		for _, src := range s.Sources {
			if src == "" || seen[src] {
				continue
			}
			seen[src] = true
			out = append(out, src)
		}
	}
	return out
}

func editPrompt(in Input, title string, sections []types.Section) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Document title: %s\n", title)
	fmt.Fprintf(&b, "Original request: %s\n", in.Query)
	fmt.Fprintf(&b, "Scope: %s\nTarget audience: %s\n\n", in.Analysis.Scope, in.Analysis.TargetAudience)
	for i, s := range sections {
		fmt.Fprintf(&b, "## %d. %s\n%s\n\n", i+1, s.Title, s.Content)
	}
	b.WriteString("Write the merged document body without the title heading and without a sources list.")
	return b.String()
}
