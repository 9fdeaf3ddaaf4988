package researcher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spawn-mcp/research-pipeline/pkg/llm"
	"github.com/spawn-mcp/research-pipeline/pkg/search"
	"github.com/spawn-mcp/research-pipeline/pkg/types"
)

// ResultCount is the number of search hits requested per section
const ResultCount = 5

// Ledger bills the researcher's LLM and search calls
type Ledger interface {
	llm.Recorder
	search.Recorder
}

// Researcher researches a single outline section: search, then synthesize
type Researcher struct {
	llm    llm.Client
	search search.Provider
	ledger Ledger
}

// New creates a researcher. ledger may be nil.
func New(client llm.Client, provider search.Provider, ledger Ledger) *Researcher {
	return &Researcher{llm: client, search: provider, ledger: ledger}
}

// Query builds the search query for a section
func Query(section types.Section, rc types.ResearchContext) string {
	var parts []string
	for _, p := range []string{rc.Topic, section.Title, section.Description} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// Research returns the section with content and sources filled in.
// Errors are returned to the caller unchanged in kind.
func (r *Researcher) Research(ctx context.Context, section types.Section, rc types.ResearchContext) (types.Section, error) {
	query := Query(section, rc)

	resp, err := search.SearchAndRecord(ctx, r.search, r.ledger, rc.TaskID, "section_search", query, ResultCount)
	if err != nil {
		return section, fmt.Errorf("search for section %q: %w", section.Title, err)
	}

	serialized, err := json.MarshalIndent(resp.Results, "", "  ")
	if err != nil {
		return section, fmt.Errorf("serialize search results: %w", err)
	}

	out, err := llm.GenerateAndRecord(ctx, r.llm, r.ledger, rc.TaskID, "section_synthesis", llm.Prompt{
		System: "You are a meticulous research writer. Cite sources inline as [n] using the order of the search results.",
		User:   synthesisPrompt(section, rc, string(serialized)),
	})
	if err != nil {
		return section, fmt.Errorf("synthesize section %q: %w", section.Title, err)
	}

	researched := section
	researched.Content = strings.TrimSpace(out.Text)
	researched.Sources = make([]string, 0, len(resp.Results))
	for _, res := range resp.Results {
		if res.URL != "" {
			researched.Sources = append(researched.Sources, res.URL)
		}
	}
	return researched, nil
}

func synthesisPrompt(section types.Section, rc types.ResearchContext, results string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", rc.Topic)
	fmt.Fprintf(&b, "Scope: %s\n", rc.Scope)
	fmt.Fprintf(&b, "Target audience: %s\n\n", rc.TargetAudience)
	fmt.Fprintf(&b, "Section title: %s\n", section.Title)
	fmt.Fprintf(&b, "Section description: %s\n\n", section.Description)
	fmt.Fprintf(&b, "Search results:\n%s\n\n", results)
	b.WriteString("Write 350-400 words of synthesized prose for this section using only the search results above. ")
	b.WriteString("Cite every claim inline with the matching source number. Do not repeat the section title.")
	return b.String()
}
