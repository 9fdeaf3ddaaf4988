package researcher

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/spawn-mcp/research-pipeline/pkg/costledger"
	"github.com/spawn-mcp/research-pipeline/pkg/llm"
	"github.com/spawn-mcp/research-pipeline/pkg/search"
	"github.com/spawn-mcp/research-pipeline/pkg/types"
)

type fakeLLM struct {
	generate func(p llm.Prompt) (llm.Completion, error)
}

func (f *fakeLLM) Generate(ctx context.Context, p llm.Prompt) (llm.Completion, error) {
	return f.generate(p)
}

type fakeSearch struct {
	queries []string
	search  func(q string, max int) (search.Response, error)
}

func (f *fakeSearch) Name() string { return "tavily" }

func (f *fakeSearch) Search(ctx context.Context, q string, max int) (search.Response, error) {
	f.queries = append(f.queries, q)
	return f.search(q, max)
}

func TestResearchFillsContentAndSources(t *testing.T) {
	var prompt llm.Prompt
	l := &fakeLLM{generate: func(p llm.Prompt) (llm.Completion, error) {
		prompt = p
		return llm.Completion{Text: "  Synthesized [1].  ", Model: "gpt-4", Provider: "openai", InputTokens: 1000, OutputTokens: 500}, nil
	}}
	s := &fakeSearch{search: func(q string, max int) (search.Response, error) {
		if max != ResultCount {
			t.Errorf("max = %d", max)
		}
		return search.Response{Provider: "tavily", Results: []search.Result{
			{Title: "A", URL: "https://a", Snippet: "alpha"},
			{Title: "B", URL: "https://b", Snippet: "beta"},
		}}, nil
	}}
	ledger := costledger.New(costledger.DefaultPricing(), nil)
	rc := types.ResearchContext{TaskID: "t1", Topic: "Go", Scope: "history", TargetAudience: "engineers"}

	got, err := New(l, s, ledger).Research(context.Background(), types.Section{Title: "Origins", Description: "Why Go was created"}, rc)
	if err != nil {
		t.Fatalf("Research() error = %v", err)
	}
	if got.Content != "Synthesized [1]." || !reflect.DeepEqual(got.Sources, []string{"https://a", "https://b"}) {
		t.Errorf("section = %+v", got)
	}
	if s.queries[0] != "Go Origins Why Go was created" {
		t.Errorf("query = %q", s.queries[0])
	}
	for _, want := range []string{"Topic: Go", "Scope: history", "Target audience: engineers", "Section title: Origins", "https://a", "350-400 words"} {
		if !strings.Contains(prompt.User, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	summary := ledger.Summary(context.Background(), "t1")
	if summary.LLMRequests != 1 || summary.SearchRequests != 1 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestResearchPropagatesErrors(t *testing.T) {
	l := &fakeLLM{generate: func(p llm.Prompt) (llm.Completion, error) {
		t.Error("llm should not be called after a search failure")
		return llm.Completion{}, nil
	}}
	s := &fakeSearch{search: func(q string, max int) (search.Response, error) {
		return search.Response{}, fmt.Errorf("quota exceeded")
	}}

	section := types.Section{Title: "Origins"}
	got, err := New(l, s, nil).Research(context.Background(), section, types.ResearchContext{})
	if err == nil {
		t.Fatal("expected error")
	}
	if got.Content != "" || got.Sources != nil {
		t.Errorf("failed section should be unchanged: %+v", got)
	}
}

func TestQuery(t *testing.T) {
	tests := []struct {
		section types.Section
		topic   string
		want    string
	}{
		{types.Section{Title: "A", Description: "B"}, "T", "T A B"},
		{types.Section{Title: " A "}, "", "A"},
		{types.Section{Title: "A", Description: "  "}, "T", "T A"},
	}
	for _, tt := range tests {
		if got := Query(tt.section, types.ResearchContext{Topic: tt.topic}); got != tt.want {
			t.Errorf("Query() = %q, want %q", got, tt.want)
		}
	}
}
