package prepare

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/spawn-mcp/research-pipeline/pkg/costledger"
	"github.com/spawn-mcp/research-pipeline/pkg/llm"
	"github.com/spawn-mcp/research-pipeline/pkg/types"
)

type fakeLLM struct {
	prompts []llm.Prompt
	reply   func(p llm.Prompt) (string, error)
}

func (f *fakeLLM) Generate(ctx context.Context, p llm.Prompt) (llm.Completion, error) {
	f.prompts = append(f.prompts, p)
	text, err := f.reply(p)
	return llm.Completion{Text: text, Model: "gpt-4", Provider: "openai", InputTokens: 100, OutputTokens: 50}, err
}

func TestAnalyze(t *testing.T) {
	f := &fakeLLM{reply: func(p llm.Prompt) (string, error) {
		return "```json\n{\"Topic\": \"Go\", \"scope\": \"history\", \"key_questions\": [\"why\"]}\n```", nil
	}}
	ledger := costledger.New(costledger.DefaultPricing(), nil)

	got, err := New(f, ledger).Analyze(context.Background(), "t1", types.ResearchRequest{Query: "history of go", Scope: "brief"})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if got["Topic"] != "Go" || got["scope"] != "history" {
		t.Errorf("analysis = %v", got)
	}
	if !f.prompts[0].JSON || !strings.Contains(f.prompts[0].User, "Requested scope: brief") {
		t.Errorf("prompt = %+v", f.prompts[0])
	}
	if ledger.Record(context.Background(), "t1").Events[0].Purpose != "analyze" {
		t.Error("analyze call should be billed with its purpose")
	}
}

func TestAnalyzeErrors(t *testing.T) {
	tests := []struct {
		name  string
		reply func(llm.Prompt) (string, error)
	}{
		{"provider failure", func(llm.Prompt) (string, error) { return "", fmt.Errorf("timeout") }},
		{"not json", func(llm.Prompt) (string, error) { return "I cannot help with that", nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(&fakeLLM{reply: tt.reply}, nil).Analyze(context.Background(), "t1", types.ResearchRequest{Query: "q"}); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestOutline(t *testing.T) {
	f := &fakeLLM{reply: func(p llm.Prompt) (string, error) {
		return `{"title":"","sections":[{"title":" Origins ","description":"d1"},{"title":"","description":"skipped"},{"title":"Adoption","description":"d2"}]}`, nil
	}}
	analysis := types.Analysis{Topic: "Go", Scope: "history", TargetAudience: "engineers"}

	got, err := New(f, nil).Outline(context.Background(), "t1", types.ResearchRequest{Query: "q"}, analysis)
	if err != nil {
		t.Fatalf("Outline() error = %v", err)
	}
	if got.Title != "Go" || len(got.Sections) != 2 || got.Sections[0].Title != "Origins" || got.Sections[1].Description != "d2" {
		t.Errorf("outline = %+v", got)
	}
	for _, s := range got.Sections {
		if s.Researched() || s.Sources != nil {
			t.Errorf("fresh section should have no content: %+v", s)
		}
	}
}

func TestOutlineCapsAndRejectsEmpty(t *testing.T) {
	many := `{"sections":[` + strings.TrimSuffix(strings.Repeat(`{"title":"S","description":"d"},`, MaxSections+3), ",") + `]}`
	got, err := New(&fakeLLM{reply: func(llm.Prompt) (string, error) { return many, nil }}, nil).
		Outline(context.Background(), "t1", types.ResearchRequest{}, types.Analysis{Topic: "T"})
	if err != nil || len(got.Sections) != MaxSections {
		t.Fatalf("Outline() = %d sections, %v", len(got.Sections), err)
	}

	_, err = New(&fakeLLM{reply: func(llm.Prompt) (string, error) { return `{"sections":[]}`, nil }}, nil).
		Outline(context.Background(), "t1", types.ResearchRequest{}, types.Analysis{})
	if err == nil {
		t.Fatal("expected error for empty outline")
	}
}
