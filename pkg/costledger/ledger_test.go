package costledger

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spawn-mcp/research-pipeline/pkg/types"
)

type memPersister struct {
	mu      sync.Mutex
	records map[string]*types.CostRecord
	saveErr error
}

func newMemPersister() *memPersister {
	return &memPersister{records: make(map[string]*types.CostRecord)}
}

func (m *memPersister) SaveCost(ctx context.Context, taskID string, rec *types.CostRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.records[taskID] = rec
	return nil
}

func (m *memPersister) LoadCost(ctx context.Context, taskID string) (*types.CostRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[taskID], nil
}

// stepClock advances one second per call
func stepClock() func() time.Time {
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestSummaryPurityAndGPT4Increment(t *testing.T) {
	ctx := context.Background()
	l := New(DefaultPricing(), nil, WithClock(stepClock()))

	l.LogSearchRequest(ctx, "t1", SearchCall{Provider: "tavily", Query: "go concurrency"})

	first, _ := json.Marshal(l.Summary(ctx, "t1"))
	second, _ := json.Marshal(l.Summary(ctx, "t1"))
	if string(first) != string(second) {
		t.Fatalf("summary not stable:\n%s\n%s", first, second)
	}

	before := l.Summary(ctx, "t1").TotalCostUSD
	l.LogLLMRequest(ctx, "t1", LLMCall{Model: "gpt-4", Provider: "openai", InputTokens: 1000, OutputTokens: 500})
	after := l.Summary(ctx, "t1").TotalCostUSD

	price := DefaultPricing().Models["gpt-4"]
	want := 1*price.Input + 0.5*price.Output
	if math.Abs((after-before)-want) > 1e-12 {
		t.Fatalf("increment = %v, want %v", after-before, want)
	}

	s := l.Summary(ctx, "t1")
	if s.LLMRequests != 1 || s.SearchRequests != 1 {
		t.Errorf("request counts = %d/%d", s.LLMRequests, s.SearchRequests)
	}
	if s.ByModel["gpt-4"].InputTokens != 1000 || s.ByProvider["tavily"].Requests != 1 {
		t.Errorf("breakdowns = %+v / %+v", s.ByModel, s.ByProvider)
	}
}

func TestUnknownModelPricesAtZero(t *testing.T) {
	l := New(DefaultPricing(), nil)
	cost := l.LogLLMRequest(context.Background(), "t1", LLMCall{Model: "mystery-model", InputTokens: 5000})
	if cost != 0 {
		t.Fatalf("cost = %v", cost)
	}
	if got := l.Summary(context.Background(), "t1").LLMRequests; got != 1 {
		t.Fatalf("event should still be recorded, requests = %d", got)
	}
}

func TestDatedModelResolvesByPrefix(t *testing.T) {
	l := New(DefaultPricing(), nil)
	cost := l.LogLLMRequest(context.Background(), "t1", LLMCall{Model: "gpt-4o-2024-08-06", InputTokens: 1000})
	if math.Abs(cost-0.005) > 1e-12 {
		t.Fatalf("cost = %v, want gpt-4o input rate", cost)
	}
}

func TestSearchPricing(t *testing.T) {
	l := New(DefaultPricing(), nil)
	ctx := context.Background()

	tests := []struct {
		name string
		call SearchCall
		want float64
	}{
		{"flat fee", SearchCall{Provider: "Brave", Query: "q"}, 0.003},
		{"token billed", SearchCall{Provider: "perplexity", InputTokens: 1000, OutputTokens: 1000}, 0.002},
		{"unknown provider", SearchCall{Provider: "altavista"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := l.LogSearchRequest(ctx, "t1", tt.call); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("cost = %v, want %v", got, tt.want)
			}
		})
	}

	rec := l.Record(ctx, "t1")
	if rec.Events[1].Model != "perplexity-search" {
		t.Errorf("token-billed search model = %q", rec.Events[1].Model)
	}
}

func TestIdempotentPhaseTiming(t *testing.T) {
	ctx := context.Background()
	l := New(DefaultPricing(), nil, WithClock(stepClock()))

	l.StartPhase(ctx, "t1", "research")
	firstStart := l.Record(ctx, "t1").Phases[0].StartTime
	l.StartPhase(ctx, "t1", "research")

	rec := l.Record(ctx, "t1")
	if len(rec.Phases) != 1 {
		t.Fatalf("expected one timing record, got %d", len(rec.Phases))
	}
	if !rec.Phases[0].StartTime.After(firstStart) {
		t.Fatalf("second start should overwrite the first")
	}

	l.EndPhase(ctx, "t1", "research", types.TimingCompleted)
	rec = l.Record(ctx, "t1")
	p := rec.Phases[0]
	if p.Status != types.TimingCompleted || p.EndTime == nil || p.DurationSeconds == nil || *p.DurationSeconds <= 0 {
		t.Fatalf("unexpected timing: %+v", p)
	}
}

func TestEndWithoutStart(t *testing.T) {
	ctx := context.Background()
	l := New(DefaultPricing(), nil, WithClock(stepClock()))

	l.EndPhase(ctx, "t1", "edit", types.TimingFailed)
	l.EndSection(ctx, "t1", "section_1", types.TimingFailed)

	rec := l.Record(ctx, "t1")
	if *rec.Phases[0].DurationSeconds != 0 || !rec.Phases[0].StartTime.Equal(*rec.Phases[0].EndTime) {
		t.Errorf("phase = %+v", rec.Phases[0])
	}
	if *rec.Sections[0].DurationSeconds != 0 || rec.Sections[0].Status != types.TimingFailed {
		t.Errorf("section = %+v", rec.Sections[0])
	}
}

func TestPersistenceAndRestart(t *testing.T) {
	ctx := context.Background()
	store := newMemPersister()

	l := New(DefaultPricing(), store)
	l.StartSection(ctx, "t1", "section_1", "Intro")
	l.LogLLMRequest(ctx, "t1", LLMCall{Model: "gpt-4", InputTokens: 1000})
	l.EndSection(ctx, "t1", "section_1", types.TimingCompleted)

	restarted := New(DefaultPricing(), store)
	rec := restarted.Record(ctx, "t1")
	if len(rec.Events) != 1 || len(rec.Sections) != 1 || rec.Sections[0].Title != "Intro" {
		t.Fatalf("record not restored: %+v", rec)
	}

	restarted.LogLLMRequest(ctx, "t1", LLMCall{Model: "gpt-4", InputTokens: 1000})
	if got := store.records["t1"].Summary.LLMRequests; got != 2 {
		t.Fatalf("persisted requests = %d", got)
	}
}

func TestFailuresAreNonFatal(t *testing.T) {
	ctx := context.Background()
	store := newMemPersister()
	store.saveErr = fmt.Errorf("disk full")

	var mirrored []float64
	l := New(DefaultPricing(), store, WithListener(func(ctx context.Context, id string, s types.CostSummary) error {
		mirrored = append(mirrored, s.TotalCostUSD)
		return fmt.Errorf("snapshot gone")
	}))

	cost := l.LogLLMRequest(ctx, "t1", LLMCall{Model: "gpt-4", OutputTokens: 1000})
	if math.Abs(cost-0.06) > 1e-12 {
		t.Fatalf("cost = %v", cost)
	}
	if len(mirrored) != 1 || math.Abs(mirrored[0]-0.06) > 1e-12 {
		t.Fatalf("listener saw %v", mirrored)
	}
}

func TestExcerptTruncation(t *testing.T) {
	l := New(DefaultPricing(), nil)
	long := strings.Repeat("ắ", 150)
	l.LogLLMRequest(context.Background(), "t1", LLMCall{Model: "gpt-4", Prompt: long})

	got := l.Record(context.Background(), "t1").Events[0].Excerpt
	if got != strings.Repeat("ắ", 100)+"..." {
		t.Fatalf("excerpt has %d runes", len([]rune(got)))
	}
}

func TestLoadPricingOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.json")
	body := `{"models":{"GPT-4":{"input":1,"output":2}},"search_fees":{"tavily":0.5}}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadPricing(path)
	if err != nil {
		t.Fatalf("LoadPricing() error = %v", err)
	}
	if p.Models["gpt-4"].Output != 2 || p.SearchFees["tavily"] != 0.5 {
		t.Errorf("overrides not applied: %+v", p)
	}
	if _, ok := p.Models["gpt-4o"]; !ok {
		t.Error("defaults should survive the overlay")
	}

	if _, err := LoadPricing(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}
