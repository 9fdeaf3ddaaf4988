package drone

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spawn-mcp/research-pipeline/pkg/costledger"
	"github.com/spawn-mcp/research-pipeline/pkg/errors"
	"github.com/spawn-mcp/research-pipeline/pkg/researcher"
	"github.com/spawn-mcp/research-pipeline/pkg/timeout"
	"github.com/spawn-mcp/research-pipeline/pkg/types"
)

type fakeResearcher struct {
	ledger researcher.Ledger
	got    types.ResearchContext
	// err fails the section after its search, before synthesis
	err error
}

func (f *fakeResearcher) Research(ctx context.Context, s types.Section, rc types.ResearchContext) (types.Section, error) {
	f.got = rc
	f.ledger.LogSearchRequest(ctx, rc.TaskID, costledger.SearchCall{Provider: "tavily", Query: s.Title, Purpose: "section_search"})
	if f.err != nil {
		return s, f.err
	}
	f.ledger.LogLLMRequest(ctx, rc.TaskID, costledger.LLMCall{Model: "gpt-4o", Provider: "openai", InputTokens: 1000, OutputTokens: 500, Purpose: "section_synthesis"})
	s.Content = "researched " + s.Title
	s.Sources = []string{"https://go.dev"}
	return s, nil
}

func factoryFor(f *fakeResearcher) Factory {
	return func(ledger researcher.Ledger) SectionResearcher {
		f.ledger = ledger
		return f
	}
}

func TestRemoteRoundTripBillsDroneCalls(t *testing.T) {
	fake := &fakeResearcher{}
	srv := httptest.NewServer(NewHandler("drone-1", factoryFor(fake)).Routes())
	defer srv.Close()

	ledger := costledger.New(costledger.DefaultPricing(), nil)
	remote := NewRemote(srv.URL+"/", srv.Client(), timeout.NewManager(time.Minute), ledger)
	rc := types.ResearchContext{TaskID: "t1", Topic: "Go"}
	out, err := remote.Research(context.Background(), types.Section{Title: "Origins"}, rc)
	if err != nil {
		t.Fatalf("Research() error = %v", err)
	}
	if out.Content != "researched Origins" || len(out.Sources) != 1 {
		t.Errorf("section = %+v", out)
	}
	if fake.got != rc {
		t.Errorf("drone saw context %+v", fake.got)
	}

	summary := ledger.Summary(context.Background(), "t1")
	if summary.LLMRequests != 1 || summary.SearchRequests != 1 || summary.TotalCostUSD <= 0 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestRemoteSurfacesDroneFailure(t *testing.T) {
	srv := httptest.NewServer(NewHandler("drone-1", factoryFor(&fakeResearcher{err: fmt.Errorf("search quota exhausted")})).Routes())
	defer srv.Close()

	_, err := NewRemote(srv.URL, srv.Client(), nil, nil).Research(context.Background(), types.Section{Title: "x"}, types.ResearchContext{})
	e, ok := errors.As(err)
	if !ok || e.Code != errors.CodeProviderFailed || !e.Retryable {
		t.Fatalf("error = %#v", err)
	}
	if !strings.Contains(e.Details["body"], "search quota exhausted") {
		t.Errorf("details = %v", e.Details)
	}
}

func TestRemoteBillsCallsOfFailedSection(t *testing.T) {
	srv := httptest.NewServer(NewHandler("drone-1", factoryFor(&fakeResearcher{err: fmt.Errorf("llm timeout")})).Routes())
	defer srv.Close()

	ledger := costledger.New(costledger.DefaultPricing(), nil)
	_, err := NewRemote(srv.URL, srv.Client(), nil, ledger).Research(context.Background(), types.Section{Title: "x"}, types.ResearchContext{TaskID: "t1"})
	if err == nil {
		t.Fatal("expected error")
	}

	summary := ledger.Summary(context.Background(), "t1")
	if summary.SearchRequests != 1 || summary.LLMRequests != 0 || summary.SearchCostUSD <= 0 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestHandlerRejectsBadInput(t *testing.T) {
	h := NewHandler("d", factoryFor(&fakeResearcher{})).Routes()
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"invalid json", http.MethodPost, "/section", "{", http.StatusBadRequest},
		{"missing title", http.MethodPost, "/section", `{"section":{}}`, http.StatusBadRequest},
		{"health", http.MethodGet, "/health", "", http.StatusOK},
		{"wrong method", http.MethodGet, "/section", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body)))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

type fakeServices struct {
	url  string
	err  error
	name string
}

func (f *fakeServices) EnsureService(ctx context.Context, name, image string, env map[string]string) (string, error) {
	f.name = name
	return f.url, f.err
}

func TestResolveURL(t *testing.T) {
	ctx := context.Background()

	if got, err := ResolveURL(ctx, "http://static", nil, "", "", nil); err != nil || got != "http://static" {
		t.Fatalf("static = %q, %v", got, err)
	}

	svc := &fakeServices{url: "https://drone-abc.run.app"}
	got, err := ResolveURL(ctx, "", svc, "researcher", "gcr.io/p/drone", nil)
	if err != nil || got != svc.url || svc.name != "researcher" {
		t.Fatalf("service = %q, %v", got, err)
	}

	if _, err := ResolveURL(ctx, "", &fakeServices{err: fmt.Errorf("denied")}, "researcher", "", nil); err == nil {
		t.Fatal("expected error")
	}
	if _, err := ResolveURL(ctx, "", nil, "", "", nil); err == nil {
		t.Fatal("expected error without any drone configuration")
	}
}
