package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/spawn-mcp/research-pipeline/pkg/retry"
)

func TestTavilySearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if r.URL.Path != "/search" || body["query"] != "go generics" || body["api_key"] != "tv" {
			t.Errorf("request = %s %v", r.URL.Path, body)
		}
		fmt.Fprint(w, `{"results":[{"title":"A","url":"https://a","content":"sa"},{"title":"B","url":"https://b","content":"sb"},{"title":"C","url":"https://c","content":"sc"}]}`)
	}))
	defer srv.Close()

	p, err := NewTavily(Settings{APIKey: "tv", BaseURL: srv.URL, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatal(err)
	}
	got, err := p.Search(context.Background(), "go generics", 2)
	if err != nil {
		t.Fatal(err)
	}
	want := []Result{{Title: "A", URL: "https://a", Snippet: "sa"}, {Title: "B", URL: "https://b", Snippet: "sb"}}
	if !reflect.DeepEqual(got.Results, want) || got.Provider != "tavily" {
		t.Errorf("Search() = %+v", got)
	}
}

func TestBraveSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Subscription-Token") != "bk" || r.URL.Query().Get("q") != "rust vs go" {
			t.Errorf("request = %v %v", r.URL, r.Header)
		}
		fmt.Fprint(w, `{"web":{"results":[{"title":"T","url":"https://t","description":"d"}]}}`)
	}))
	defer srv.Close()

	p, _ := NewBrave(Settings{APIKey: "bk", BaseURL: srv.URL, HTTPClient: srv.Client()})
	got, err := p.Search(context.Background(), "rust vs go", 5)
	if err != nil || len(got.Results) != 1 || got.Results[0].Snippet != "d" {
		t.Fatalf("Search() = %+v, %v", got, err)
	}
}

func TestSerperSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-KEY") != "sk" {
			t.Errorf("missing api key header")
		}
		fmt.Fprint(w, `{"organic":[{"title":"T","link":"https://t","snippet":"s"}]}`)
	}))
	defer srv.Close()

	p, _ := NewSerper(Settings{APIKey: "sk", BaseURL: srv.URL, HTTPClient: srv.Client()})
	got, err := p.Search(context.Background(), "q", 5)
	if err != nil || got.Results[0].URL != "https://t" {
		t.Fatalf("Search() = %+v, %v", got, err)
	}
}

func TestPerplexityReportsTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":"answer"}}],"citations":["https://x","https://y"],"usage":{"prompt_tokens":40,"completion_tokens":90}}`)
	}))
	defer srv.Close()

	p, _ := NewPerplexity(Settings{APIKey: "pk", BaseURL: srv.URL, HTTPClient: srv.Client()})
	got, err := p.Search(context.Background(), "q", 5)
	if err != nil {
		t.Fatal(err)
	}
	if got.InputTokens != 40 || got.OutputTokens != 90 || len(got.Results) != 2 || got.Results[0].Snippet != "answer" {
		t.Errorf("Search() = %+v", got)
	}
}

func TestParseLiteHTML(t *testing.T) {
	page := `<table>
<tr><td><a rel="nofollow" href="https://go.dev/" class='result-link'>The Go &amp; Programming Language</a></td></tr>
<tr><td class='result-snippet'>Go is an <b>open source</b> language.</td></tr>
<tr><td><a rel="nofollow" href="https://pkg.go.dev/" class='result-link'>Go Packages</a></td></tr>
<tr><td class='result-snippet'>Discover packages.</td></tr>
</table>`

	got := parseLiteHTML(page)
	want := []Result{
		{Title: "The Go & Programming Language", URL: "https://go.dev/", Snippet: "Go is an open source language."},
		{Title: "Go Packages", URL: "https://pkg.go.dev/", Snippet: "Discover packages."},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseLiteHTML() = %+v", got)
	}
}

func TestResolveFallback(t *testing.T) {
	_, name, err := Resolve("tavily", DuckDuckGoName, Settings{})
	if err != nil || name != DuckDuckGoName {
		t.Fatalf("Resolve() = %q, %v", name, err)
	}
	_, name, err = Resolve("BRAVE", DuckDuckGoName, Settings{APIKey: "k"})
	if err != nil || name != BraveName {
		t.Fatalf("Resolve() = %q, %v", name, err)
	}
	if _, _, err := Resolve("bing", "", Settings{}); err == nil {
		t.Fatal("expected error without fallback")
	}
}

type fakeProvider struct {
	calls int
	fn    func(call int) (Response, error)
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Search(ctx context.Context, query string, max int) (Response, error) {
	f.calls++
	return f.fn(f.calls)
}

func TestWrapRetriesAndLimits(t *testing.T) {
	inner := &fakeProvider{fn: func(call int) (Response, error) {
		if call == 1 {
			return Response{}, fmt.Errorf("connection reset")
		}
		return Response{Provider: "fake", Results: []Result{{URL: "https://ok"}}}, nil
	}}
	cfg := retry.Config{MaxAttempts: 2, Strategy: &retry.LinearBackoff{Delay: time.Millisecond}}

	got, err := Wrap(inner, 1000, nil, cfg).Search(context.Background(), "q", 5)
	if err != nil || inner.calls != 2 || got.Results[0].URL != "https://ok" {
		t.Fatalf("Search() = %+v, %v after %d calls", got, err, inner.calls)
	}
}
