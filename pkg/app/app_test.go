package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/spawn-mcp/research-pipeline/pkg/config"
	"github.com/spawn-mcp/research-pipeline/pkg/orchestrator"
	"github.com/spawn-mcp/research-pipeline/pkg/runner"
	"github.com/spawn-mcp/research-pipeline/pkg/types"
)

// fakeOllama answers each pipeline prompt by its system message
func fakeOllama(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		system := req.Messages[0].Content

		var content string
		switch {
		case strings.Contains(system, "analyze research requests"):
			content = `{"topic":"Go","scope":"history","target_audience":"engineers"}`
		case strings.Contains(system, "plan research documents"):
			content = `{"title":"The Go Language","sections":[{"title":"Origins","description":"2007"},{"title":"Design","description":"goals"}]}`
		case strings.Contains(system, "research writer"):
			content = "Go was designed at Google [1]."
		default:
			content = "Merged document."
		}
		json.NewEncoder(w).Encode(map[string]any{
			"model":             "llama3",
			"message":           map[string]string{"role": "assistant", "content": content},
			"prompt_eval_count": 10,
			"eval_count":        5,
		})
	}))
}

func fakeTavily() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":[{"title":"Go FAQ","url":"https://go.dev/doc/faq","content":"history"}]}`)
	}))
}

func TestPipelineEndToEnd(t *testing.T) {
	llmSrv := fakeOllama(t)
	defer llmSrv.Close()
	searchSrv := fakeTavily()
	defer searchSrv.Close()

	dataDir, publishDir := t.TempDir(), t.TempDir()
	env := map[string]string{
		"LLM_PROVIDER":     "ollama",
		"LLM_BASE_URL":     llmSrv.URL,
		"SEARCH_PROVIDER":  "tavily",
		"SEARCH_API_KEY":   "tvly",
		"SEARCH_BASE_URL":  searchSrv.URL,
		"DATA_DIR":         dataDir,
		"PUBLISH_PROVIDER": "local",
		"PUBLISH_DIR":      publishDir,
	}
	cfg, err := config.LoadFrom(func(key string) string { return env[key] })
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	pipeline, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer pipeline.Shutdown(ctx)

	created, err := pipeline.Orchestrator.Create(ctx, types.ResearchRequest{Query: "history of go"}, orchestrator.ModeComplete)
	if err != nil {
		t.Fatal(err)
	}

	var task *types.ResearchTask
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		task, err = pipeline.Orchestrator.Get(ctx, created.ID)
		if err != nil {
			t.Fatal(err)
		}
		if task.Status.Terminal() {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if task.Status != types.StatusCompleted {
		t.Fatalf("status = %s, error = %+v", task.Status, task.Error)
	}
	if task.Analysis.TargetAudience != "engineers" || len(task.Sections) != 2 {
		t.Errorf("analysis = %+v, sections = %d", task.Analysis, len(task.Sections))
	}
	if !strings.HasPrefix(task.PublishURL, "file://") {
		t.Fatalf("publish url = %q", task.PublishURL)
	}
	doc, err := os.ReadFile(strings.TrimPrefix(task.PublishURL, "file://"))
	if err != nil || !strings.Contains(string(doc), "Merged document.") {
		t.Errorf("published document = %q, %v", doc, err)
	}

	cost, err := pipeline.Orchestrator.Cost(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	// analyze, outline, two syntheses and the edit; one search per section
	if cost.LLMRequests != 5 || cost.SearchRequests != 2 {
		t.Errorf("cost = %+v", cost)
	}
	if cost.SearchCostUSD <= 0 {
		t.Errorf("tavily searches should be billed: %+v", cost)
	}
}

func TestDroneEnvOmitsEmptySettings(t *testing.T) {
	env := droneEnv(&config.Config{LLMProvider: "openai", SearchProvider: "tavily", LLMAPIKey: "sk"})
	if env["LLM_API_KEY"] != "sk" || env["SEARCH_PROVIDER"] != "tavily" {
		t.Errorf("env = %v", env)
	}
	if _, ok := env["SEARCH_API_KEY"]; ok {
		t.Errorf("empty key forwarded: %v", env)
	}
}

func TestNoneDisablesPublishing(t *testing.T) {
	a := &App{Config: &config.Config{PublishProvider: "none"}}
	p, err := a.buildPublisher()
	if err != nil || p != nil {
		t.Fatalf("buildPublisher() = %v, %v", p, err)
	}
}

type fakeReaper struct{ calls int }

func (f *fakeReaper) DeleteCreatedServices(ctx context.Context) error {
	f.calls++
	return fmt.Errorf("permission denied")
}

func TestShutdownTearsDownDronesWhenEnabled(t *testing.T) {
	for _, enabled := range []bool{false, true} {
		reaper := &fakeReaper{}
		a := &App{
			Config:   &config.Config{DroneTeardown: enabled},
			Runner:   runner.New(1),
			services: reaper,
		}
		if err := a.Shutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown() error = %v", err)
		}
		if want := map[bool]int{false: 0, true: 1}[enabled]; reaper.calls != want {
			t.Errorf("teardown %v: calls = %d, want %d", enabled, reaper.calls, want)
		}
	}
}
