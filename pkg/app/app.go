// Package app assembles the research pipeline from configuration. Every
// binary builds its collaborators here so the HTTP and MCP surfaces run
// the same stack.
package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spawn-mcp/research-pipeline/pkg/config"
	"github.com/spawn-mcp/research-pipeline/pkg/costledger"
	"github.com/spawn-mcp/research-pipeline/pkg/drone"
	"github.com/spawn-mcp/research-pipeline/pkg/editor"
	"github.com/spawn-mcp/research-pipeline/pkg/events"
	"github.com/spawn-mcp/research-pipeline/pkg/gcp"
	"github.com/spawn-mcp/research-pipeline/pkg/llm"
	"github.com/spawn-mcp/research-pipeline/pkg/orchestrator"
	"github.com/spawn-mcp/research-pipeline/pkg/prepare"
	"github.com/spawn-mcp/research-pipeline/pkg/publish"
	"github.com/spawn-mcp/research-pipeline/pkg/registry"
	"github.com/spawn-mcp/research-pipeline/pkg/researcher"
	"github.com/spawn-mcp/research-pipeline/pkg/retry"
	"github.com/spawn-mcp/research-pipeline/pkg/runner"
	"github.com/spawn-mcp/research-pipeline/pkg/search"
	"github.com/spawn-mcp/research-pipeline/pkg/store"
	"github.com/spawn-mcp/research-pipeline/pkg/timeout"
	"github.com/spawn-mcp/research-pipeline/pkg/types"
)

// GlobalTimeout caps any single provider operation without its own timeout
const GlobalTimeout = 10 * time.Minute

// App is a fully wired pipeline
type App struct {
	Config       *config.Config
	GCP          *gcp.Client
	Timeouts     *timeout.Manager
	Store        store.TaskStore
	Ledger       *costledger.Ledger
	Registry     *registry.Registry
	Runner       *runner.Runner
	Orchestrator *orchestrator.Orchestrator

	services serviceReaper
}

// serviceReaper deletes the drone services a run deployed
type serviceReaper interface {
	DeleteCreatedServices(ctx context.Context) error
}

// New builds the pipeline described by cfg
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{
		Config:   cfg,
		Timeouts: timeout.NewManager(GlobalTimeout),
		Registry: registry.New(),
		Runner:   runner.New(cfg.MaxConcurrentTasks),
	}

	if cfg.NeedsGCP() {
		client, err := gcp.NewClient(ctx, cfg.ProjectID, cfg.Region)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCP client: %w", err)
		}
		a.GCP = client
		a.services = client
		log.Printf("Initialized GCP client for project %s in region %s", cfg.ProjectID, cfg.Region)
	}

	if err := a.buildStore(); err != nil {
		a.closeGCP()
		return nil, err
	}

	pricing, err := costledger.LoadPricing(cfg.PricingFile)
	if err != nil {
		a.closeGCP()
		return nil, err
	}
	a.Ledger = costledger.New(pricing, a.Store, costledger.WithListener(
		func(ctx context.Context, taskID string, summary types.CostSummary) error {
			return a.Orchestrator.MirrorCost(ctx, taskID, summary)
		}))

	client, provider, err := Providers(cfg, a.Timeouts)
	if err != nil {
		a.closeGCP()
		return nil, err
	}

	sectionResearcher, err := a.buildResearcher(ctx, client, provider)
	if err != nil {
		a.closeGCP()
		return nil, err
	}

	publisher, err := a.buildPublisher()
	if err != nil {
		a.closeGCP()
		return nil, err
	}

	a.Orchestrator = orchestrator.New(orchestrator.Deps{
		Preparer:   prepare.New(client, a.Ledger),
		Researcher: sectionResearcher,
		Editor:     editor.New(client, a.Ledger),
		Publisher:  publisher,
		Store:      a.Store,
		Ledger:     a.Ledger,
		Registry:   a.Registry,
		Events:     a.buildEvents(),
		Scheduler:  a.Runner,
	})
	return a, nil
}

// Providers resolves the LLM client and search provider with timeouts,
// retries and rate limits applied.
func Providers(cfg *config.Config, timeouts *timeout.Manager) (llm.Client, search.Provider, error) {
	client, llmName, err := llm.Resolve(llm.Name(cfg.LLMProvider), llm.Name(cfg.DefaultLLMProvider), llm.Settings{
		APIKey:  cfg.LLMAPIKey,
		Model:   cfg.LLMModel,
		BaseURL: cfg.LLMBaseURL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize LLM provider: %w", err)
	}

	provider, searchName, err := search.Resolve(search.Name(cfg.SearchProvider), search.Name(cfg.DefaultSearchProvider), search.Settings{
		APIKey:  cfg.SearchAPIKey,
		BaseURL: cfg.SearchBaseURL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize search provider: %w", err)
	}
	log.Printf("Using LLM provider %s and search provider %s", llmName, searchName)

	return llm.Wrap(client, timeouts, retry.DefaultConfigs.Standard),
		search.Wrap(provider, search.Rate(searchName), timeouts, retry.DefaultConfigs.Standard),
		nil
}

func (a *App) buildStore() error {
	switch a.Config.StoreBackend {
	case config.BackendFirestore:
		a.Store = store.NewFirestoreStore(a.GCP, a.Timeouts)
		log.Printf("Persisting tasks to Firestore")
	default:
		s, err := store.NewFileStore(a.Config.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open data dir: %w", err)
		}
		a.Store = s
		log.Printf("Persisting tasks under %s", a.Config.DataDir)
	}
	return nil
}

// buildResearcher researches in process unless a drone is configured
func (a *App) buildResearcher(ctx context.Context, client llm.Client, provider search.Provider) (orchestrator.SectionResearcher, error) {
	cfg := a.Config
	if cfg.DroneURL == "" && cfg.DroneService == "" {
		return researcher.New(client, provider, a.Ledger), nil
	}

	var services drone.ServiceEnsurer
	if a.GCP != nil {
		services = a.GCP
	}
	url, err := drone.ResolveURL(ctx, cfg.DroneURL, services, cfg.DroneService, cfg.DroneImage, droneEnv(cfg))
	if err != nil {
		return nil, err
	}
	log.Printf("Delegating section research to drone at %s", url)

	if strings.HasPrefix(url, "https://") {
		return drone.NewAuthenticatedRemote(ctx, url, a.Timeouts, a.Ledger)
	}
	return drone.NewRemote(url, nil, a.Timeouts, a.Ledger), nil
}

// droneEnv is the environment a deployed drone needs to reach the same providers
func droneEnv(cfg *config.Config) map[string]string {
	env := map[string]string{
		"LLM_PROVIDER":    cfg.LLMProvider,
		"SEARCH_PROVIDER": cfg.SearchProvider,
	}
	for key, value := range map[string]string{
		"LLM_MODEL":       cfg.LLMModel,
		"LLM_BASE_URL":    cfg.LLMBaseURL,
		"LLM_API_KEY":     cfg.LLMAPIKey,
		"SEARCH_API_KEY":  cfg.SearchAPIKey,
		"SEARCH_BASE_URL": cfg.SearchBaseURL,
	} {
		if value != "" {
			env[key] = value
		}
	}
	return env
}

func (a *App) buildPublisher() (publish.Publisher, error) {
	cfg := a.Config
	p, name, err := publish.Resolve(publish.Name(cfg.PublishProvider), publish.LocalName, publish.Settings{
		GitHubToken: cfg.GitHubToken,
		GitHubRepo:  cfg.GitHubRepo,
		Branch:      cfg.GitHubBranch,
		PathPrefix:  cfg.GitHubPathPrefix,
		Dir:         cfg.PublishDir,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize publisher: %w", err)
	}
	if p == nil {
		log.Printf("Publishing disabled")
		return nil, nil
	}
	log.Printf("Publishing documents with %s", name)
	return publish.Wrap(p, a.Timeouts, retry.DefaultConfigs.Standard), nil
}

func (a *App) buildEvents() events.Publisher {
	pubs := events.Multi{events.LogPublisher{}}
	if a.Config.EventsBackend == config.BackendPubSub {
		pubs = append(pubs, events.NewPubSubPublisher(a.GCP, a.Config.PubSubTopic))
		log.Printf("Announcing status changes on Pub/Sub topic %s", a.Config.PubSubTopic)
	}
	return pubs
}

// Recover fails tasks a previous process left mid-run
func (a *App) Recover(ctx context.Context) {
	n, err := a.Orchestrator.RecoverInterrupted(ctx)
	if err != nil {
		log.Printf("Failed to recover interrupted tasks: %v", err)
		return
	}
	if n > 0 {
		log.Printf("Marked %d interrupted tasks as failed", n)
	}
}

// Shutdown stops scheduling, cancels in-flight runs and waits for them to
// record their outcome before closing the cloud clients.
func (a *App) Shutdown(ctx context.Context) error {
	a.Runner.Stop()
	err := a.Runner.Wait(ctx)
	if err != nil {
		log.Printf("Timed out waiting for runs to finish: %v", err)
	}
	a.teardownDrones(ctx)
	a.closeGCP()
	return err
}

func (a *App) teardownDrones(ctx context.Context) {
	if a.services == nil || !a.Config.DroneTeardown {
		return
	}
	if err := a.services.DeleteCreatedServices(ctx); err != nil {
		log.Printf("Failed to delete drone services: %v", err)
	}
}

func (a *App) closeGCP() {
	if a.GCP == nil {
		return
	}
	if err := a.GCP.Close(); err != nil {
		log.Printf("Error closing GCP client: %v", err)
	}
}
