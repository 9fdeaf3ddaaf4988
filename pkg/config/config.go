package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Backend names
const (
	BackendFile      = "file"
	BackendFirestore = "firestore"
	BackendPubSub    = "pubsub"
	BackendLog       = "log"
)

// Config holds the process configuration read from the environment
type Config struct {
	HTTPAddr string
	DataDir  string

	StoreBackend  string
	EventsBackend string
	PubSubTopic   string
	ProjectID     string
	Region        string

	LLMProvider        string
	LLMModel           string
	LLMBaseURL         string
	LLMAPIKey          string
	DefaultLLMProvider string

	SearchProvider        string
	SearchAPIKey          string
	SearchBaseURL         string
	DefaultSearchProvider string

	PublishProvider  string
	GitHubToken      string
	GitHubRepo       string
	GitHubBranch     string
	GitHubPathPrefix string
	PublishDir       string

	PricingFile        string
	MaxConcurrentTasks int
	ShutdownTimeout    time.Duration

	DroneURL     string
	DroneService string
	DroneImage   string
	DroneID      string
	// DroneTeardown deletes drone services this process created on shutdown
	DroneTeardown bool
}

// Load reads configuration from the process environment
func Load() (*Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom reads configuration through getenv and validates it
func LoadFrom(getenv func(string) string) (*Config, error) {
	get := func(key, defaultValue string) string {
		return getEnvOrDefault(getenv, key, defaultValue)
	}

	cfg := &Config{
		HTTPAddr:              get("HTTP_ADDR", ":8080"),
		DataDir:               get("DATA_DIR", "research_data"),
		StoreBackend:          strings.ToLower(get("STORE_BACKEND", BackendFile)),
		EventsBackend:         strings.ToLower(get("EVENTS_BACKEND", BackendLog)),
		PubSubTopic:           get("PUBSUB_TOPIC", "research-status"),
		ProjectID:             get("GOOGLE_CLOUD_PROJECT", ""),
		Region:                get("GOOGLE_CLOUD_REGION", "us-central1"),
		LLMProvider:           strings.ToLower(get("LLM_PROVIDER", "openai")),
		LLMModel:              get("LLM_MODEL", ""),
		LLMBaseURL:            get("LLM_BASE_URL", ""),
		LLMAPIKey:             get("LLM_API_KEY", ""),
		DefaultLLMProvider:    strings.ToLower(get("DEFAULT_LLM_PROVIDER", "openai")),
		SearchProvider:        strings.ToLower(get("SEARCH_PROVIDER", "duckduckgo")),
		SearchAPIKey:          get("SEARCH_API_KEY", ""),
		SearchBaseURL:         get("SEARCH_BASE_URL", ""),
		DefaultSearchProvider: strings.ToLower(get("DEFAULT_SEARCH_PROVIDER", "duckduckgo")),
		PublishProvider:       strings.ToLower(get("PUBLISH_PROVIDER", "local")),
		GitHubToken:           get("GITHUB_TOKEN", ""),
		GitHubRepo:            get("GITHUB_REPO", ""),
		GitHubBranch:          get("GITHUB_BRANCH", "main"),
		GitHubPathPrefix:      get("GITHUB_PATH_PREFIX", "research"),
		PublishDir:            get("PUBLISH_DIR", "published"),
		PricingFile:           get("PRICING_FILE", ""),
		DroneURL:              get("DRONE_URL", ""),
		DroneService:          get("DRONE_SERVICE", ""),
		DroneImage:            get("DRONE_IMAGE", ""),
		DroneID:               get("DRONE_ID", "drone"),
	}

	n, err := strconv.Atoi(get("MAX_CONCURRENT_TASKS", "4"))
	if err != nil || n < 1 {
		return nil, fmt.Errorf("MAX_CONCURRENT_TASKS must be a positive integer")
	}
	cfg.MaxConcurrentTasks = n

	cfg.ShutdownTimeout, err = time.ParseDuration(get("SHUTDOWN_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}

	cfg.DroneTeardown, err = strconv.ParseBool(get("DRONE_TEARDOWN", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid DRONE_TEARDOWN: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks backend-dependent requirements
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendFile, BackendFirestore:
	default:
		return fmt.Errorf("unsupported STORE_BACKEND %q", c.StoreBackend)
	}
	switch c.EventsBackend {
	case BackendLog, BackendPubSub:
	default:
		return fmt.Errorf("unsupported EVENTS_BACKEND %q", c.EventsBackend)
	}
	if c.NeedsGCP() && c.ProjectID == "" {
		return fmt.Errorf("GOOGLE_CLOUD_PROJECT environment variable is required")
	}
	if c.PublishProvider == "github" && (c.GitHubToken == "" || c.GitHubRepo == "") {
		return fmt.Errorf("GITHUB_TOKEN and GITHUB_REPO are required for the github publisher")
	}
	return nil
}

// NeedsGCP reports whether any configured backend talks to Google Cloud
func (c *Config) NeedsGCP() bool {
	return c.StoreBackend == BackendFirestore ||
		c.EventsBackend == BackendPubSub ||
		(c.DroneURL == "" && c.DroneService != "")
}

func getEnvOrDefault(getenv func(string) string, key, defaultValue string) string {
	if value := getenv(key); value != "" {
		return value
	}
	return defaultValue
}
