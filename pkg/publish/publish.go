package publish

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spawn-mcp/research-pipeline/pkg/retry"
	"github.com/spawn-mcp/research-pipeline/pkg/timeout"
)

// Publisher pushes a rendered document and returns its public URL
type Publisher interface {
	Publish(ctx context.Context, path, content string) (string, error)
}

// Name identifies a publish provider
type Name string

const (
	GitHubName Name = "github"
	LocalName  Name = "local"
	NoneName   Name = "none"
)

// Settings configures the publish providers
type Settings struct {
	GitHubToken string
	GitHubRepo  string
	Branch      string
	PathPrefix  string
	BaseURL     string
	Dir         string
	HTTPClient  *http.Client
}

// Constructor builds a publisher
type Constructor func(Settings) (Publisher, error)

var constructors = map[Name]Constructor{
	GitHubName: NewGitHub,
	LocalName:  NewLocal,
	// none resolves to a nil Publisher, which disables publishing
	NoneName: func(Settings) (Publisher, error) { return nil, nil },
}

// Resolve builds the requested publisher, falling back to the default
func Resolve(requested, fallback Name, s Settings) (Publisher, Name, error) {
	requested = Name(strings.ToLower(string(requested)))
	p, err := build(requested, s)
	if err == nil {
		return p, requested, nil
	}
	if fallback == "" || fallback == requested {
		return nil, "", err
	}
	log.Printf("Failed to initialize publisher %q: %v, falling back to %q", requested, err, fallback)
	p, fbErr := build(fallback, s)
	if fbErr != nil {
		return nil, "", fmt.Errorf("publisher %q: %v; fallback %q: %w", requested, err, fallback, fbErr)
	}
	return p, fallback, nil
}

func build(name Name, s Settings) (Publisher, error) {
	ctor, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("unknown publisher %q", name)
	}
	return ctor(s)
}

// Local writes documents under a directory and returns file:// URLs
type Local struct {
	dir string
}

func NewLocal(s Settings) (Publisher, error) {
	dir := s.Dir
	if dir == "" {
		dir = "published"
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve publish dir: %w", err)
	}
	return &Local{dir: abs}, nil
}

func (l *Local) Publish(ctx context.Context, path, content string) (string, error) {
	target := filepath.Join(l.dir, filepath.Clean("/"+path))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create publish dir: %w", err)
	}
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write document: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return "", fmt.Errorf("rename document: %w", err)
	}
	return "file://" + filepath.ToSlash(target), nil
}

type resilient struct {
	next     Publisher
	timeouts *timeout.Manager
	retry    retry.Config
}

// Wrap applies the publish timeout and retry policy. A nil publisher stays nil.
func Wrap(p Publisher, timeouts *timeout.Manager, cfg retry.Config) Publisher {
	if p == nil {
		return nil
	}
	return &resilient{next: p, timeouts: timeouts, retry: cfg}
}

func (r *resilient) Publish(ctx context.Context, path, content string) (string, error) {
	return retry.ExecuteWithRetry(ctx, func() (string, error) {
		return timeout.Run(ctx, r.timeouts, timeout.OpPublish, func(ctx context.Context) (string, error) {
			return r.next.Publish(ctx, path, content)
		})
	}, r.retry)
}

func defaultHTTPClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: 60 * time.Second}
}
