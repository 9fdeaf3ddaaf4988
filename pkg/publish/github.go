package publish

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/spawn-mcp/research-pipeline/pkg/errors"
)

// GitHub commits documents through the repository contents API
type GitHub struct {
	token   string
	owner   string
	repo    string
	branch  string
	prefix  string
	baseURL string
	client  *http.Client
}

func NewGitHub(s Settings) (Publisher, error) {
	if s.GitHubToken == "" {
		return nil, fmt.Errorf("github: token is missing")
	}
	owner, repo, ok := strings.Cut(s.GitHubRepo, "/")
	if !ok || owner == "" || repo == "" {
		return nil, fmt.Errorf("github: repo must be owner/name, got %q", s.GitHubRepo)
	}
	branch := s.Branch
	if branch == "" {
		branch = "main"
	}
	baseURL := s.BaseURL
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	return &GitHub{
		token:   s.GitHubToken,
		owner:   owner,
		repo:    repo,
		branch:  branch,
		prefix:  strings.Trim(s.PathPrefix, "/"),
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  defaultHTTPClient(s.HTTPClient),
	}, nil
}

func (g *GitHub) contentsURL(p string) string {
	return fmt.Sprintf("%s/repos/%s/%s/contents/%s", g.baseURL, g.owner, g.repo, p)
}

// Publish creates or updates the file and returns its html_url
func (g *GitHub) Publish(ctx context.Context, p, content string) (string, error) {
	full := path.Join(g.prefix, p)

	sha, err := g.existingSHA(ctx, full)
	if err != nil {
		return "", err
	}

	body := map[string]string{
		"message": "Add research document " + path.Base(full),
		"content": base64.StdEncoding.EncodeToString([]byte(content)),
		"branch":  g.branch,
	}
	if sha != "" {
		body["message"] = "Update research document " + path.Base(full)
		body["sha"] = sha
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, g.contentsURL(full), bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	g.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		Content struct {
			HTMLURL string `json:"html_url"`
		} `json:"content"`
	}
	if err := g.do(req, &out); err != nil {
		return "", err
	}
	return out.Content.HTMLURL, nil
}

// existingSHA returns the blob sha of an existing file, or "" when absent
func (g *GitHub) existingSHA(ctx context.Context, p string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.contentsURL(p)+"?ref="+url.QueryEscape(g.branch), nil)
	if err != nil {
		return "", err
	}
	g.authorize(req)

	var out struct {
		SHA string `json:"sha"`
	}
	if err := g.do(req, &out); err != nil {
		if e, ok := errors.As(err); ok && e.Details["status"] == "404" {
			return "", nil
		}
		return "", err
	}
	return out.SHA, nil
}

func (g *GitHub) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
}

func (g *GitHub) do(req *http.Request, out any) error {
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("github request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.ProviderHTTP("github", resp.StatusCode, string(data)).
			WithDetail("status", fmt.Sprint(resp.StatusCode))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
