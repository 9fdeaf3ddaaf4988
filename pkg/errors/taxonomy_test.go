package errors

import (
	"fmt"
	"net/http"
	"testing"
)

func TestWrapKeepsRawErrorDetail(t *testing.T) {
	raw := fmt.Errorf("llm quota exhausted")
	err := Wrap(raw, KindPrepare, CodeAnalyzeFailed, "analyze failed")

	if err.Details["error"] != "llm quota exhausted" {
		t.Fatalf("details = %v", err.Details)
	}
	if !Is(err, raw) {
		t.Fatal("expected cause to be reachable")
	}
	if err.CorrelationID == "" {
		t.Fatal("expected correlation id")
	}
	if Wrap(nil, KindPrepare, CodeAnalyzeFailed, "x") != nil {
		t.Fatal("wrapping nil must return nil")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", Validation("missing sections"), http.StatusBadRequest},
		{"not found", NotFound("research task", "abc"), http.StatusNotFound},
		{"wrapped not found", fmt.Errorf("load: %w", NotFound("research task", "abc")), http.StatusNotFound},
		{"edit", New(KindEdit, CodeEditFailed, "edit failed"), http.StatusInternalServerError},
		{"foreign", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(fmt.Errorf("plain")) != KindOrchestration {
		t.Error("foreign errors should classify as orchestration errors")
	}
	if !IsKind(New(KindPublish, CodePublishFailed, "push"), KindPublish) {
		t.Error("expected publish kind")
	}
	if !New(KindPublish, CodePublishFailed, "push").Retryable {
		t.Error("publish failures are retryable")
	}
}

func TestProviderHTTPRetryable(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusUnauthorized, false},
		{http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		if got := ProviderHTTP("tavily", tt.status, "body").Retryable; got != tt.want {
			t.Errorf("status %d retryable = %v, want %v", tt.status, got, tt.want)
		}
	}
}
