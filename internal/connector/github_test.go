package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newGitHubTestClient(baseURL string, attempts int) *GitHubClient {
	return NewGitHubClient(GitHubOptions{
		BaseURL:       baseURL,
		RetryAttempts: attempts,
		RetryBackoff:  time.Millisecond,
		Timeout:       time.Second,
	})
}

func TestListIssues_ReturnsStructuredResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/roadrunner/issues" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("state"); got != "open" {
			t.Fatalf("expected state open, got %q", got)
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{{"number": 1, "title": "bug"}})
	}))
	defer server.Close()

	result, err := newGitHubTestClient(server.URL, 1).ListIssues(context.Background(), "acme/roadrunner", "")
	if err != nil {
		t.Fatalf("ListIssues: %v", err)
	}
	issues, ok := result["issues"].([]any)
	if !ok || len(issues) != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestSetLabels_PostsPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/repos/acme/roadrunner/issues/1/labels" {
			t.Fatalf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var payload struct {
			Labels []string `json:"labels"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		_ = json.NewEncoder(w).Encode(payload.Labels)
	}))
	defer server.Close()

	result, err := newGitHubTestClient(server.URL, 1).SetLabels(context.Background(), "acme/roadrunner", 1, []string{"bug"})
	if err != nil {
		t.Fatalf("SetLabels: %v", err)
	}
	if _, ok := result["labels"]; !ok {
		t.Fatalf("expected labels key, got %+v", result)
	}
}

func TestDoJSON_RetriesTransientStatusThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode([]any{})
	}))
	defer server.Close()

	if _, err := newGitHubTestClient(server.URL, 3).ListIssues(context.Background(), "acme/roadrunner", "open"); err != nil {
		t.Fatalf("expected retries to succeed, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestDoJSON_ExhaustedRetriesPropagateFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newGitHubTestClient(server.URL, 2).ListIssues(context.Background(), "acme/roadrunner", "open")
	if err == nil {
		t.Fatal("expected a hard failure after exhausting retries")
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestDoJSON_UpstreamRejectionIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "issue not found", http.StatusNotFound)
	}))
	defer server.Close()

	_, err := newGitHubTestClient(server.URL, 3).SetLabels(context.Background(), "acme/roadrunner", 99, []string{"bug"})
	if err == nil {
		t.Fatal("expected an error for upstream rejection")
	}
	if IsRetryable(err) {
		t.Fatalf("404 must not be classified retryable: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestSplitResource_RejectsMalformedScope(t *testing.T) {
	for _, resource := range []string{"", "acme", "/roadrunner", "acme/"} {
		if _, _, err := splitResource(resource); err == nil {
			t.Fatalf("expected error for %q", resource)
		}
	}
}
