package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultRetryAttempts = 3
	defaultRetryBackoff  = 200 * time.Millisecond
	defaultTimeout       = 10 * time.Second
)

// GitHubOptions configures the GitHub HTTP client.
type GitHubOptions struct {
	BaseURL       string
	Token         string
	RetryAttempts int
	RetryBackoff  time.Duration
	Timeout       time.Duration
}

// GitHubClient talks to the GitHub issues API (or a mock standing in
// for it). Transient failures are retried with linearly increasing
// backoff; upstream rejections are hard failures.
type GitHubClient struct {
	baseURL     string
	token       string
	maxAttempts int
	backoff     time.Duration
	httpClient  *http.Client
}

// NewGitHubClient builds a client with bounded per-attempt timeouts.
func NewGitHubClient(opts GitHubOptions) *GitHubClient {
	attempts := opts.RetryAttempts
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}
	backoff := opts.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &GitHubClient{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		token:       opts.Token,
		maxAttempts: attempts,
		backoff:     backoff,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

func (c *GitHubClient) ListIssues(ctx context.Context, resource, state string) (Result, error) {
	owner, name, err := splitResource(resource)
	if err != nil {
		return nil, err
	}
	if state == "" {
		state = "open"
	}

	endpoint := fmt.Sprintf("%s/repos/%s/%s/issues?state=%s", c.baseURL, owner, name, url.QueryEscape(state))
	var issues []any
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &issues); err != nil {
		return nil, err
	}
	return Result{"issues": issues}, nil
}

func (c *GitHubClient) SetLabels(ctx context.Context, resource string, issueNumber int, labels []string) (Result, error) {
	owner, name, err := splitResource(resource)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/repos/%s/%s/issues/%d/labels", c.baseURL, owner, name, issueNumber)
	var updated []any
	if err := c.doJSON(ctx, http.MethodPost, endpoint, map[string]any{"labels": labels}, &updated); err != nil {
		return nil, err
	}
	return Result{"labels": updated}, nil
}

func (c *GitHubClient) CreateComment(ctx context.Context, resource string, issueNumber int, body string) (Result, error) {
	owner, name, err := splitResource(resource)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/repos/%s/%s/issues/%d/comments", c.baseURL, owner, name, issueNumber)
	var comment any
	if err := c.doJSON(ctx, http.MethodPost, endpoint, map[string]any{"body": body}, &comment); err != nil {
		return nil, err
	}
	return Result{"comment": comment}, nil
}

// doJSON performs one logical request with bounded retries. Once an
// attempt is dispatched it runs to completion or timeout; there is no
// caller-side cancellation of an in-flight attempt beyond ctx.
func (c *GitHubClient) doJSON(ctx context.Context, method, endpoint string, payload any, out any) error {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		lastErr = c.doOnce(ctx, method, endpoint, payload, out)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) || attempt == c.maxAttempts {
			break
		}
		select {
		case <-time.After(time.Duration(attempt) * c.backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func (c *GitHubClient) doOnce(ctx context.Context, method, endpoint string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Connection errors and timeouts are transient.
		return makeRetryable(fmt.Errorf("upstream request failed: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return makeRetryable(fmt.Errorf("read upstream response: %w", err))
	}

	if resp.StatusCode >= 400 {
		failure := fmt.Errorf("upstream responded %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		if isRetryableStatus(resp.StatusCode) {
			return makeRetryable(failure)
		}
		return failure
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode upstream response: %w", err)
		}
	}
	return nil
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func splitResource(resource string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(resource, "/")
	if !ok || owner == "" || name == "" {
		return "", "", fmt.Errorf("resource must be owner/name, got %q", resource)
	}
	return owner, name, nil
}
