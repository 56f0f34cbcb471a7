// Package mockgithub is an in-memory stand-in for the GitHub issues
// API, used for local development and demos. It implements just the
// surface the connector calls.
package mockgithub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Issue is one mock issue record.
type Issue struct {
	Number int      `json:"number"`
	Title  string   `json:"title"`
	State  string   `json:"state"`
	Labels []string `json:"labels"`
}

// Comment is one mock issue comment.
type Comment struct {
	ID        int    `json:"id"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
}

// Server holds the mutable mock state. All access is serialized; the
// mock favors simplicity over throughput.
type Server struct {
	mu       sync.Mutex
	repos    map[string][]*Issue
	comments map[string][]Comment
	nextID   int
}

// NewServer seeds a server with a small fixed data set so demo
// walkthroughs have something to triage.
func NewServer() *Server {
	return &Server{
		repos: map[string][]*Issue{
			"acme/roadrunner": {
				{Number: 1, Title: "Crash when loading malformed config", State: "open", Labels: []string{"bug"}},
				{Number: 2, Title: "Add dark mode to the dashboard", State: "open", Labels: []string{"enhancement"}},
				{Number: 3, Title: "Flaky integration test on CI", State: "open", Labels: []string{}},
			},
			"acme/payments": {
				{Number: 1, Title: "Reconciliation job times out", State: "open", Labels: []string{"bug", "urgent"}},
			},
		},
		comments: map[string][]Comment{},
		nextID:   1000,
	}
}

// Handler returns the HTTP surface of the mock.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/{owner}/{repo}/issues", s.listIssues)
	mux.HandleFunc("POST /repos/{owner}/{repo}/issues/{number}/labels", s.setLabels)
	mux.HandleFunc("POST /repos/{owner}/{repo}/issues/{number}/comments", s.createComment)
	return mux
}

// ListenAndServe runs the mock on addr until the process exits.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("mock github listening", "addr", addr)
	return srv.ListenAndServe()
}

func (s *Server) listIssues(w http.ResponseWriter, r *http.Request) {
	repo := r.PathValue("owner") + "/" + r.PathValue("repo")
	state := r.URL.Query().Get("state")
	if state == "" {
		state = "open"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	issues, ok := s.repos[repo]
	if !ok {
		writeNotFound(w)
		return
	}

	out := make([]Issue, 0, len(issues))
	for _, issue := range issues {
		if state != "all" && issue.State != state {
			continue
		}
		out = append(out, *issue)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) setLabels(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Labels []string `json:"labels"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid json"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	issue, ok := s.findIssue(r)
	if !ok {
		writeNotFound(w)
		return
	}

	// GitHub semantics: POST adds labels, merged as a sorted set.
	merged := map[string]struct{}{}
	for _, label := range issue.Labels {
		merged[label] = struct{}{}
	}
	for _, label := range payload.Labels {
		if label = strings.TrimSpace(label); label != "" {
			merged[label] = struct{}{}
		}
	}
	issue.Labels = issue.Labels[:0]
	for label := range merged {
		issue.Labels = append(issue.Labels, label)
	}
	sort.Strings(issue.Labels)
	writeJSON(w, http.StatusOK, issue.Labels)
}

func (s *Server) createComment(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || strings.TrimSpace(payload.Body) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "body is required"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	issue, ok := s.findIssue(r)
	if !ok {
		writeNotFound(w)
		return
	}

	s.nextID++
	comment := Comment{
		ID:        s.nextID,
		Body:      payload.Body,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	key := commentKey(r.PathValue("owner")+"/"+r.PathValue("repo"), issue.Number)
	s.comments[key] = append(s.comments[key], comment)
	writeJSON(w, http.StatusCreated, comment)
}

// findIssue resolves the issue addressed by the request path. The
// caller must hold the lock.
func (s *Server) findIssue(r *http.Request) (*Issue, bool) {
	repo := r.PathValue("owner") + "/" + r.PathValue("repo")
	number, err := strconv.Atoi(r.PathValue("number"))
	if err != nil {
		return nil, false
	}
	for _, issue := range s.repos[repo] {
		if issue.Number == number {
			return issue, true
		}
	}
	return nil, false
}

// Comments returns the comments recorded for one issue. Test hook.
func (s *Server) Comments(repo string, number int) []Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.comments[commentKey(repo, number)]
	out := make([]Comment, len(stored))
	copy(out, stored)
	return out
}

func commentKey(repo string, number int) string {
	return fmt.Sprintf("%s#%d", repo, number)
}

func writeNotFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
