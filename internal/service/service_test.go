package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/agent2allow/gateway/internal/connector"
	"github.com/agent2allow/gateway/internal/policy"
	"github.com/agent2allow/gateway/internal/rbac"
	"github.com/agent2allow/gateway/internal/store"
)

const testPolicy = `version: 1
defaults:
  deny_by_default: true
rules:
  - tool: github
    actions: ["issues.set_labels", "issues.create_comment"]
    repo: "acme/payments"
    risk: high
    allow: true
  - tool: github
    actions: ["issues.list"]
    repo: "acme/*"
    risk: read
    allow: true
  - tool: github
    actions: ["issues.set_labels", "issues.create_comment"]
    repo: "acme/*"
    risk: medium
    allow: true
`

type fakeConnector struct {
	mu           sync.Mutex
	listCalls    int
	labelCalls   int
	commentCalls int
	failures     int

	lastState  string
	lastLabels []string
	lastBody   string
}

func (f *fakeConnector) take() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("upstream unavailable")
	}
	return nil
}

func (f *fakeConnector) ListIssues(_ context.Context, resource, state string) (connector.Result, error) {
	f.mu.Lock()
	f.listCalls++
	f.lastState = state
	f.mu.Unlock()
	if err := f.take(); err != nil {
		return nil, err
	}
	return connector.Result{"issues": []any{}, "resource": resource}, nil
}

func (f *fakeConnector) SetLabels(_ context.Context, resource string, issueNumber int, labels []string) (connector.Result, error) {
	f.mu.Lock()
	f.labelCalls++
	f.lastLabels = labels
	f.mu.Unlock()
	if err := f.take(); err != nil {
		return nil, err
	}
	return connector.Result{"resource": resource, "issue_number": float64(issueNumber), "labels": labels}, nil
}

func (f *fakeConnector) CreateComment(_ context.Context, resource string, issueNumber int, body string) (connector.Result, error) {
	f.mu.Lock()
	f.commentCalls++
	f.lastBody = body
	f.mu.Unlock()
	if err := f.take(); err != nil {
		return nil, err
	}
	return connector.Result{"resource": resource, "issue_number": float64(issueNumber)}, nil
}

func newTestService(t *testing.T, authorizer *rbac.Authorizer) (*Service, *fakeConnector) {
	t.Helper()

	dir := t.TempDir()
	policyPath := filepath.Join(dir, "policy.yml")
	if err := os.WriteFile(policyPath, []byte(testPolicy), 0644); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	engine, err := policy.NewEngine(policyPath)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	st, err := store.Open(filepath.Join(dir, "gateway.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	conn := &fakeConnector{}
	return New(st, engine, conn, authorizer, nil), conn
}

func testAuthorizer(t *testing.T) *rbac.Authorizer {
	t.Helper()
	authorizer, err := rbac.New(rbac.Config{
		Enabled:              true,
		RoleBindings:         `{"alice":"sre","sam":"security","bob":"viewer"}`,
		ApproveRoles:         "sre,security",
		DenyRoles:            "sre,security",
		HighRiskApproveRoles: "security",
	})
	if err != nil {
		t.Fatalf("new authorizer: %v", err)
	}
	return authorizer
}

func listRequest(key string) ToolCallRequest {
	return ToolCallRequest{
		AgentID:        "triage-bot",
		Tool:           "github",
		Action:         "issues.list",
		Resource:       "acme/roadrunner",
		Params:         map[string]any{"state": "open"},
		IdempotencyKey: key,
	}
}

func labelRequest() ToolCallRequest {
	return ToolCallRequest{
		AgentID:  "triage-bot",
		Tool:     "github",
		Action:   "issues.set_labels",
		Resource: "acme/roadrunner",
		Params:   map[string]any{"issue_number": float64(2), "labels": []any{"bug", "triaged"}},
	}
}

func TestHandleToolCallDefaultDeny(t *testing.T) {
	svc, conn := newTestService(t, nil)

	req := listRequest("")
	req.Resource = "evil/repo"
	resp, err := svc.HandleToolCall(context.Background(), req)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if resp.Status != StatusDenied {
		t.Fatalf("expected status %q, got %q", StatusDenied, resp.Status)
	}
	if conn.listCalls != 0 {
		t.Fatalf("expected no connector calls, got %d", conn.listCalls)
	}

	entries, err := svc.ListAudit(context.Background())
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	if entries[0].Status != StatusDenied {
		t.Fatalf("expected audit status %q, got %q", StatusDenied, entries[0].Status)
	}
}

func TestHandleToolCallReadExecutes(t *testing.T) {
	svc, conn := newTestService(t, nil)

	resp, err := svc.HandleToolCall(context.Background(), listRequest(""))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if resp.Status != StatusExecuted {
		t.Fatalf("expected status %q, got %q", StatusExecuted, resp.Status)
	}
	if conn.listCalls != 1 {
		t.Fatalf("expected 1 list call, got %d", conn.listCalls)
	}
	if conn.lastState != "open" {
		t.Fatalf("expected state %q, got %q", "open", conn.lastState)
	}
	if resp.Result["resource"] != "acme/roadrunner" {
		t.Fatalf("expected result to carry resource, got %v", resp.Result)
	}
}

func TestHandleToolCallMissingAgentID(t *testing.T) {
	svc, _ := newTestService(t, nil)

	req := listRequest("")
	req.AgentID = "  "
	if _, err := svc.HandleToolCall(context.Background(), req); err == nil {
		t.Fatal("expected an error for a blank agent_id")
	}
}

func TestApprovalFlowApprove(t *testing.T) {
	svc, conn := newTestService(t, nil)
	ctx := context.Background()

	resp, err := svc.HandleToolCall(ctx, labelRequest())
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if resp.Status != StatusPendingApproval {
		t.Fatalf("expected status %q, got %q", StatusPendingApproval, resp.Status)
	}
	if resp.ApprovalID == nil {
		t.Fatal("expected an approval id")
	}
	if conn.labelCalls != 0 {
		t.Fatalf("expected no execution before approval, got %d calls", conn.labelCalls)
	}

	pending, err := svc.ListPendingApprovals(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != *resp.ApprovalID {
		t.Fatalf("expected pending approval %d, got %+v", *resp.ApprovalID, pending)
	}

	outcome, err := svc.Approve(ctx, *resp.ApprovalID, "alice", "looks right")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if outcome.Status != StatusExecuted {
		t.Fatalf("expected status %q, got %q", StatusExecuted, outcome.Status)
	}
	if conn.labelCalls != 1 {
		t.Fatalf("expected 1 label call, got %d", conn.labelCalls)
	}
	if got := strings.Join(conn.lastLabels, ","); got != "bug,triaged" {
		t.Fatalf("expected labels %q, got %q", "bug,triaged", got)
	}
}

func TestApprovalFlowDeny(t *testing.T) {
	svc, conn := newTestService(t, nil)
	ctx := context.Background()

	resp, err := svc.HandleToolCall(ctx, labelRequest())
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	outcome, err := svc.Deny(ctx, *resp.ApprovalID, "alice", "not during the freeze")
	if err != nil {
		t.Fatalf("deny: %v", err)
	}
	if outcome.Status != StatusDeniedByHuman {
		t.Fatalf("expected status %q, got %q", StatusDeniedByHuman, outcome.Status)
	}
	if conn.labelCalls != 0 {
		t.Fatalf("expected no execution after deny, got %d calls", conn.labelCalls)
	}
}

func TestApprovalDecisionIsFinal(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	resp, err := svc.HandleToolCall(ctx, labelRequest())
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	first, err := svc.Approve(ctx, *resp.ApprovalID, "alice", "")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if first.Status != StatusExecuted {
		t.Fatalf("expected status %q, got %q", StatusExecuted, first.Status)
	}

	second, err := svc.Deny(ctx, *resp.ApprovalID, "alice", "changed my mind")
	if err != nil {
		t.Fatalf("deny: %v", err)
	}
	if second.Status != StatusInvalidState {
		t.Fatalf("expected status %q, got %q", StatusInvalidState, second.Status)
	}
}

func TestApproveUnknownID(t *testing.T) {
	svc, _ := newTestService(t, nil)

	outcome, err := svc.Approve(context.Background(), 4242, "alice", "")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if outcome.Status != StatusNotFound {
		t.Fatalf("expected status %q, got %q", StatusNotFound, outcome.Status)
	}
}

func TestHighRiskApprovalNeedsSeparateRole(t *testing.T) {
	svc, conn := newTestService(t, testAuthorizer(t))
	ctx := context.Background()

	req := labelRequest()
	req.Resource = "acme/payments"
	resp, err := svc.HandleToolCall(ctx, req)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if resp.Status != StatusPendingApproval {
		t.Fatalf("expected status %q, got %q", StatusPendingApproval, resp.Status)
	}

	// An ordinary approver role is not enough for high risk.
	outcome, err := svc.Approve(ctx, *resp.ApprovalID, "alice", "")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if outcome.Status != StatusForbidden {
		t.Fatalf("expected status %q, got %q", StatusForbidden, outcome.Status)
	}
	if conn.labelCalls != 0 {
		t.Fatalf("expected no execution after a forbidden decision, got %d calls", conn.labelCalls)
	}

	outcome, err = svc.Approve(ctx, *resp.ApprovalID, "sam", "")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if outcome.Status != StatusExecuted {
		t.Fatalf("expected status %q, got %q", StatusExecuted, outcome.Status)
	}
}

func TestUnmappedApproverIsForbidden(t *testing.T) {
	svc, _ := newTestService(t, testAuthorizer(t))
	ctx := context.Background()

	resp, err := svc.HandleToolCall(ctx, labelRequest())
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	outcome, err := svc.Approve(ctx, *resp.ApprovalID, "mallory", "")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if outcome.Status != StatusForbidden {
		t.Fatalf("expected status %q, got %q", StatusForbidden, outcome.Status)
	}
}

func TestIdempotentReplay(t *testing.T) {
	svc, conn := newTestService(t, nil)
	ctx := context.Background()

	first, err := svc.HandleToolCall(ctx, listRequest("demo-123"))
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if first.Status != StatusExecuted {
		t.Fatalf("expected status %q, got %q", StatusExecuted, first.Status)
	}
	if first.IdempotentReplay {
		t.Fatal("first call must not be a replay")
	}

	second, err := svc.HandleToolCall(ctx, listRequest("demo-123"))
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if second.Status != StatusExecuted {
		t.Fatalf("expected status %q, got %q", StatusExecuted, second.Status)
	}
	if !second.IdempotentReplay {
		t.Fatal("second call must be flagged as a replay")
	}
	if conn.listCalls != 1 {
		t.Fatalf("expected exactly 1 connector call, got %d", conn.listCalls)
	}

	entries, err := svc.ListAudit(ctx)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if entries[0].Status != auditStatusIdempotentReplay {
		t.Fatalf("expected newest audit status %q, got %q", auditStatusIdempotentReplay, entries[0].Status)
	}
}

func TestIdempotencyKeyConflict(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	if _, err := svc.HandleToolCall(ctx, listRequest("demo-123")); err != nil {
		t.Fatalf("first call: %v", err)
	}

	changed := listRequest("demo-123")
	changed.Params = map[string]any{"state": "closed"}
	_, err := svc.HandleToolCall(ctx, changed)
	if !errors.Is(err, ErrIdempotencyConflict) {
		t.Fatalf("expected ErrIdempotencyConflict, got %v", err)
	}
}

func TestExecutionErrorIsNotCached(t *testing.T) {
	svc, conn := newTestService(t, nil)
	ctx := context.Background()

	conn.failures = 1
	resp, err := svc.HandleToolCall(ctx, listRequest("demo-retry"))
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if resp.Status != StatusError {
		t.Fatalf("expected status %q, got %q", StatusError, resp.Status)
	}

	// An error outcome leaves the ledger untouched, so the same key can
	// be retried and reaches the connector again.
	resp, err = svc.HandleToolCall(ctx, listRequest("demo-retry"))
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if resp.Status != StatusExecuted {
		t.Fatalf("expected status %q, got %q", StatusExecuted, resp.Status)
	}
	if resp.IdempotentReplay {
		t.Fatal("retry after an error must not be a replay")
	}
	if conn.listCalls != 2 {
		t.Fatalf("expected 2 connector calls, got %d", conn.listCalls)
	}
}

func TestPendingApprovalIsReplayed(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	req := labelRequest()
	req.IdempotencyKey = "label-once"
	first, err := svc.HandleToolCall(ctx, req)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}

	second, err := svc.HandleToolCall(ctx, req)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if !second.IdempotentReplay {
		t.Fatal("expected a replay")
	}
	if second.Status != StatusPendingApproval {
		t.Fatalf("expected status %q, got %q", StatusPendingApproval, second.Status)
	}
	if second.ApprovalID == nil || *second.ApprovalID != *first.ApprovalID {
		t.Fatalf("expected the original approval id %d, got %v", *first.ApprovalID, second.ApprovalID)
	}
}

func TestDecideBulk(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		req := labelRequest()
		req.Params = map[string]any{"issue_number": float64(i + 1), "labels": []any{"bug"}}
		resp, err := svc.HandleToolCall(ctx, req)
		if err != nil {
			t.Fatalf("handle %d: %v", i, err)
		}
		ids = append(ids, *resp.ApprovalID)
	}

	// One id is unknown. Its failure must not abort the rest.
	ids = append(ids, 9999)

	results := svc.DecideBulk(ctx, BulkDecisionRequest{
		IDs:      ids,
		Decision: "approve",
		Approver: "alice",
	})
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	for i := 0; i < 3; i++ {
		if results[i].Status != StatusExecuted {
			t.Fatalf("expected item %d status %q, got %q", i, StatusExecuted, results[i].Status)
		}
	}
	if results[3].Status != StatusNotFound {
		t.Fatalf("expected item 3 status %q, got %q", StatusNotFound, results[3].Status)
	}
}

func TestDecideBulkRejectsUnknownDecision(t *testing.T) {
	svc, _ := newTestService(t, nil)

	results := svc.DecideBulk(context.Background(), BulkDecisionRequest{
		IDs:      []int64{1},
		Decision: "maybe",
		Approver: "alice",
	})
	if len(results) != 1 || results[0].Status != StatusError {
		t.Fatalf("expected a single error result, got %+v", results)
	}
}

func TestExportAuditIsLineDelimited(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		req := listRequest("")
		req.Params = map[string]any{"state": fmt.Sprintf("state-%d", i)}
		if _, err := svc.HandleToolCall(ctx, req); err != nil {
			t.Fatalf("handle %d: %v", i, err)
		}
	}

	var buf bytes.Buffer
	if err := svc.ExportAudit(ctx, &buf); err != nil {
		t.Fatalf("export: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	for _, line := range lines {
		if !strings.HasPrefix(line, "{") || !strings.HasSuffix(line, "}") {
			t.Fatalf("expected standalone JSON objects, got %q", line)
		}
	}
}

func TestRequestHashIgnoresIdempotencyKey(t *testing.T) {
	a := listRequest("key-one")
	b := listRequest("key-two")

	hashA, err := RequestHash(a)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	hashB, err := RequestHash(b)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hashA != hashB {
		t.Fatal("hash must not depend on the idempotency key")
	}

	c := listRequest("key-one")
	c.Params = map[string]any{"state": "closed"}
	hashC, err := RequestHash(c)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hashA == hashC {
		t.Fatal("hash must change when params change")
	}
}

func TestApprovedExecutionFailureIsTerminal(t *testing.T) {
	svc, conn := newTestService(t, nil)
	ctx := context.Background()

	resp, err := svc.HandleToolCall(ctx, labelRequest())
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	conn.failures = 1
	outcome, err := svc.Approve(ctx, *resp.ApprovalID, "alice", "")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if outcome.Status != StatusError {
		t.Fatalf("expected status %q, got %q", StatusError, outcome.Status)
	}

	// The approval is now failed, not approved, so it cannot run again.
	second, err := svc.Approve(ctx, *resp.ApprovalID, "alice", "")
	if err != nil {
		t.Fatalf("second approve: %v", err)
	}
	if second.Status != StatusInvalidState {
		t.Fatalf("expected status %q, got %q", StatusInvalidState, second.Status)
	}
}
