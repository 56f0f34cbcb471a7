// Package service is the authorization orchestrator: it mediates every
// tool call through policy evaluation, the idempotency ledger, the
// approval state machine, and the audit trail.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/agent2allow/gateway/internal/audit"
	"github.com/agent2allow/gateway/internal/connector"
	"github.com/agent2allow/gateway/internal/policy"
	"github.com/agent2allow/gateway/internal/rbac"
	"github.com/agent2allow/gateway/internal/store"
)

// ErrIdempotencyConflict is returned when a caller reuses an
// idempotency key for a semantically different request.
var ErrIdempotencyConflict = store.ErrConflict

// Service coordinates policy, ledger, approvals, connector, and audit.
type Service struct {
	store  *store.Store
	policy *policy.Engine
	conn   connector.Connector
	rbac   *rbac.Authorizer
	sink   audit.Sink
}

// New wires the orchestrator from its collaborators.
func New(st *store.Store, engine *policy.Engine, conn connector.Connector, authorizer *rbac.Authorizer, sink audit.Sink) *Service {
	if sink == nil {
		sink = audit.NoopSink{}
	}
	return &Service{
		store:  st,
		policy: engine,
		conn:   conn,
		rbac:   authorizer,
		sink:   sink,
	}
}

// HandleToolCall runs one tool-call request through the full state
// machine. Every observable outcome, including denial and failure, is
// audited before it is returned. The returned error is reserved for
// infrastructure problems (storage, configuration) and idempotency
// conflicts; business outcomes arrive as response statuses.
func (s *Service) HandleToolCall(ctx context.Context, req ToolCallRequest) (ToolCallResponse, error) {
	if strings.TrimSpace(req.AgentID) == "" {
		return ToolCallResponse{}, fmt.Errorf("agent_id is required")
	}

	hash, err := RequestHash(req)
	if err != nil {
		return ToolCallResponse{}, err
	}
	requestJSON := mustJSON(req)

	if req.IdempotencyKey != "" {
		rec, found, err := s.store.GetIdempotency(ctx, req.IdempotencyKey)
		if err != nil {
			return ToolCallResponse{}, err
		}
		if found {
			if rec.RequestHash != hash {
				return ToolCallResponse{}, fmt.Errorf("idempotency key %q: %w", req.IdempotencyKey, ErrIdempotencyConflict)
			}
			var cached ToolCallResponse
			if err := json.Unmarshal([]byte(rec.ResponseJSON), &cached); err != nil {
				return ToolCallResponse{}, fmt.Errorf("decode cached response: %w", err)
			}
			cached.IdempotentReplay = true
			if err := s.audit(ctx, store.AuditEntry{
				AgentID:      req.AgentID,
				Tool:         req.Tool,
				Action:       req.Action,
				Resource:     req.Resource,
				RiskLevel:    "",
				Status:       auditStatusIdempotentReplay,
				RequestJSON:  requestJSON,
				ResponseJSON: rec.ResponseJSON,
				ApprovalID:   cached.ApprovalID,
				Message:      "replayed cached response",
			}); err != nil {
				return ToolCallResponse{}, err
			}
			return cached, nil
		}
	}

	decision, err := s.policy.Decide(req.Tool, req.Action, req.Resource)
	if err != nil {
		return ToolCallResponse{}, err
	}

	if !decision.Allowed {
		resp := ToolCallResponse{Status: StatusDenied, Message: decision.Message}
		if err := s.audit(ctx, store.AuditEntry{
			AgentID:     req.AgentID,
			Tool:        req.Tool,
			Action:      req.Action,
			Resource:    req.Resource,
			RiskLevel:   string(decision.Risk),
			Status:      StatusDenied,
			RequestJSON: requestJSON,
			Message:     decision.Message,
		}); err != nil {
			return ToolCallResponse{}, err
		}
		if err := s.cacheResponse(ctx, req, hash, resp); err != nil {
			return ToolCallResponse{}, err
		}
		return resp, nil
	}

	if decision.ApprovalRequired {
		approvalID, err := s.store.CreateApproval(ctx, store.Approval{
			Tool:        req.Tool,
			Action:      req.Action,
			Resource:    req.Resource,
			RiskLevel:   string(decision.Risk),
			RequestJSON: requestJSON,
		})
		if err != nil {
			return ToolCallResponse{}, err
		}
		resp := ToolCallResponse{Status: StatusPendingApproval, Message: "approval required", ApprovalID: &approvalID}
		if err := s.audit(ctx, store.AuditEntry{
			AgentID:     req.AgentID,
			Tool:        req.Tool,
			Action:      req.Action,
			Resource:    req.Resource,
			RiskLevel:   string(decision.Risk),
			Status:      StatusPendingApproval,
			RequestJSON: requestJSON,
			ApprovalID:  &approvalID,
			Message:     "approval required",
		}); err != nil {
			return ToolCallResponse{}, err
		}
		if err := s.cacheResponse(ctx, req, hash, resp); err != nil {
			return ToolCallResponse{}, err
		}
		return resp, nil
	}

	result, execErr := s.execute(ctx, req)
	if execErr != nil {
		resp := ToolCallResponse{Status: StatusError, Message: execErr.Error()}
		if err := s.audit(ctx, store.AuditEntry{
			AgentID:     req.AgentID,
			Tool:        req.Tool,
			Action:      req.Action,
			Resource:    req.Resource,
			RiskLevel:   string(decision.Risk),
			Status:      StatusError,
			RequestJSON: requestJSON,
			Message:     execErr.Error(),
		}); err != nil {
			return ToolCallResponse{}, err
		}
		// Deliberately not written to the ledger: a retried call with
		// the same key gets a fresh attempt after a transient failure.
		return resp, nil
	}

	resp := ToolCallResponse{Status: StatusExecuted, Message: "executed", Result: result}
	if err := s.audit(ctx, store.AuditEntry{
		AgentID:      req.AgentID,
		Tool:         req.Tool,
		Action:       req.Action,
		Resource:     req.Resource,
		RiskLevel:    string(decision.Risk),
		Status:       StatusExecuted,
		RequestJSON:  requestJSON,
		ResponseJSON: mustJSON(result),
		Message:      "executed",
	}); err != nil {
		return ToolCallResponse{}, err
	}
	if err := s.cacheResponse(ctx, req, hash, resp); err != nil {
		return ToolCallResponse{}, err
	}
	return resp, nil
}

// Approve decides a pending approval and, when the transition succeeds,
// executes the original request. Execution failures are terminal: the
// approval moves to failed and a new tool call is required.
func (s *Service) Approve(ctx context.Context, id int64, approver, reason string) (DecisionOutcome, error) {
	a, err := s.store.GetApproval(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return DecisionOutcome{Status: StatusNotFound}, nil
	}
	if err != nil {
		return DecisionOutcome{}, err
	}

	if s.rbac != nil {
		if allowed, why := s.rbac.Authorize(rbac.DecisionApprove, approver, policy.RiskLevel(a.RiskLevel)); !allowed {
			return DecisionOutcome{Status: StatusForbidden, Message: why}, nil
		}
	}

	a, err = s.store.TransitionApproval(ctx, id, store.ApprovalPending, store.ApprovalApproved, reason)
	if errors.Is(err, store.ErrInvalidState) {
		return DecisionOutcome{Status: StatusInvalidState}, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return DecisionOutcome{Status: StatusNotFound}, nil
	}
	if err != nil {
		return DecisionOutcome{}, err
	}

	message := reason
	if message == "" {
		message = "approved"
	}
	if err := s.audit(ctx, store.AuditEntry{
		AgentID:     approver,
		Tool:        a.Tool,
		Action:      a.Action,
		Resource:    a.Resource,
		RiskLevel:   a.RiskLevel,
		Status:      auditStatusApproved,
		RequestJSON: a.RequestJSON,
		ApprovalID:  &a.ID,
		Message:     message,
	}); err != nil {
		return DecisionOutcome{}, err
	}

	var req ToolCallRequest
	if err := json.Unmarshal([]byte(a.RequestJSON), &req); err != nil {
		return DecisionOutcome{}, fmt.Errorf("decode approved request: %w", err)
	}

	result, execErr := s.execute(ctx, req)
	if execErr != nil {
		errPayload := map[string]any{"error": execErr.Error()}
		if err := s.store.CompleteApproval(ctx, a.ID, store.ApprovalFailed, mustJSON(errPayload)); err != nil {
			return DecisionOutcome{}, err
		}
		if err := s.audit(ctx, store.AuditEntry{
			AgentID:     req.AgentID,
			Tool:        a.Tool,
			Action:      a.Action,
			Resource:    a.Resource,
			RiskLevel:   a.RiskLevel,
			Status:      StatusError,
			RequestJSON: a.RequestJSON,
			ApprovalID:  &a.ID,
			Message:     execErr.Error(),
		}); err != nil {
			return DecisionOutcome{}, err
		}
		return DecisionOutcome{Status: StatusError, Message: execErr.Error(), Result: errPayload}, nil
	}

	if err := s.store.CompleteApproval(ctx, a.ID, store.ApprovalExecuted, mustJSON(result)); err != nil {
		return DecisionOutcome{}, err
	}
	if err := s.audit(ctx, store.AuditEntry{
		AgentID:      req.AgentID,
		Tool:         a.Tool,
		Action:       a.Action,
		Resource:     a.Resource,
		RiskLevel:    a.RiskLevel,
		Status:       StatusExecuted,
		RequestJSON:  a.RequestJSON,
		ResponseJSON: mustJSON(result),
		ApprovalID:   &a.ID,
		Message:      "executed after approval",
	}); err != nil {
		return DecisionOutcome{}, err
	}
	return DecisionOutcome{Status: StatusExecuted, Result: result}, nil
}

// Deny decides a pending approval without executing anything.
func (s *Service) Deny(ctx context.Context, id int64, approver, reason string) (DecisionOutcome, error) {
	a, err := s.store.GetApproval(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return DecisionOutcome{Status: StatusNotFound}, nil
	}
	if err != nil {
		return DecisionOutcome{}, err
	}

	if s.rbac != nil {
		if allowed, why := s.rbac.Authorize(rbac.DecisionDeny, approver, policy.RiskLevel(a.RiskLevel)); !allowed {
			return DecisionOutcome{Status: StatusForbidden, Message: why}, nil
		}
	}

	a, err = s.store.TransitionApproval(ctx, id, store.ApprovalPending, store.ApprovalDeniedByHuman, reason)
	if errors.Is(err, store.ErrInvalidState) {
		return DecisionOutcome{Status: StatusInvalidState}, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return DecisionOutcome{Status: StatusNotFound}, nil
	}
	if err != nil {
		return DecisionOutcome{}, err
	}

	message := reason
	if message == "" {
		message = "denied"
	}
	if err := s.audit(ctx, store.AuditEntry{
		AgentID:     approver,
		Tool:        a.Tool,
		Action:      a.Action,
		Resource:    a.Resource,
		RiskLevel:   a.RiskLevel,
		Status:      StatusDeniedByHuman,
		RequestJSON: a.RequestJSON,
		ApprovalID:  &a.ID,
		Message:     message,
	}); err != nil {
		return DecisionOutcome{}, err
	}
	return DecisionOutcome{Status: StatusDeniedByHuman}, nil
}

// DecideBulk applies one decision to each listed approval
// independently. A failure on one id never aborts its siblings.
func (s *Service) DecideBulk(ctx context.Context, req BulkDecisionRequest) []BulkItemResult {
	results := make([]BulkItemResult, 0, len(req.IDs))
	for _, id := range req.IDs {
		var outcome DecisionOutcome
		var err error
		switch req.Decision {
		case string(rbac.DecisionApprove):
			outcome, err = s.Approve(ctx, id, req.Approver, req.Reason)
		case string(rbac.DecisionDeny):
			outcome, err = s.Deny(ctx, id, req.Approver, req.Reason)
		default:
			outcome = DecisionOutcome{Status: StatusError, Message: fmt.Sprintf("unsupported decision: %s", req.Decision)}
		}
		if err != nil {
			outcome = DecisionOutcome{Status: StatusError, Message: err.Error()}
		}
		results = append(results, BulkItemResult{
			ID:      id,
			Status:  outcome.Status,
			Message: outcome.Message,
			Result:  outcome.Result,
		})
	}
	return results
}

// ListPendingApprovals returns all pending approvals, oldest first.
func (s *Service) ListPendingApprovals(ctx context.Context) ([]ApprovalView, error) {
	approvals, err := s.store.ListApprovalsByStatus(ctx, store.ApprovalPending)
	if err != nil {
		return nil, err
	}
	views := make([]ApprovalView, 0, len(approvals))
	for _, a := range approvals {
		views = append(views, approvalView(a))
	}
	return views, nil
}

// ListAudit returns the audit trail, newest first.
func (s *Service) ListAudit(ctx context.Context) ([]AuditView, error) {
	entries, err := s.store.ListAudit(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]AuditView, 0, len(entries))
	for _, e := range entries {
		views = append(views, auditView(e))
	}
	return views, nil
}

// ExportAudit writes the audit trail as line-delimited JSON. Every line
// is independently parseable to support streaming ingestion.
func (s *Service) ExportAudit(ctx context.Context, w io.Writer) error {
	entries, err := s.store.ListAudit(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(auditView(e)); err != nil {
			return fmt.Errorf("export audit entry %d: %w", e.ID, err)
		}
	}
	return nil
}

// audit appends the entry to the primary trail (the durability
// boundary) and then fans it out to the external sink best-effort.
func (s *Service) audit(ctx context.Context, e store.AuditEntry) error {
	id, err := s.store.AppendAudit(ctx, e)
	if err != nil {
		return err
	}
	e.ID = id
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.SchemaVersion == 0 {
		e.SchemaVersion = store.AuditSchemaVersion
	}
	audit.SafeEmit(s.sink, sinkEvent(e))
	return nil
}

func (s *Service) cacheResponse(ctx context.Context, req ToolCallRequest, hash string, resp ToolCallResponse) error {
	if req.IdempotencyKey == "" {
		return nil
	}
	err := s.store.PutIdempotencyOnce(ctx, store.IdempotencyRecord{
		Key:          req.IdempotencyKey,
		RequestHash:  hash,
		ResponseJSON: mustJSON(resp),
	})
	if errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("idempotency key %q: %w", req.IdempotencyKey, ErrIdempotencyConflict)
	}
	return err
}

// execute dispatches the request to the connector. The connector
// handles transient retries internally; whatever error reaches here is
// a hard failure.
func (s *Service) execute(ctx context.Context, req ToolCallRequest) (map[string]any, error) {
	if req.Tool != "github" {
		return nil, fmt.Errorf("unsupported tool: %s", req.Tool)
	}

	switch req.Action {
	case "issues.list":
		state, _ := req.Params["state"].(string)
		result, err := s.conn.ListIssues(ctx, req.Resource, state)
		return result, err

	case "issues.set_labels":
		issueNumber, err := intParam(req.Params, "issue_number")
		if err != nil {
			return nil, err
		}
		labels, err := stringSliceParam(req.Params, "labels")
		if err != nil {
			return nil, err
		}
		result, err := s.conn.SetLabels(ctx, req.Resource, issueNumber, labels)
		return result, err

	case "issues.create_comment":
		issueNumber, err := intParam(req.Params, "issue_number")
		if err != nil {
			return nil, err
		}
		body, _ := req.Params["body"].(string)
		if body == "" {
			return nil, fmt.Errorf("body parameter is required")
		}
		result, err := s.conn.CreateComment(ctx, req.Resource, issueNumber, body)
		return result, err

	default:
		return nil, fmt.Errorf("unsupported action: %s", req.Action)
	}
}

func intParam(params map[string]any, name string) (int, error) {
	switch v := params[name].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("%s parameter must be an integer", name)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("%s parameter is required", name)
	}
}

func stringSliceParam(params map[string]any, name string) ([]string, error) {
	raw, ok := params[name]
	if !ok {
		return nil, fmt.Errorf("%s parameter is required", name)
	}
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s entries must be strings", name)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s parameter must be a list of strings", name)
	}
}

func approvalView(a store.Approval) ApprovalView {
	return ApprovalView{
		ID:             a.ID,
		Status:         string(a.Status),
		Tool:           a.Tool,
		Action:         a.Action,
		Resource:       a.Resource,
		RiskLevel:      a.RiskLevel,
		RequestPayload: decodeObject(a.RequestJSON),
		Reason:         a.Reason,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func auditView(e store.AuditEntry) AuditView {
	return AuditView{
		ID:              e.ID,
		Timestamp:       e.Timestamp.UTC().Format(time.RFC3339Nano),
		AgentID:         e.AgentID,
		Tool:            e.Tool,
		Action:          e.Action,
		Resource:        e.Resource,
		RiskLevel:       e.RiskLevel,
		SchemaVersion:   e.SchemaVersion,
		Status:          e.Status,
		RequestPayload:  decodeObject(e.RequestJSON),
		ResponsePayload: decodeObject(e.ResponseJSON),
		ApprovalID:      e.ApprovalID,
		Message:         e.Message,
	}
}

func sinkEvent(e store.AuditEntry) audit.Event {
	event := audit.Event{
		"id":               e.ID,
		"timestamp":        e.Timestamp.UTC().Format(time.RFC3339Nano),
		"agent_id":         e.AgentID,
		"tool":             e.Tool,
		"action":           e.Action,
		"resource":         e.Resource,
		"risk_level":       e.RiskLevel,
		"schema_version":   e.SchemaVersion,
		"status":           e.Status,
		"request_payload":  decodeObject(e.RequestJSON),
		"response_payload": decodeObject(e.ResponseJSON),
		"message":          e.Message,
	}
	if e.ApprovalID != nil {
		event["approval_id"] = *e.ApprovalID
	}
	return event
}

func decodeObject(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]any{}
	}
	return out
}

func mustJSON(v any) string {
	encoded, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(encoded)
}
