package service

import (
	"time"
)

// Statuses a tool call can resolve to. Replays reproduce whichever of
// these the first call produced.
const (
	StatusDenied          = "denied"
	StatusPendingApproval = "pending_approval"
	StatusExecuted        = "executed"
	StatusError           = "error"
)

// Statuses specific to approval decisions.
const (
	StatusNotFound      = "not_found"
	StatusInvalidState  = "invalid_state"
	StatusForbidden     = "forbidden"
	StatusDeniedByHuman = "denied_by_human"
)

// Audit-only statuses that never surface as a call status.
const (
	auditStatusApproved         = "approved"
	auditStatusIdempotentReplay = "idempotent_replay"
)

// ToolCallRequest is the value object describing one tool invocation.
// It is hashed deterministically (idempotency key excluded) for dedup.
type ToolCallRequest struct {
	AgentID        string         `json:"agent_id"`
	Tool           string         `json:"tool"`
	Action         string         `json:"action"`
	Resource       string         `json:"resource"`
	Params         map[string]any `json:"params"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// ToolCallResponse is the outcome returned to the caller.
type ToolCallResponse struct {
	Status           string         `json:"status"`
	Message          string         `json:"message"`
	Result           map[string]any `json:"result"`
	ApprovalID       *int64         `json:"approval_id"`
	IdempotentReplay bool           `json:"idempotent_replay"`
}

// DecisionOutcome is the result of one approve/deny operation.
type DecisionOutcome struct {
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	Result  map[string]any `json:"result,omitempty"`
}

// BulkDecisionRequest applies one decision to a list of approvals.
type BulkDecisionRequest struct {
	IDs      []int64 `json:"ids"`
	Decision string  `json:"decision"` // approve or deny
	Approver string  `json:"approver"`
	Reason   string  `json:"reason"`
}

// BulkItemResult is the per-id outcome of a bulk decision.
type BulkItemResult struct {
	ID      int64          `json:"id"`
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	Result  map[string]any `json:"result,omitempty"`
}

// ApprovalView is the externally visible shape of an approval record.
type ApprovalView struct {
	ID             int64          `json:"id"`
	Status         string         `json:"status"`
	Tool           string         `json:"tool"`
	Action         string         `json:"action"`
	Resource       string         `json:"resource"`
	RiskLevel      string         `json:"risk_level"`
	RequestPayload map[string]any `json:"request_payload"`
	Reason         string         `json:"reason"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// AuditView is the externally visible shape of an audit entry. Export
// renders one of these per line as standalone JSON.
type AuditView struct {
	ID              int64          `json:"id"`
	Timestamp       string         `json:"timestamp"`
	AgentID         string         `json:"agent_id"`
	Tool            string         `json:"tool"`
	Action          string         `json:"action"`
	Resource        string         `json:"resource"`
	RiskLevel       string         `json:"risk_level"`
	SchemaVersion   int            `json:"schema_version"`
	Status          string         `json:"status"`
	RequestPayload  map[string]any `json:"request_payload"`
	ResponsePayload map[string]any `json:"response_payload"`
	ApprovalID      *int64         `json:"approval_id"`
	Message         string         `json:"message"`
}
