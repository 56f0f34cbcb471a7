// Package rbac gates who may approve or deny pending approvals. It is a
// flat static mapping of approvers to roles, not a hierarchy.
package rbac

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agent2allow/gateway/internal/policy"
)

// Decision is the approval decision being authorized.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionDeny    Decision = "deny"
)

// Config carries the raw RBAC settings as they appear in configuration.
type Config struct {
	Enabled              bool   `mapstructure:"enabled"`
	RoleBindings         string `mapstructure:"role_bindings"`           // JSON object approver -> role
	ApproveRoles         string `mapstructure:"approve_roles"`           // CSV
	DenyRoles            string `mapstructure:"deny_roles"`              // CSV
	HighRiskApproveRoles string `mapstructure:"high_risk_approve_roles"` // CSV
}

// Authorizer resolves approvers to roles and checks role membership.
type Authorizer struct {
	enabled      bool
	bindings     map[string]string
	approveRoles map[string]struct{}
	denyRoles    map[string]struct{}
	// High-risk approvals use a separate, normally smaller role set.
	highRiskApproveRoles map[string]struct{}
}

// New parses the raw settings. Malformed bindings are a configuration
// error, fatal at startup.
func New(cfg Config) (*Authorizer, error) {
	bindings, err := parseBindings(cfg.RoleBindings)
	if err != nil {
		return nil, err
	}
	return &Authorizer{
		enabled:              cfg.Enabled,
		bindings:             bindings,
		approveRoles:         parseRoles(cfg.ApproveRoles),
		denyRoles:            parseRoles(cfg.DenyRoles),
		highRiskApproveRoles: parseRoles(cfg.HighRiskApproveRoles),
	}, nil
}

// Authorize reports whether the approver may take the decision on an
// approval of the given risk level. A denied decision carries a reason.
func (a *Authorizer) Authorize(decision Decision, approver string, risk policy.RiskLevel) (bool, string) {
	if !a.enabled {
		return true, ""
	}

	role := a.bindings[approver]
	if role == "" {
		return false, "approver has no mapped role"
	}

	var allowed map[string]struct{}
	switch decision {
	case DecisionApprove:
		allowed = a.approveRoles
		if risk == policy.RiskHigh {
			allowed = a.highRiskApproveRoles
		}
	case DecisionDeny:
		allowed = a.denyRoles
	default:
		return false, "unsupported decision"
	}

	if _, ok := allowed[role]; !ok {
		return false, fmt.Sprintf("role %q is not allowed to %s %s-risk approvals", role, decision, risk)
	}
	return true, ""
}

func parseRoles(csv string) map[string]struct{} {
	roles := make(map[string]struct{})
	for _, item := range strings.Split(csv, ",") {
		role := strings.TrimSpace(item)
		if role == "" {
			continue
		}
		roles[role] = struct{}{}
	}
	return roles
}

func parseBindings(raw string) (map[string]string, error) {
	bindings := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return bindings, nil
	}
	if err := json.Unmarshal([]byte(raw), &bindings); err != nil {
		return nil, fmt.Errorf("role_bindings must be a JSON object of approver to role: %w", err)
	}
	for approver, role := range bindings {
		if approver == "" || role == "" {
			return nil, fmt.Errorf("role_bindings entries must be non-empty strings")
		}
	}
	return bindings, nil
}
