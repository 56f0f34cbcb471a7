package rbac

import (
	"testing"

	"github.com/agent2allow/gateway/internal/policy"
)

func newTestAuthorizer(t *testing.T) *Authorizer {
	t.Helper()
	a, err := New(Config{
		Enabled:              true,
		RoleBindings:         `{"alice":"lead","bob":"reviewer","carol":"security"}`,
		ApproveRoles:         "lead, reviewer",
		DenyRoles:            "lead, reviewer, security",
		HighRiskApproveRoles: "security",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestAuthorize_DisabledAlwaysAllows(t *testing.T) {
	a, err := New(Config{Enabled: false})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ok, reason := a.Authorize(DecisionApprove, "anyone", policy.RiskHigh)
	if !ok || reason != "" {
		t.Fatalf("expected allow, got ok=%v reason=%q", ok, reason)
	}
}

func TestAuthorize_UnmappedApproverIsDenied(t *testing.T) {
	a := newTestAuthorizer(t)

	ok, reason := a.Authorize(DecisionApprove, "mallory", policy.RiskLow)
	if ok || reason != "approver has no mapped role" {
		t.Fatalf("expected unmapped denial, got ok=%v reason=%q", ok, reason)
	}
}

func TestAuthorize_ApproveRoleAllowsOrdinaryRisk(t *testing.T) {
	a := newTestAuthorizer(t)

	ok, _ := a.Authorize(DecisionApprove, "bob", policy.RiskMedium)
	if !ok {
		t.Fatal("expected reviewer to approve medium risk")
	}
}

func TestAuthorize_HighRiskNeedsTheHighRiskRoleSet(t *testing.T) {
	a := newTestAuthorizer(t)

	// bob is in the general approve set but not the high-risk one.
	if ok, _ := a.Authorize(DecisionApprove, "bob", policy.RiskHigh); ok {
		t.Fatal("expected reviewer to be refused for high risk")
	}
	if ok, _ := a.Authorize(DecisionApprove, "carol", policy.RiskHigh); !ok {
		t.Fatal("expected security to approve high risk")
	}
}

func TestAuthorize_HighRiskSetDoesNotGrantOrdinaryApprovals(t *testing.T) {
	a := newTestAuthorizer(t)

	if ok, _ := a.Authorize(DecisionApprove, "carol", policy.RiskMedium); ok {
		t.Fatal("expected security to be refused for medium risk approvals")
	}
}

func TestAuthorize_DenyUsesItsOwnRoleSet(t *testing.T) {
	a := newTestAuthorizer(t)

	if ok, _ := a.Authorize(DecisionDeny, "carol", policy.RiskHigh); !ok {
		t.Fatal("expected security to deny")
	}
}

func TestAuthorize_UnsupportedDecisionIsDenied(t *testing.T) {
	a := newTestAuthorizer(t)

	if ok, _ := a.Authorize(Decision("escalate"), "alice", policy.RiskLow); ok {
		t.Fatal("expected unsupported decision to be refused")
	}
}

func TestNew_MalformedBindingsIsAnError(t *testing.T) {
	if _, err := New(Config{Enabled: true, RoleBindings: "not-json"}); err == nil {
		t.Fatal("expected an error for malformed bindings")
	}
}

func TestNew_EmptyBindingValueIsAnError(t *testing.T) {
	if _, err := New(Config{Enabled: true, RoleBindings: `{"alice":""}`}); err == nil {
		t.Fatal("expected an error for empty role")
	}
}
