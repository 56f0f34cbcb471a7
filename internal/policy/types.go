package policy

// RiskLevel is the coarse risk classification attached to a rule.
type RiskLevel string

const (
	RiskRead    RiskLevel = "read"
	RiskLow     RiskLevel = "low"
	RiskMedium  RiskLevel = "medium"
	RiskHigh    RiskLevel = "high"
	RiskUnknown RiskLevel = "unknown"
)

// ValidRisks lists the risk levels a rule may declare.
var ValidRisks = map[RiskLevel]struct{}{
	RiskRead:   {},
	RiskLow:    {},
	RiskMedium: {},
	RiskHigh:   {},
}

// Rule is one ordered policy rule. Rules are immutable once loaded.
type Rule struct {
	Tool             string    `yaml:"tool" json:"tool"`
	Actions          []string  `yaml:"actions" json:"actions"`
	Resource         string    `yaml:"repo" json:"repo"`
	Risk             RiskLevel `yaml:"risk" json:"risk"`
	Allow            bool      `yaml:"allow" json:"allow"`
	ApprovalRequired *bool     `yaml:"approval_required,omitempty" json:"approval_required"`
}

// Defaults holds the document-level posture.
type Defaults struct {
	DenyByDefault bool `yaml:"deny_by_default" json:"deny_by_default"`
}

// Document is a complete policy file.
type Document struct {
	Version  int      `yaml:"version" json:"version"`
	Defaults Defaults `yaml:"defaults" json:"defaults"`
	Rules    []Rule   `yaml:"rules" json:"rules"`
}

// Decision is the deterministic evaluation result. It is derived,
// never persisted on its own.
type Decision struct {
	Allowed          bool
	ApprovalRequired bool
	Risk             RiskLevel
	Message          string
}

// RequiresApproval reports whether a risk level mandates human approval
// when a rule does not set approval_required explicitly.
func RequiresApproval(risk RiskLevel) bool {
	return risk == RiskMedium || risk == RiskHigh
}
