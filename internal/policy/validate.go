package policy

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Validate checks a policy document for structural problems and unsafe
// rule combinations. It returns one message per problem found; an empty
// slice means the document is valid.
func Validate(doc *Document) []string {
	var problems []string

	if doc.Version != 1 {
		problems = append(problems, "version must be 1")
	}

	if len(doc.Rules) == 0 {
		problems = append(problems, "rules must be a non-empty list")
		return problems
	}

	for i, rule := range doc.Rules {
		prefix := fmt.Sprintf("rules[%d]", i)

		if strings.TrimSpace(rule.Tool) == "" {
			problems = append(problems, prefix+".tool must be a non-empty string")
		}

		if len(rule.Actions) == 0 {
			problems = append(problems, prefix+".actions must be a non-empty list")
		}
		for _, action := range rule.Actions {
			if strings.TrimSpace(action) == "" {
				problems = append(problems, prefix+".actions entries must be non-empty strings")
				break
			}
			if !doublestar.ValidatePattern(action) {
				problems = append(problems, fmt.Sprintf("%s.actions pattern %q is not a valid glob", prefix, action))
			}
		}

		if strings.TrimSpace(rule.Resource) == "" {
			problems = append(problems, prefix+".repo must be a non-empty string")
		} else if !doublestar.ValidatePattern(rule.Resource) {
			problems = append(problems, fmt.Sprintf("%s.repo pattern %q is not a valid glob", prefix, rule.Resource))
		}

		if _, ok := ValidRisks[rule.Risk]; !ok {
			problems = append(problems, prefix+".risk must be one of: high, low, medium, read")
		}

		// Allowing a medium/high risk action without approval must be
		// caught before load, not silently accepted.
		if RequiresApproval(rule.Risk) && rule.Allow && rule.ApprovalRequired != nil && !*rule.ApprovalRequired {
			problems = append(problems, prefix+" cannot disable approval for medium/high risk")
		}
	}

	return problems
}
