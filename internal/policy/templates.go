package policy

import (
	"fmt"
	"sort"
	"strings"
)

type template struct {
	readActions  []string
	writeActions []string
}

var templates = map[string]template{
	"triage-readonly": {
		readActions: []string{"issues.list"},
	},
	"triage-standard": {
		readActions:  []string{"issues.list"},
		writeActions: []string{"issues.set_labels", "issues.create_comment"},
	},
}

// TemplateNames returns the available starter template names, sorted.
func TemplateNames() []string {
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RenderTemplate renders a starter policy document scoped to one
// resource. The output is valid YAML accepted by LoadDocument.
func RenderTemplate(name, resource string) (string, error) {
	tpl, ok := templates[name]
	if !ok {
		return "", fmt.Errorf("unknown template: %s", name)
	}

	lines := []string{
		"version: 1",
		"defaults:",
		"  deny_by_default: true",
		"rules:",
		"  - tool: github",
		fmt.Sprintf("    actions: [%s]", strings.Join(tpl.readActions, ", ")),
		fmt.Sprintf("    repo: %s", resource),
		"    risk: read",
		"    allow: true",
	}

	if len(tpl.writeActions) > 0 {
		lines = append(lines,
			"  - tool: github",
			fmt.Sprintf("    actions: [%s]", strings.Join(tpl.writeActions, ", ")),
			fmt.Sprintf("    repo: %s", resource),
			"    risk: medium",
			"    allow: true",
		)
	}

	return strings.Join(lines, "\n") + "\n", nil
}
