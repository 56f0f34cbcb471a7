package policy

import (
	"encoding/json"
	"sort"
)

// DiffResult summarizes the effective differences between two policy
// documents. Rules are compared by normalized content, not position.
type DiffResult struct {
	VersionChanged       bool   `json:"version_changed"`
	OldVersion           int    `json:"old_version"`
	NewVersion           int    `json:"new_version"`
	DenyByDefaultChanged bool   `json:"deny_by_default_changed"`
	OldDenyByDefault     bool   `json:"old_deny_by_default"`
	NewDenyByDefault     bool   `json:"new_deny_by_default"`
	AddedRules           []Rule `json:"added_rules"`
	RemovedRules         []Rule `json:"removed_rules"`
	Changed              bool   `json:"changed"`
}

// Diff compares two policy documents.
func Diff(oldDoc, newDoc *Document) DiffResult {
	oldRules := ruleSet(oldDoc.Rules)
	newRules := ruleSet(newDoc.Rules)

	result := DiffResult{
		VersionChanged:       oldDoc.Version != newDoc.Version,
		OldVersion:           oldDoc.Version,
		NewVersion:           newDoc.Version,
		DenyByDefaultChanged: oldDoc.Defaults.DenyByDefault != newDoc.Defaults.DenyByDefault,
		OldDenyByDefault:     oldDoc.Defaults.DenyByDefault,
		NewDenyByDefault:     newDoc.Defaults.DenyByDefault,
		AddedRules:           []Rule{},
		RemovedRules:         []Rule{},
	}

	for _, key := range sortedKeys(newRules) {
		if _, ok := oldRules[key]; !ok {
			result.AddedRules = append(result.AddedRules, newRules[key])
		}
	}
	for _, key := range sortedKeys(oldRules) {
		if _, ok := newRules[key]; !ok {
			result.RemovedRules = append(result.RemovedRules, oldRules[key])
		}
	}

	result.Changed = result.VersionChanged ||
		result.DenyByDefaultChanged ||
		len(result.AddedRules) > 0 ||
		len(result.RemovedRules) > 0
	return result
}

func ruleSet(rules []Rule) map[string]Rule {
	set := make(map[string]Rule, len(rules))
	for _, rule := range rules {
		set[ruleKey(rule)] = normalizeRule(rule)
	}
	return set
}

func normalizeRule(rule Rule) Rule {
	actions := make([]string, len(rule.Actions))
	copy(actions, rule.Actions)
	sort.Strings(actions)
	rule.Actions = actions
	return rule
}

func ruleKey(rule Rule) string {
	encoded, err := json.Marshal(normalizeRule(rule))
	if err != nil {
		return ""
	}
	return string(encoded)
}

func sortedKeys(rules map[string]Rule) []string {
	keys := make([]string, 0, len(rules))
	for key := range rules {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
