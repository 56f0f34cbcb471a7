package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/agent2allow/gateway/internal/policy"
)

func NewPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Validate and inspect policy documents",
	}

	cmd.AddCommand(
		newPolicyValidateCmd(),
		newPolicyDiffCmd(),
		newPolicyInitCmd(),
	)

	return cmd
}

func newPolicyValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a policy document for structural problems",
		Args:  cobra.ExactArgs(1),
		RunE:  runPolicyValidate,
	}
}

func newPolicyDiffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff <old> <new>",
		Short: "Show the effective rule changes between two documents",
		Args:  cobra.ExactArgs(2),
		RunE:  runPolicyDiff,
	}
}

func newPolicyInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init <file>",
		Short: "Write a starter policy document from a template",
		Args:  cobra.ExactArgs(1),
		RunE:  runPolicyInit,
	}
	cmd.Flags().String("template", "triage-standard", "Template name: "+strings.Join(policy.TemplateNames(), ", "))
	cmd.Flags().String("resource", "acme/*", "Repository pattern the rules apply to")
	return cmd
}

func runPolicyValidate(cmd *cobra.Command, args []string) error {
	path := args[0]
	doc, err := policy.ParseDocument(path)
	if err != nil {
		return err
	}

	problems := policy.Validate(doc)
	if len(problems) == 0 {
		color.Green("%s: ok (%d rules)", path, len(doc.Rules))
		return nil
	}

	color.Red("%s: %d problem(s)", path, len(problems))
	for _, problem := range problems {
		fmt.Printf("  - %s\n", problem)
	}
	return fmt.Errorf("policy document is invalid")
}

func runPolicyDiff(cmd *cobra.Command, args []string) error {
	oldDoc, err := policy.LoadDocument(args[0])
	if err != nil {
		return err
	}
	newDoc, err := policy.LoadDocument(args[1])
	if err != nil {
		return err
	}

	result := policy.Diff(oldDoc, newDoc)
	if !result.Changed {
		fmt.Println("No effective changes.")
		return nil
	}

	if result.VersionChanged {
		fmt.Printf("version: %d -> %d\n", result.OldVersion, result.NewVersion)
	}
	if result.DenyByDefaultChanged {
		fmt.Printf("deny_by_default: %t -> %t\n", result.OldDenyByDefault, result.NewDenyByDefault)
	}
	for _, rule := range result.AddedRules {
		color.Green("+ %s", formatRule(rule))
	}
	for _, rule := range result.RemovedRules {
		color.Red("- %s", formatRule(rule))
	}
	return nil
}

func runPolicyInit(cmd *cobra.Command, args []string) error {
	path := args[0]
	template, _ := cmd.Flags().GetString("template")
	resource, _ := cmd.Flags().GetString("resource")

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	rendered, err := policy.RenderTemplate(template, resource)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(rendered), 0644); err != nil {
		return fmt.Errorf("write policy document: %w", err)
	}

	color.Green("Wrote %s (template %s).", path, template)
	return nil
}

func formatRule(rule policy.Rule) string {
	verdict := "deny"
	if rule.Allow {
		verdict = "allow"
	}
	return fmt.Sprintf("%s %s on %s [%s] %s", rule.Tool, strings.Join(rule.Actions, ","), rule.Resource, rule.Risk, verdict)
}
