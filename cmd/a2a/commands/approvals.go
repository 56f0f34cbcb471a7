package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	apiKey    string
)

func NewApprovalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "List and decide pending approvals on a running gateway",
	}

	cmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:8080", "Gateway base URL")
	cmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Approval API key")

	cmd.AddCommand(
		newApprovalsListCmd(),
		newApprovalsApproveCmd(),
		newApprovalsDenyCmd(),
	)

	return cmd
}

func newApprovalsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending approvals",
		RunE:  runApprovalsList,
	}
}

func newApprovalsApproveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a pending approval and execute the call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApprovalsDecision(cmd, args[0], "approve")
		},
	}
	cmd.Flags().String("by", "", "Approver identity")
	cmd.Flags().String("reason", "", "Decision reason")
	return cmd
}

func newApprovalsDenyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deny <id>",
		Short: "Deny a pending approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApprovalsDecision(cmd, args[0], "deny")
		},
	}
	cmd.Flags().String("by", "", "Approver identity")
	cmd.Flags().String("reason", "", "Decision reason")
	return cmd
}

func runApprovalsList(cmd *cobra.Command, args []string) error {
	var payload struct {
		Approvals []struct {
			ID        int64  `json:"id"`
			Tool      string `json:"tool"`
			Action    string `json:"action"`
			Resource  string `json:"resource"`
			RiskLevel string `json:"risk_level"`
		} `json:"approvals"`
	}
	if err := gatewayRequest(http.MethodGet, "/v1/approvals/pending", nil, &payload); err != nil {
		return err
	}

	if len(payload.Approvals) == 0 {
		fmt.Println("No pending approvals.")
		return nil
	}
	for _, a := range payload.Approvals {
		fmt.Printf("%d\t%s %s on %s [%s]\n", a.ID, a.Tool, a.Action, a.Resource, a.RiskLevel)
	}
	return nil
}

func runApprovalsDecision(cmd *cobra.Command, id, decision string) error {
	by, _ := cmd.Flags().GetString("by")
	reason, _ := cmd.Flags().GetString("reason")

	body := map[string]string{
		"approver": strings.TrimSpace(by),
		"reason":   strings.TrimSpace(reason),
	}

	var outcome struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	path := fmt.Sprintf("/v1/approvals/%s/%s", id, decision)
	if err := gatewayRequest(http.MethodPost, path, body, &outcome); err != nil {
		return err
	}

	if outcome.Message != "" {
		fmt.Printf("Approval %s: %s (%s)\n", id, outcome.Status, outcome.Message)
	} else {
		fmt.Printf("Approval %s: %s\n", id, outcome.Status)
	}
	return nil
}

// gatewayRequest performs one JSON call against the gateway named by
// the --server flag. Error responses surface the gateway's message.
func gatewayRequest(method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, strings.TrimRight(serverURL, "/")+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read gateway response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var failure struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &failure) == nil && failure.Message != "" {
			return fmt.Errorf("gateway responded %d: %s", resp.StatusCode, failure.Message)
		}
		return fmt.Errorf("gateway responded %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode gateway response: %w", err)
		}
	}
	return nil
}
