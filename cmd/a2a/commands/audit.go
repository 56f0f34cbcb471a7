package commands

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func NewAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit trail of a running gateway",
	}

	cmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:8080", "Gateway base URL")

	cmd.AddCommand(
		newAuditListCmd(),
		newAuditExportCmd(),
	)

	return cmd
}

func newAuditListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show recent audit entries, newest first",
		RunE:  runAuditList,
	}
}

func newAuditExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Stream the audit trail as line-delimited JSON",
		RunE:  runAuditExport,
	}
	cmd.Flags().String("out", "", "Write to a file instead of stdout")
	return cmd
}

func runAuditList(cmd *cobra.Command, args []string) error {
	var payload struct {
		Entries []struct {
			ID        int64  `json:"id"`
			Timestamp string `json:"timestamp"`
			AgentID   string `json:"agent_id"`
			Action    string `json:"action"`
			Resource  string `json:"resource"`
			Status    string `json:"status"`
			Message   string `json:"message"`
		} `json:"entries"`
	}
	if err := gatewayRequest(http.MethodGet, "/v1/audit", nil, &payload); err != nil {
		return err
	}

	if len(payload.Entries) == 0 {
		fmt.Println("No audit entries.")
		return nil
	}
	for _, e := range payload.Entries {
		fmt.Printf("%d\t%s\t%s\t%s on %s\t%s\t%s\n",
			e.ID, e.Timestamp, e.AgentID, e.Action, e.Resource, e.Status, e.Message)
	}
	return nil
}

func runAuditExport(cmd *cobra.Command, args []string) error {
	outPath, _ := cmd.Flags().GetString("out")

	req, err := http.NewRequest(http.MethodGet, strings.TrimRight(serverURL, "/")+"/v1/audit/export", nil)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("gateway responded %d", resp.StatusCode)
	}

	writer := io.Writer(os.Stdout)
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create export file: %w", err)
		}
		defer f.Close()
		writer = f
	}

	if _, err := io.Copy(writer, resp.Body); err != nil {
		return fmt.Errorf("stream export: %w", err)
	}
	if outPath != "" {
		fmt.Printf("Exported audit trail to %s.\n", outPath)
	}
	return nil
}
