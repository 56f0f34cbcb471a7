package commands

import (
	"github.com/spf13/cobra"

	"github.com/agent2allow/gateway/internal/mockgithub"
)

func NewMockGitHubCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mock-github",
		Short: "Run an in-memory GitHub stand-in for local demos",
		RunE:  runMockGitHub,
	}
	cmd.Flags().String("addr", "127.0.0.1:8081", "Listen address")
	return cmd
}

func runMockGitHub(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	return mockgithub.NewServer().ListenAndServe(addr)
}
