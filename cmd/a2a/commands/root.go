package commands

import (
	"github.com/spf13/cobra"

	"github.com/agent2allow/gateway/internal/config"
)

var (
	configFile       string
	logLevelOverride string
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "a2a",
		Short: "Agent2Allow - authorization gateway for agent tool calls",
		Long:  `Agent2Allow sits between automated agents and the systems they act on, enforcing policy, human approvals, and a durable audit trail.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			return configureLogger(cfg, logLevelOverride)
		},
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (JSON)")
	cmd.PersistentFlags().StringVar(&logLevelOverride, "log-level", "", "Override log level (debug|info|warn|error)")

	cmd.AddCommand(
		NewServeCmd(),
		NewPolicyCmd(),
		NewApprovalsCmd(),
		NewAuditCmd(),
		NewMockGitHubCmd(),
		NewVersionCmd(),
	)

	return cmd
}
