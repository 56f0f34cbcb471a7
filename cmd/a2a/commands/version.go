package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/agent2allow/gateway/internal/version"
)

// NewVersionCmd creates the version command
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of Agent2Allow",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("a2a %s %s/%s\n", version.Version, runtime.GOOS, runtime.GOARCH)
		},
	}
}
