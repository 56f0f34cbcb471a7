package main

import (
	"fmt"
	"os"

	"github.com/agent2allow/gateway/cmd/a2a/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
