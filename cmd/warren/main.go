package main

import (
	"fmt"
	"os"

	"github.com/dyluth/warren/cmd/warren/commands"
	"github.com/dyluth/warren/pkg/ticket"
)

// Version information - set during build
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)

	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps errors onto the CLI contract: 2 for bad input, 1 for
// everything else including not-found and nothing-to-claim.
func exitCode(err error) int {
	if ticket.IsValidation(err) {
		return 2
	}
	return 1
}
