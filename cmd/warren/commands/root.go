// Package commands implements the warren CLI: the ticket store surface
// shared by humans and worker agents.
package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dyluth/warren/internal/config"
	"github.com/dyluth/warren/pkg/ticket"
)

var (
	version string
	commit  string
	date    string
)

// dbOverride is the --db persistent flag; empty means use config plus the
// WARREN_DB environment variable.
var dbOverride string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "warren",
	Short: "Warren - shared ticket store for autonomous worker swarms",
	Long: `Warren is the coordination surface for a swarm of autonomous coding
agents working one shared git repository. Tickets live in a single SQLite
database; workers claim them atomically, humans and agents comment on them,
and every mutation lands in an append-only activity log.

The same commands serve both audiences: a human triaging the queue and a
worker agent splitting off subtasks mid-ticket.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbOverride, "db", "", "Path to the ticket database (default from config / WARREN_DB)")

	// Usage mistakes are bad input and share the validation exit code.
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &ticket.ValidationError{Reason: err.Error()}
	})
	rootCmd.Args = func(_ *cobra.Command, args []string) error {
		if len(args) > 0 {
			return &ticket.ValidationError{Reason: fmt.Sprintf("unknown command %q", args[0])}
		}
		return nil
	}
}

// exactArgs is cobra.ExactArgs with the argument-count mistake reported as
// bad input rather than a runtime failure.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return &ticket.ValidationError{Reason: err.Error()}
		}
		return nil
	}
}

// databasePath resolves the ticket database location: --db flag, then
// WARREN_DB, then the configured default.
func databasePath() (string, error) {
	if dbOverride != "" {
		return dbOverride, nil
	}
	cfg, err := config.Load("")
	if err != nil {
		return "", err
	}
	return cfg.DBPath, nil
}

// withStore opens the ticket store, runs fn, and closes it.
func withStore(fn func(ctx context.Context, store *ticket.Store) error) error {
	ctx := context.Background()

	path, err := databasePath()
	if err != nil {
		return err
	}
	store, err := ticket.Open(ctx, path)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(ctx, store)
}

// actor resolves who is performing a mutation: the explicit flag, the
// AGENT_ID environment variable (set for worker subprocesses), or "human".
func actor(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if id := os.Getenv("AGENT_ID"); id != "" {
		return id
	}
	return ticket.HumanOwner
}

// parseTicketID parses a positional ticket id argument.
func parseTicketID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, &ticket.ValidationError{Field: "id", Reason: fmt.Sprintf("%q is not a ticket id", arg)}
	}
	return id, nil
}

// parseStatuses converts --status flag values into the status enum.
func parseStatuses(values []string) ([]ticket.Status, error) {
	var statuses []ticket.Status
	for _, v := range values {
		s := ticket.Status(v)
		if err := s.Validate(); err != nil {
			return nil, &ticket.ValidationError{Field: "status", Reason: err.Error()}
		}
		statuses = append(statuses, s)
	}
	return statuses, nil
}
