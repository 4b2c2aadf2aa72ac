package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dyluth/warren/internal/printer"
	"github.com/dyluth/warren/pkg/ticket"
)

var readyCmd = &cobra.Command{
	Use:   "ready <id>",
	Short: "Mark a ticket ready, releasing it",
	Long: `Mark a ticket ready: the work is believed finished but dependents
stay blocked until someone runs complete. The assignee is cleared so the
worker can move on.`,
	Args: exactArgs(1),
	RunE: runReady,
}

var completeCmd = &cobra.Command{
	Use:   "complete <id>",
	Short: "Mark a ticket done, unblocking dependents",
	Long: `Mark a ticket done. This is the only transition that satisfies
blocking edges: tickets waiting on this one become claimable once their
remaining blockers are also done.`,
	Args: exactArgs(1),
	RunE: runComplete,
}

var unclaimCmd = &cobra.Command{
	Use:   "unclaim <id>",
	Short: "Release a ticket back to the open pool",
	Args:  exactArgs(1),
	RunE:  runUnclaim,
}

func init() {
	rootCmd.AddCommand(readyCmd)
	rootCmd.AddCommand(completeCmd)
	rootCmd.AddCommand(unclaimCmd)
}

func runReady(cmd *cobra.Command, args []string) error {
	return ticketAction(args[0], func(ctx context.Context, store *ticket.Store, id int64) error {
		if err := store.MarkReady(ctx, id); err != nil {
			return err
		}
		printer.Success("Ticket #%d is ready\n", id)
		return nil
	})
}

func runComplete(cmd *cobra.Command, args []string) error {
	return ticketAction(args[0], func(ctx context.Context, store *ticket.Store, id int64) error {
		if err := store.Complete(ctx, id); err != nil {
			return err
		}
		printer.Success("Ticket #%d is done\n", id)
		return nil
	})
}

func runUnclaim(cmd *cobra.Command, args []string) error {
	return ticketAction(args[0], func(ctx context.Context, store *ticket.Store, id int64) error {
		if err := store.Unclaim(ctx, id); err != nil {
			return err
		}
		printer.Success("Ticket #%d released\n", id)
		return nil
	})
}

// ticketAction parses a ticket id argument and runs fn against the store.
func ticketAction(arg string, fn func(ctx context.Context, store *ticket.Store, id int64) error) error {
	id, err := parseTicketID(arg)
	if err != nil {
		return err
	}
	return withStore(func(ctx context.Context, store *ticket.Store) error {
		return fn(ctx, store, id)
	})
}
