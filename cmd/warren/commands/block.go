package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dyluth/warren/internal/printer"
	"github.com/dyluth/warren/pkg/ticket"
)

var blockCmd = &cobra.Command{
	Use:   "block <id> <blocker-id>",
	Short: "Block a ticket on another",
	Long: `Add a blocking edge: the first ticket cannot be claimed until the
second is done. If the blocked ticket was claimed, it is released so its
worker can pick up something else. Edges that would form a dependency cycle
are rejected.`,
	Args: exactArgs(2),
	RunE: runBlock,
}

var unblockCmd = &cobra.Command{
	Use:   "unblock <id> <blocker-id>",
	Short: "Remove a blocking edge",
	Long: `Remove a blocking edge. When the last unresolved edge goes, a blocked
ticket reopens.`,
	Args: exactArgs(2),
	RunE: runUnblock,
}

func init() {
	rootCmd.AddCommand(blockCmd)
	rootCmd.AddCommand(unblockCmd)
}

func runBlock(cmd *cobra.Command, args []string) error {
	id, by, err := parseEdge(args)
	if err != nil {
		return err
	}
	return withStore(func(ctx context.Context, store *ticket.Store) error {
		if err := store.Block(ctx, id, by); err != nil {
			return err
		}
		printer.Success("Ticket #%d is blocked by #%d\n", id, by)
		return nil
	})
}

func runUnblock(cmd *cobra.Command, args []string) error {
	id, by, err := parseEdge(args)
	if err != nil {
		return err
	}
	return withStore(func(ctx context.Context, store *ticket.Store) error {
		if err := store.Unblock(ctx, id, by); err != nil {
			return err
		}
		printer.Success("Ticket #%d is no longer blocked by #%d\n", id, by)
		return nil
	})
}

func parseEdge(args []string) (id, by int64, err error) {
	if id, err = parseTicketID(args[0]); err != nil {
		return 0, 0, err
	}
	if by, err = parseTicketID(args[1]); err != nil {
		return 0, 0, err
	}
	return id, by, nil
}
