package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dyluth/warren/internal/printer"
	"github.com/dyluth/warren/pkg/ticket"
)

var (
	createDescription string
	createParent      int64
	createAssign      string
	createBlockedBy   []int64
	createBlockDepsOf int64
	createType        string
	createCreatedBy   string
)

var createCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a ticket",
	Long: `Create a ticket in the shared queue.

A ticket created with --blocked-by starts in the blocked state and cannot be
claimed until every blocker is done. Use --block-dependents-of when splitting
a subtask out of in-flight work: everything currently blocked on that ticket
becomes blocked on the new one too.

When --type is omitted it is inferred: a human filing a blocked ticket is
asking a question, an unblocked human ticket is a proposal, and everything
else is a task.`,
	Args: exactArgs(1),
	RunE: runCreate,
}

func init() {
	createCmd.Flags().StringVarP(&createDescription, "description", "d", "", "Longer description of the work")
	createCmd.Flags().Int64VarP(&createParent, "parent", "p", 0, "Parent ticket id")
	createCmd.Flags().StringVar(&createAssign, "assign", "", "Assign the new ticket to an owner")
	createCmd.Flags().Int64SliceVar(&createBlockedBy, "blocked-by", nil, "Ticket ids that must be done first")
	createCmd.Flags().Int64Var(&createBlockDepsOf, "block-dependents-of", 0, "Re-point everything blocked on this ticket at the new one")
	createCmd.Flags().StringVar(&createType, "type", "", "Ticket type: task, question, proposal or verify")
	createCmd.Flags().StringVar(&createCreatedBy, "created-by", "", "Who is filing the ticket (default: AGENT_ID or human)")
	rootCmd.AddCommand(createCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, store *ticket.Store) error {
		id, err := store.Create(ctx, ticket.CreateRequest{
			Title:             args[0],
			Description:       createDescription,
			ParentID:          createParent,
			AssignedTo:        createAssign,
			BlockedBy:         createBlockedBy,
			Type:              ticket.Type(createType),
			CreatedBy:         actor(createCreatedBy),
			BlockDependentsOf: createBlockDepsOf,
		})
		if err != nil {
			return err
		}
		printer.Success("Created ticket #%d: %s\n", id, args[0])
		return nil
	})
}
