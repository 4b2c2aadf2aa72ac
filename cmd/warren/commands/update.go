package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dyluth/warren/internal/printer"
	"github.com/dyluth/warren/pkg/ticket"
)

var (
	updateTitle       string
	updateDescription string
	updateAssign      string
	updateStatus      string
	updateType        string
)

var updateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update a ticket's fields",
	Long: `Update a ticket's title, description, owner, status or type. Done
tickets are immutable; reopen semantics do not exist, file a new ticket.

Only the flags given are changed. Assigning with --assign "" clears the
owner.`,
	Args: exactArgs(1),
	RunE: runUpdate,
}

func init() {
	updateCmd.Flags().StringVar(&updateTitle, "title", "", "New title")
	updateCmd.Flags().StringVarP(&updateDescription, "description", "d", "", "New description")
	updateCmd.Flags().StringVar(&updateAssign, "assign", "", "New owner")
	updateCmd.Flags().StringVar(&updateStatus, "status", "", "New status")
	updateCmd.Flags().StringVar(&updateType, "type", "", "New type")
	rootCmd.AddCommand(updateCmd)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	id, err := parseTicketID(args[0])
	if err != nil {
		return err
	}

	var req ticket.UpdateRequest
	if cmd.Flags().Changed("title") {
		req.Title = &updateTitle
	}
	if cmd.Flags().Changed("description") {
		req.Description = &updateDescription
	}
	if cmd.Flags().Changed("assign") {
		req.AssignedTo = &updateAssign
	}
	if cmd.Flags().Changed("status") {
		s := ticket.Status(updateStatus)
		req.Status = &s
	}
	if cmd.Flags().Changed("type") {
		t := ticket.Type(updateType)
		req.Type = &t
	}

	return withStore(func(ctx context.Context, store *ticket.Store) error {
		if err := store.Update(ctx, id, req); err != nil {
			return err
		}
		printer.Success("Updated ticket #%d\n", id)
		return nil
	})
}
