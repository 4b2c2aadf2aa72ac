package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dyluth/warren/internal/printer"
	"github.com/dyluth/warren/pkg/ticket"
)

var (
	listStatuses   []string
	listAssignedTo string
	listJSON       bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tickets",
	Long: `List tickets in the queue. Done tickets are hidden unless asked for
explicitly with --status done.

Use --json for machine-readable output.`,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringSliceVar(&listStatuses, "status", nil, "Filter by status (open, in_progress, blocked, ready, done)")
	listCmd.Flags().StringVar(&listAssignedTo, "assigned-to", "", "Filter by owner")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, store *ticket.Store) error {
		statuses, err := parseStatuses(listStatuses)
		if err != nil {
			return err
		}
		tickets, err := store.List(ctx, ticket.Filter{
			Statuses:   statuses,
			AssignedTo: listAssignedTo,
		})
		if err != nil {
			return err
		}

		if listJSON {
			return outputJSON(tickets)
		}
		if len(tickets) == 0 {
			printer.Println("No tickets found.")
			return nil
		}
		outputTicketTable(tickets)
		return nil
	})
}

func outputJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func outputTicketTable(tickets []ticket.Ticket) {
	fmt.Printf("%-6s %-12s %-10s %-12s %s\n", "ID", "STATUS", "TYPE", "ASSIGNED", "TITLE")
	for _, t := range tickets {
		assigned := t.AssignedTo
		if assigned == "" {
			assigned = "-"
		}
		title := t.Title
		if len(title) > 60 {
			title = title[:57] + "..."
		}
		fmt.Printf("%-6d %-12s %-10s %-12s %s\n", t.ID, t.Status, t.Type, assigned, title)
	}
}
