package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dyluth/warren/internal/printer"
	"github.com/dyluth/warren/pkg/ticket"
)

var showJSON bool

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one ticket in full",
	Long: `Show a ticket with its dependency edges, children and full comment
thread. This is the view a worker receives as task context.`,
	Args: exactArgs(1),
	RunE: runShow,
}

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	id, err := parseTicketID(args[0])
	if err != nil {
		return err
	}
	return withStore(func(ctx context.Context, store *ticket.Store) error {
		d, err := store.Show(ctx, id)
		if err != nil {
			return err
		}
		if showJSON {
			return outputJSON(d)
		}
		printDetail(d)
		return nil
	})
}

func printDetail(d *ticket.Detail) {
	fmt.Printf("#%d %s\n", d.ID, d.Title)
	fmt.Printf("  status:   %s\n", printer.Status(string(d.Status)))
	fmt.Printf("  type:     %s\n", d.Type)
	if d.AssignedTo != "" {
		fmt.Printf("  assigned: %s\n", d.AssignedTo)
	}
	if d.ParentID != 0 {
		fmt.Printf("  parent:   #%d\n", d.ParentID)
	}
	if len(d.BlockedBy) > 0 {
		fmt.Printf("  blocked by: %s\n", joinIDs(d.BlockedBy))
	}
	if len(d.Blocks) > 0 {
		fmt.Printf("  blocks:     %s\n", joinIDs(d.Blocks))
	}
	if len(d.Children) > 0 {
		fmt.Printf("  children:   %s\n", joinIDs(d.Children))
	}
	fmt.Printf("  created:  %s by %s\n", d.CreatedAt, d.CreatedBy)

	if d.Description != "" {
		fmt.Println()
		fmt.Println(d.Description)
	}
	if len(d.Comments) > 0 {
		fmt.Println()
		for _, c := range d.Comments {
			fmt.Printf("%s %s\n", c.Author, printer.Muted("(%s)", c.CreatedAt))
			fmt.Printf("  %s\n", strings.ReplaceAll(c.Body, "\n", "\n  "))
		}
	}
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("#%d", id)
	}
	return strings.Join(parts, " ")
}
