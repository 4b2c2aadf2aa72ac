package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dyluth/warren/pkg/ticket"
)

var (
	countStatuses   []string
	countAssignedTo string
)

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Count tickets matching a filter",
	Long: `Count tickets matching the same filters as list. Done tickets are
excluded unless --status done is given. Workers use this to tell an idle
queue apart from a drained one.`,
	RunE: runCount,
}

func init() {
	countCmd.Flags().StringSliceVar(&countStatuses, "status", nil, "Filter by status (open, in_progress, blocked, ready, done)")
	countCmd.Flags().StringVar(&countAssignedTo, "assigned-to", "", "Filter by owner")
	rootCmd.AddCommand(countCmd)
}

func runCount(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, store *ticket.Store) error {
		statuses, err := parseStatuses(countStatuses)
		if err != nil {
			return err
		}
		n, err := store.Count(ctx, ticket.Filter{
			Statuses:   statuses,
			AssignedTo: countAssignedTo,
		})
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	})
}
