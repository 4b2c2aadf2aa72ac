package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dyluth/warren/internal/printer"
	"github.com/dyluth/warren/pkg/ticket"
)

var sweepReason string

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Release tickets held by crashed workers",
	Long: `Release every in-progress ticket held by a non-human owner. Run this
once before starting a worker fleet: any claim surviving from a previous run
belongs to a dead process, and its ticket should go back in the pool.

Tickets assigned to "human" are never touched.`,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().StringVar(&sweepReason, "reason", "", "Activity log detail for each release")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, store *ticket.Store) error {
		released, err := store.ReleaseOrphaned(ctx, sweepReason)
		if err != nil {
			return err
		}
		if len(released) == 0 {
			printer.Println("Nothing to release.")
			return nil
		}
		for _, id := range released {
			printer.Step("released ticket #%d\n", id)
		}
		printer.Success("Released %d ticket(s)\n", len(released))
		return nil
	})
}
