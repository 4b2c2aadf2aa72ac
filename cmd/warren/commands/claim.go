package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dyluth/warren/pkg/ticket"
)

var claimAgent string

var claimNextCmd = &cobra.Command{
	Use:   "claim-next",
	Short: "Atomically claim the next workable ticket",
	Long: `Claim the lowest-numbered open, unassigned ticket whose blockers are
all done, assigning it to the given agent. The claim is a single atomic
transaction: two workers racing for the same ticket cannot both win.

Prints the claimed ticket as JSON. Exits nonzero when nothing is claimable.`,
	RunE: runClaimNext,
}

func init() {
	claimNextCmd.Flags().StringVar(&claimAgent, "agent", "", "Claiming agent id (default: AGENT_ID)")
	rootCmd.AddCommand(claimNextCmd)
}

func runClaimNext(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, store *ticket.Store) error {
		d, err := store.ClaimNext(ctx, actor(claimAgent))
		if err != nil {
			return err
		}
		return outputJSON(d)
	})
}
