package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/warren/internal/filter"
	"github.com/dyluth/warren/internal/watch"
	"github.com/dyluth/warren/pkg/ticket"
)

var (
	watchInterval time.Duration
	watchAgent    string
	watchAction   string
	watchTicket   int64
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream activity as it happens",
	Long: `Tail the activity log, printing each new entry as the swarm works.
Starts from now; use log for history. Interrupt to stop.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", time.Second, "Poll interval")
	watchCmd.Flags().StringVar(&watchAgent, "agent", "", "Only show activity by this agent")
	watchCmd.Flags().StringVar(&watchAction, "action", "", "Only show actions matching this glob (e.g. 'block*')")
	watchCmd.Flags().Int64Var(&watchTicket, "ticket", 0, "Only show activity on this ticket")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, store *ticket.Store) error {
		ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		criteria := filter.Criteria{
			AgentID:    watchAgent,
			ActionGlob: watchAction,
			TicketID:   watchTicket,
		}
		follower, err := watch.NewFollower(ctx, store, criteria, watchInterval)
		if err != nil {
			return err
		}
		return follower.Run(ctx, os.Stdout)
	})
}
