package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dyluth/warren/internal/filter"
	"github.com/dyluth/warren/internal/printer"
	"github.com/dyluth/warren/internal/timespec"
	"github.com/dyluth/warren/pkg/ticket"
)

var (
	logLimit  int
	logSince  string
	logUntil  string
	logAgent  string
	logAction string
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show recent activity, newest first",
	Long: `Show the append-only activity log: every claim, release, block,
comment and completion across the whole queue, newest first.

Time bounds accept a duration ("1h30m" means that long ago) or an RFC3339
timestamp.`,
	RunE: runLog,
}

func init() {
	logCmd.Flags().IntVarP(&logLimit, "limit", "n", 20, "Number of entries to show")
	logCmd.Flags().StringVar(&logSince, "since", "", "Only show activity after this time")
	logCmd.Flags().StringVar(&logUntil, "until", "", "Only show activity before this time")
	logCmd.Flags().StringVar(&logAgent, "agent", "", "Only show activity by this agent")
	logCmd.Flags().StringVar(&logAction, "action", "", "Only show actions matching this glob (e.g. 'block*')")
	rootCmd.AddCommand(logCmd)
}

func runLog(cmd *cobra.Command, args []string) error {
	since, until, err := timespec.ParseRange(logSince, logUntil)
	if err != nil {
		return err
	}
	criteria := filter.Criteria{
		Since:      since,
		Until:      until,
		AgentID:    logAgent,
		ActionGlob: logAction,
	}

	return withStore(func(ctx context.Context, store *ticket.Store) error {
		entries, err := store.Log(ctx, logLimit)
		if err != nil {
			return err
		}
		entries = criteria.Apply(entries)
		if len(entries) == 0 {
			printer.Println("No matching activity.")
			return nil
		}
		for _, e := range entries {
			who := e.AgentID
			if who == "" {
				who = "-"
			}
			line := fmt.Sprintf("%s  #%-5d %-12s %-10s %s", e.CreatedAt, e.TicketID, e.Action, who, e.Detail)
			fmt.Println(line)
		}
		return nil
	})
}
