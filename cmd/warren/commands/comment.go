package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dyluth/warren/internal/printer"
	"github.com/dyluth/warren/pkg/ticket"
)

var commentBy string

var commentCmd = &cobra.Command{
	Use:   "comment <id> <body>",
	Short: "Add a comment to a ticket",
	Long: `Append a comment to a ticket's thread. Comments are the only channel
between humans and workers: questions, escalations and hand-off notes all
land here.`,
	Args: exactArgs(2),
	RunE: runComment,
}

var commentsCmd = &cobra.Command{
	Use:   "comments <id>",
	Short: "List a ticket's comments",
	Args:  exactArgs(1),
	RunE:  runComments,
}

func init() {
	commentCmd.Flags().StringVar(&commentBy, "by", "", "Comment author (default: AGENT_ID or human)")
	rootCmd.AddCommand(commentCmd)
	rootCmd.AddCommand(commentsCmd)
}

func runComment(cmd *cobra.Command, args []string) error {
	id, err := parseTicketID(args[0])
	if err != nil {
		return err
	}
	return withStore(func(ctx context.Context, store *ticket.Store) error {
		if err := store.Comment(ctx, id, actor(commentBy), args[1]); err != nil {
			return err
		}
		printer.Success("Commented on ticket #%d\n", id)
		return nil
	})
}

func runComments(cmd *cobra.Command, args []string) error {
	id, err := parseTicketID(args[0])
	if err != nil {
		return err
	}
	return withStore(func(ctx context.Context, store *ticket.Store) error {
		comments, err := store.Comments(ctx, id)
		if err != nil {
			return err
		}
		if len(comments) == 0 {
			printer.Println("No comments.")
			return nil
		}
		for _, c := range comments {
			fmt.Printf("%s %s\n", c.Author, printer.Muted("(%s)", c.CreatedAt))
			fmt.Printf("  %s\n", strings.ReplaceAll(c.Body, "\n", "\n  "))
		}
		return nil
	})
}
