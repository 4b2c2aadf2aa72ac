package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/dyluth/warren/pkg/ticket"
)

// rolePrompt is the standing instruction set for the execution capability.
// It may use the warren CLI (WARREN_DB and AGENT_ID are in its environment)
// to log progress, spawn sub-tickets, block on prerequisites, or release the
// ticket when it cannot proceed.
const rolePrompt = `You are an autonomous worker in a swarm building one shared codebase.
Work only on the ticket you were given. Keep changes minimal and focused.
Use the warren CLI to interact with the queue:
  warren comment <id> "<text>"         log progress or findings
  warren create "<title>" --parent <id>  spawn follow-up tickets
  warren block <id> <blocker-id>       wait on a prerequisite
  warren unclaim <id>                  give the ticket back
  warren ready <id>                    mark your work complete
If verify.sh exists, your changes must keep it passing.`

// composeTask renders the full work description for a ticket: title,
// description, parent context, and the comment thread in order.
func (e *Engine) composeTask(ctx context.Context, d *ticket.Detail) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ticket #%d: %s\n", d.ID, d.Title)
	if d.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", d.Description)
	}
	if d.ParentID != 0 {
		if parent, err := e.store.Get(ctx, d.ParentID); err == nil {
			fmt.Fprintf(&b, "\nParent ticket #%d: %s\n", parent.ID, parent.Title)
			if parent.Description != "" {
				fmt.Fprintf(&b, "%s\n", parent.Description)
			}
		}
	}
	if len(d.Comments) > 0 {
		fmt.Fprintf(&b, "\nComment thread:\n")
		for _, c := range d.Comments {
			fmt.Fprintf(&b, "[%s] %s: %s\n", c.CreatedAt, c.Author, c.Body)
		}
	}
	return b.String()
}
