package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/dyluth/warren/pkg/ticket"
)

// proposalTitle is the self-assigned ticket a worker creates when the queue
// has fully drained.
const proposalTitle = "Propose the next piece of work"

// proposeWork runs the proposal sub-flow: with nothing left to do, create a
// self-assigned proposal ticket, ask the capability (read-only) for a
// suggestion, record it as a comment, and hand the ticket to a human.
func (e *Engine) proposeWork(ctx context.Context) error {
	id, err := e.store.Create(ctx, ticket.CreateRequest{
		Title:       proposalTitle,
		Description: "The queue is empty. Review the project state and suggest the most valuable next ticket(s).",
		AssignedTo:  e.agentID,
		Type:        ticket.TypeProposal,
		CreatedBy:   e.agentID,
	})
	if err != nil {
		return fmt.Errorf("failed to create proposal ticket: %w", err)
	}
	e.logEvent("proposal_started", map[string]interface{}{"ticket_id": id})

	d, err := e.store.Show(ctx, id)
	if err != nil {
		return err
	}
	return e.runProposal(ctx, d)
}

// runProposal produces a suggestion for an already-claimed proposal ticket.
// Also the recovery path for a proposal claimed after a crash.
func (e *Engine) runProposal(ctx context.Context, d *ticket.Detail) error {
	prompt := fmt.Sprintf(
		"Ticket #%d: %s\n\nInspect the repository read-only and propose the next work items. Reply with a short, concrete suggestion list; do not modify anything.",
		d.ID, d.Title)

	result, execErr := e.capability.Execute(ctx, e.request(d, prompt, true))
	if ctx.Err() != nil {
		return ctx.Err()
	}

	suggestion := ""
	if result != nil {
		suggestion = strings.TrimSpace(result.Output)
	}
	if execErr != nil || suggestion == "" {
		suggestion = fmt.Sprintf("No suggestion produced (%v).", execErr)
	}
	if err := e.store.Comment(ctx, d.ID, e.agentID, tail(suggestion, 8000)); err != nil {
		return err
	}

	// Route to a human reviewer; the ticket stops being claimable work.
	human := ticket.HumanOwner
	open := ticket.StatusOpen
	if err := e.store.Update(ctx, d.ID, ticket.UpdateRequest{AssignedTo: &human, Status: &open}); err != nil {
		return err
	}
	e.logEvent("proposal_filed", map[string]interface{}{"ticket_id": d.ID})
	return nil
}
