package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dyluth/warren/internal/agent"
	"github.com/dyluth/warren/internal/git"
	"github.com/dyluth/warren/pkg/ticket"
)

// branchName is the deterministic isolation branch for a ticket.
func branchName(id int64) string {
	return fmt.Sprintf("kit/ticket-%d", id)
}

// runTicket drives one claimed ticket through isolate, execute, verify,
// integrate, push, finalize. Every failure path releases the ticket with a
// comment explaining why it bounced; the queue never loses work silently.
func (e *Engine) runTicket(ctx context.Context, d *ticket.Detail) error {
	branch := branchName(d.ID)

	// Isolate: start from the latest integrated mainline, discarding any
	// leftovers from a previous run.
	if err := e.repo.ResetToMainline(ctx, e.cfg.Remote, e.cfg.Mainline); err != nil {
		return e.bounce(ctx, d.ID, fmt.Sprintf("Failed to prepare working copy: %v", err))
	}
	if err := e.repo.CreateBranch(ctx, branch); err != nil {
		return e.bounce(ctx, d.ID, fmt.Sprintf("Failed to create isolation branch: %v", err))
	}
	e.setState(StateIsolated, d.ID)

	// Execute the capability with the full ticket context.
	e.setState(StateExecuting, d.ID)
	result, execErr := e.capability.Execute(ctx, e.request(d, e.composeTask(ctx, d), false))
	if ctx.Err() != nil {
		return ctx.Err()
	}

	// Mid-flight release check: the capability may have blocked, unclaimed,
	// or been reassigned while it ran. A ticket we no longer own always wins
	// over our own intent.
	t, owns, err := e.ownsTicket(ctx, d.ID)
	if err != nil {
		return err
	}
	if !owns {
		e.logEvent("midflight_release", map[string]interface{}{"ticket_id": d.ID})
		return e.repo.DiscardChanges(ctx)
	}

	if execErr != nil {
		var output string
		if result != nil {
			output = result.Output
		}
		e.discard(ctx)
		return e.bounce(ctx, d.ID, fmt.Sprintf("Execution failed: %v\n%s", execErr, tail(output, 2000)))
	}

	// Verify: project checks plus conflict-marker scan, with bounded
	// fix-mode retries. A capability that committed its own work leaves a
	// clean tree, so committed-but-unmerged work counts as changes too.
	changed, err := e.repo.HasChanges(ctx)
	if err != nil {
		return err
	}
	ahead, err := e.repo.CommitsAhead(ctx, e.cfg.Mainline, branch)
	if err != nil {
		return err
	}
	if changed || ahead > 0 {
		e.setState(StateVerifying, d.ID)
		if released, err := e.verifyWithRetries(ctx, d); err != nil || released {
			return err
		}
		// Fix mode may have left new uncommitted work on top of whatever
		// the capability committed.
		if changed, err = e.repo.HasChanges(ctx); err != nil {
			return err
		}
		if changed {
			if err := e.repo.CommitAll(ctx, fmt.Sprintf("ticket #%d: %s", d.ID, d.Title)); err != nil {
				e.discard(ctx)
				return e.bounce(ctx, d.ID, fmt.Sprintf("Failed to commit work: %v", err))
			}
		}
		if ahead, err = e.repo.CommitsAhead(ctx, e.cfg.Mainline, branch); err != nil {
			return err
		}
	}

	// Integrate: merge the isolation branch into mainline if it has commits.
	if ahead > 0 {
		e.setState(StateIntegrating, d.ID)
		if err := e.repo.Checkout(ctx, e.cfg.Mainline); err != nil {
			return err
		}
		if released, err := e.mergeResolving(ctx, d, branch); err != nil || released {
			return err
		}

		// Push mainline, retrying the integration race a bounded number
		// of times.
		e.setState(StatePushing, d.ID)
		if released, err := e.pushWithRetries(ctx, d); err != nil || released {
			return err
		}
	}

	return e.finalize(ctx, t, ahead)
}

// verifyWithRetries runs the verification gate, re-invoking the capability in
// fix mode after each failure. Returns released=true when retries were
// exhausted and the ticket was bounced.
func (e *Engine) verifyWithRetries(ctx context.Context, d *ticket.Detail) (released bool, err error) {
	attempts := e.cfg.VerifyRetries + 1
	var lastDetail string
	for attempt := 1; attempt <= attempts; attempt++ {
		verifyErr := e.verify(ctx)
		if verifyErr == nil {
			return false, nil
		}
		lastDetail = verifyErr.Error()
		e.logEvent("verification_failed", map[string]interface{}{
			"ticket_id": d.ID, "attempt": attempt, "max_attempts": attempts,
		})
		if attempt == attempts {
			break
		}
		fix := fmt.Sprintf("Verification failed for ticket #%d. Fix these errors and nothing else:\n\n%s",
			d.ID, tail(lastDetail, 4000))
		if _, fixErr := e.capability.Execute(ctx, e.request(d, fix, false)); fixErr != nil {
			lastDetail = fmt.Sprintf("%s\n(fix attempt also failed: %v)", lastDetail, fixErr)
			break
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
	}

	e.discard(ctx)
	return true, e.bounce(ctx, d.ID,
		fmt.Sprintf("Verification failed after %d attempt(s):\n%s", attempts, tail(lastDetail, 2000)))
}

// mergeResolving merges branch into the current mainline checkout. On
// conflict it asks the capability for a semantic resolution; if conflict
// markers survive that, the merge is aborted and the ticket bounced.
func (e *Engine) mergeResolving(ctx context.Context, d *ticket.Detail, branch string) (released bool, err error) {
	mergeErr := e.repo.Merge(ctx, branch)
	if mergeErr == nil {
		return false, nil
	}
	if !errors.Is(mergeErr, git.ErrMergeConflict) {
		return false, mergeErr
	}

	conflicted, err := e.repo.ConflictedFiles(ctx)
	if err != nil {
		return false, err
	}
	e.logEvent("merge_conflict", map[string]interface{}{
		"ticket_id": d.ID, "branch": branch, "files": conflicted,
	})

	// Conflicts need judgment about intent, not mechanical resolution.
	prompt := fmt.Sprintf(
		"Merging %s into %s hit conflicts in:\n%s\n\nResolve every conflict in the working tree, keeping the intent of both sides. Do not commit.",
		branch, e.cfg.Mainline, strings.Join(conflicted, "\n"))
	_, capErr := e.capability.Execute(ctx, e.request(d, prompt, false))
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	markers, err := e.scanConflictMarkers(conflicted)
	if err != nil {
		return false, err
	}
	if capErr != nil || len(markers) > 0 {
		if abortErr := e.repo.AbortMerge(ctx); abortErr != nil {
			return false, abortErr
		}
		return true, e.bounce(ctx, d.ID,
			fmt.Sprintf("Merge conflict in %s could not be resolved (markers left in: %s)",
				branch, strings.Join(markers, ", ")))
	}

	if err := e.repo.CommitAll(ctx, fmt.Sprintf("ticket #%d: merge %s", d.ID, branch)); err != nil {
		return false, err
	}
	return false, nil
}

// pushWithRetries pushes mainline, handling non-fast-forward rejections with
// fetch-merge-retry up to the configured bound.
func (e *Engine) pushWithRetries(ctx context.Context, d *ticket.Detail) (released bool, err error) {
	// Never push work for a ticket we no longer own.
	if _, owns, err := e.ownsTicket(ctx, d.ID); err != nil {
		return false, err
	} else if !owns {
		e.logEvent("midflight_release", map[string]interface{}{"ticket_id": d.ID})
		return true, e.repo.ResetToMainline(ctx, e.cfg.Remote, e.cfg.Mainline)
	}

	for attempt := 1; attempt <= e.cfg.PushRetries; attempt++ {
		pushErr := e.repo.Push(ctx, e.cfg.Remote, e.cfg.Mainline)
		if pushErr == nil {
			return false, nil
		}
		if !errors.Is(pushErr, git.ErrPushRejected) {
			return false, pushErr
		}
		e.logEvent("push_rejected", map[string]interface{}{
			"ticket_id": d.ID, "attempt": attempt, "max_attempts": e.cfg.PushRetries,
		})
		if attempt == e.cfg.PushRetries {
			break
		}
		if err := e.repo.Fetch(ctx, e.cfg.Remote); err != nil {
			return false, err
		}
		if released, err := e.mergeResolving(ctx, d, e.cfg.Remote+"/"+e.cfg.Mainline); err != nil || released {
			return released, err
		}
	}

	// Exhausted: leave mainline as the remote has it, release the ticket.
	if err := e.repo.ResetToMainline(ctx, e.cfg.Remote, e.cfg.Mainline); err != nil {
		return false, err
	}
	return true, e.bounce(ctx, d.ID,
		fmt.Sprintf("Push rejected %d times, another worker kept winning the integration race; releasing.", e.cfg.PushRetries))
}

// finalize records the terminal outcome. Tickets the capability already
// marked ready stay ready; everything else is completed.
func (e *Engine) finalize(ctx context.Context, t *ticket.Ticket, commits int) error {
	var note string
	if commits > 0 {
		note = fmt.Sprintf("Integrated %d commit(s) into %s and pushed.", commits, e.cfg.Mainline)
	} else {
		note = "No changes were needed; closing."
	}
	if err := e.store.Comment(ctx, t.ID, e.agentID, note); err != nil {
		return err
	}
	if t.Status != ticket.StatusReady {
		if err := e.store.Complete(ctx, t.ID); err != nil && !errors.Is(err, ticket.ErrInvalidState) {
			return err
		}
	}
	e.logEvent("ticket_finished", map[string]interface{}{"ticket_id": t.ID, "commits": commits})
	return nil
}

// bounce releases a ticket with an explanatory comment. Every escalation
// lands in both the comment thread and the activity log.
func (e *Engine) bounce(ctx context.Context, id int64, reason string) error {
	if err := e.store.Comment(ctx, id, e.agentID, reason); err != nil {
		return err
	}
	if err := e.store.Unclaim(ctx, id); err != nil {
		return err
	}
	e.logEvent("ticket_released", map[string]interface{}{"ticket_id": id, "reason": reason})
	return nil
}

// discard drops uncommitted work, logging rather than failing: the release
// comment matters more than a clean tree, which isolate rebuilds anyway.
func (e *Engine) discard(ctx context.Context) {
	if err := e.repo.DiscardChanges(ctx); err != nil {
		e.logEvent("discard_failed", map[string]interface{}{"error": err.Error()})
	}
}

// request assembles a capability request for this ticket.
func (e *Engine) request(d *ticket.Detail, task string, readOnly bool) agent.Request {
	return agent.Request{
		SystemPrompt: rolePrompt,
		Task:         task,
		AllowedTools: e.cfg.AllowedTools,
		MaxTurns:     e.cfg.MaxTurns,
		ReadOnly:     readOnly,
		WorkDir:      e.repo.Dir(),
		TicketID:     d.ID,
		TicketTitle:  d.Title,
		AgentID:      e.agentID,
		DBPath:       e.dbPath,
	}
}

// tail returns the last max bytes of s, for bounded comments.
func tail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return "…" + s[len(s)-max:]
}
