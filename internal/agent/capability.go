// Package agent defines the execution-capability contract: the black-box
// command a kit worker invokes to actually perform a ticket's work. The
// capability mutates files in the working directory and may shell out to the
// warren CLI to log progress, spawn sub-tickets, block, or unclaim; the
// worker state machine only sees its exit status and captured output.
package agent

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// ReadOnlyTools is the tool allowlist for the read-only variant, used by the
// proposal sub-flow where the capability must not touch the working copy.
const ReadOnlyTools = "Read,Glob,Grep"

// Request carries one capability invocation.
type Request struct {
	// SystemPrompt is the role prompt: standing instructions for how the
	// capability should operate.
	SystemPrompt string

	// Task is the composed work description: title, description, parent
	// context, and the comment thread.
	Task string

	// AllowedTools is the comma-separated tool allowlist.
	AllowedTools string

	// MaxTurns bounds the invocation by step count.
	MaxTurns int

	// ReadOnly restricts the capability to non-mutating tools. The textual
	// suggestion comes back in Result.Output.
	ReadOnly bool

	// WorkDir is the working copy the capability runs in.
	WorkDir string

	// Env carries the ticket context exposed to the subprocess: TICKET_ID,
	// TICKET_TITLE, AGENT_ID, and WARREN_DB so it can reach the queue.
	TicketID    int64
	TicketTitle string
	AgentID     string
	DBPath      string
}

// Result is what a capability invocation produced.
type Result struct {
	Output   string // Captured stdout, size-capped
	ExitCode int
	Duration time.Duration
}

// Capability executes a ticket's work. Implementations block until the
// invocation terminates; cancellation of ctx kills it.
type Capability interface {
	Execute(ctx context.Context, req Request) (*Result, error)
}

// env builds the subprocess environment additions for a request.
func (req Request) env() []string {
	return []string{
		"TICKET_ID=" + strconv.FormatInt(req.TicketID, 10),
		"TICKET_TITLE=" + req.TicketTitle,
		"AGENT_ID=" + req.AgentID,
		"WARREN_DB=" + req.DBPath,
	}
}

// tools returns the effective allowlist, honoring ReadOnly.
func (req Request) tools() string {
	if req.ReadOnly {
		return ReadOnlyTools
	}
	return req.AllowedTools
}

// Validate checks the request is executable.
func (req Request) Validate() error {
	if req.Task == "" {
		return fmt.Errorf("task cannot be empty")
	}
	if req.MaxTurns < 1 {
		return fmt.Errorf("max turns must be >= 1, got %d", req.MaxTurns)
	}
	return nil
}
