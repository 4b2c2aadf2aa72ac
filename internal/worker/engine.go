// Package worker implements the kit worker loop: claim a ticket, execute it
// on an isolation branch, verify, integrate into mainline, push, finalize.
// One Engine runs one ticket at a time; a fleet is N engines in N processes
// coordinating only through the ticket store and the shared git origin.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dyluth/warren/internal/agent"
	"github.com/dyluth/warren/internal/config"
	"github.com/dyluth/warren/internal/git"
	"github.com/dyluth/warren/internal/supervisor"
	"github.com/dyluth/warren/pkg/ticket"
)

// State names the worker's position in the per-ticket protocol. States are
// observable through the structured log, not persisted: a restart always
// begins at idle and recovers through the store.
type State string

const (
	StateIdle        State = "idle"
	StateClaimed     State = "claimed"
	StateIsolated    State = "isolated"
	StateExecuting   State = "executing"
	StateVerifying   State = "verifying"
	StateIntegrating State = "integrating"
	StatePushing     State = "pushing"
)

// Repo is the version-control surface the worker drives. *git.Repo
// implements it; tests substitute scripted failures.
type Repo interface {
	Dir() string
	Fetch(ctx context.Context, remote string) error
	ResetToMainline(ctx context.Context, remote, mainline string) error
	CreateBranch(ctx context.Context, name string) error
	Checkout(ctx context.Context, name string) error
	HasChanges(ctx context.Context) (bool, error)
	ChangedFiles(ctx context.Context) ([]string, error)
	DiffFiles(ctx context.Context, base string) ([]string, error)
	CommitAll(ctx context.Context, message string) error
	DiscardChanges(ctx context.Context) error
	CommitsAhead(ctx context.Context, base, branch string) (int, error)
	Merge(ctx context.Context, branch string) error
	AbortMerge(ctx context.Context) error
	ConflictedFiles(ctx context.Context) ([]string, error)
	Push(ctx context.Context, remote, branch string) error
}

var _ Repo = (*git.Repo)(nil)

// Engine is one worker's control loop.
type Engine struct {
	agentID    string
	store      *ticket.Store
	capability agent.Capability
	repo       Repo
	heartbeat  *supervisor.Heartbeat
	cfg        config.WorkerConfig
	dbPath     string

	// current is the ticket being worked, for release on shutdown.
	current *ticket.Detail

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration)
}

// New creates a worker engine.
func New(agentID string, store *ticket.Store, capability agent.Capability, repo Repo, heartbeat *supervisor.Heartbeat, cfg config.WorkerConfig, dbPath string) *Engine {
	return &Engine{
		agentID:    agentID,
		store:      store,
		capability: capability,
		repo:       repo,
		heartbeat:  heartbeat,
		cfg:        cfg,
		dbPath:     dbPath,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Run executes the worker loop until ctx is cancelled, then releases any
// held ticket before returning. Cancel ctx via SIGINT/SIGTERM handling in
// the caller; that release path is the only cancellation there is.
func (e *Engine) Run(ctx context.Context) error {
	e.logEvent("worker_started", map[string]interface{}{})

	for ctx.Err() == nil {
		if err := e.runOnce(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[worker] cycle error: %v", err)
			e.sleep(ctx, e.cfg.ShortSleep)
		}
	}

	e.releaseCurrent("Released on shutdown")
	e.logEvent("worker_stopped", map[string]interface{}{})
	return nil
}

// runOnce performs one idle-to-idle cycle.
func (e *Engine) runOnce(ctx context.Context) error {
	e.setState(StateIdle, 0)

	claimed, err := e.store.ClaimNext(ctx, e.agentID)
	if ticket.IsNotFound(err) {
		return e.handleEmptyQueue(ctx)
	}
	if err != nil {
		return fmt.Errorf("claim failed: %w", err)
	}

	e.current = claimed
	defer func() { e.current = nil }()
	e.setState(StateClaimed, claimed.ID)

	// A claimed proposal means a previous run crashed mid-proposal;
	// re-enter that flow instead of normal execution.
	if claimed.Type == ticket.TypeProposal {
		return e.runProposal(ctx, claimed)
	}
	return e.runTicket(ctx, claimed)
}

// handleEmptyQueue decides between waiting for in-flight work elsewhere and
// generating a proposal when the whole queue has drained.
func (e *Engine) handleEmptyQueue(ctx context.Context) error {
	remaining, err := e.store.Count(ctx, ticket.Filter{
		Statuses: []ticket.Status{ticket.StatusOpen, ticket.StatusInProgress},
	})
	if err != nil {
		return fmt.Errorf("count failed: %w", err)
	}
	if remaining > 0 {
		e.logEvent("queue_empty", map[string]interface{}{"remaining": remaining})
		e.sleep(ctx, e.cfg.ShortSleep)
		return nil
	}

	if err := e.proposeWork(ctx); err != nil {
		return err
	}
	e.sleep(ctx, e.cfg.LongSleep)
	return nil
}

// releaseCurrent unclaims the held ticket with a comment. Used on shutdown,
// outside the worker's (cancelled) context.
func (e *Engine) releaseCurrent(reason string) {
	if e.current == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	id := e.current.ID
	if err := e.store.Comment(ctx, id, e.agentID, reason); err != nil {
		log.Printf("[worker] failed to comment on release of ticket %d: %v", id, err)
	}
	if err := e.store.Unclaim(ctx, id); err != nil {
		log.Printf("[worker] failed to release ticket %d: %v", id, err)
	}
	e.logEvent("ticket_released", map[string]interface{}{"ticket_id": id, "reason": reason})
	e.current = nil
}

// setState records a state transition in the structured log.
func (e *Engine) setState(state State, ticketID int64) {
	fields := map[string]interface{}{"state": string(state)}
	if ticketID != 0 {
		fields["ticket_id"] = ticketID
	}
	e.logEvent("state_changed", fields)
}

// logEvent emits a machine-scrapeable JSON log line and touches the
// heartbeat: every observable event doubles as the liveness indicator.
func (e *Engine) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["component"] = "worker"
	data["event_type"] = eventType
	data["agent_id"] = e.agentID

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[worker] failed to marshal log event: %v", err)
	} else {
		log.Println(string(jsonData))
	}

	if e.heartbeat != nil {
		if err := e.heartbeat.Touch(); err != nil {
			log.Printf("[worker] failed to touch heartbeat: %v", err)
		}
	}
}

// ownsTicket re-reads the ticket and reports whether this worker still owns
// it. A ticket someone reassigned or blocked mid-flight is no longer ours;
// ready counts as ours because the capability itself marks tickets ready.
func (e *Engine) ownsTicket(ctx context.Context, id int64) (*ticket.Ticket, bool, error) {
	t, err := e.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ticket.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if t.AssignedTo != e.agentID && t.Status != ticket.StatusReady {
		return t, false, nil
	}
	return t, true, nil
}
