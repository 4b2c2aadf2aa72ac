package supervisor

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/dyluth/warren/pkg/ticket"
)

// StallReport describes one stalled worker the probe acted on.
type StallReport struct {
	AgentID   string
	PID       int
	Age       time.Duration
	Signalled bool
	TicketIDs []int64 // in_progress tickets that received a stall comment
}

// Prober detects stalled workers. A worker is stalled when its heartbeat is
// older than the threshold; the prober comments on the worker's in-progress
// tickets and sends SIGTERM so the host process manager restarts it. The
// worker's own signal handler releases whatever it holds on the way out, and
// the startup sweep covers workers that die without handling the signal.
type Prober struct {
	store        *ticket.Store
	heartbeatDir string
	threshold    time.Duration

	// signal is swapped out in tests.
	signal func(pid int) error
	now    func() time.Time
}

// NewProber creates a prober over the given store and heartbeat directory.
func NewProber(store *ticket.Store, heartbeatDir string, threshold time.Duration) *Prober {
	return &Prober{
		store:        store,
		heartbeatDir: heartbeatDir,
		threshold:    threshold,
		signal:       func(pid int) error { return syscall.Kill(pid, syscall.SIGTERM) },
		now:          time.Now,
	}
}

// Probe runs one detection pass and returns a report per stalled worker.
func (p *Prober) Probe(ctx context.Context) ([]StallReport, error) {
	statuses, err := Scan(p.heartbeatDir, p.now())
	if err != nil {
		return nil, err
	}

	var reports []StallReport
	for _, status := range statuses {
		if status.Age <= p.threshold {
			continue
		}
		report := StallReport{AgentID: status.AgentID, PID: status.PID, Age: status.Age}

		held, err := p.store.List(ctx, ticket.Filter{
			Statuses:   []ticket.Status{ticket.StatusInProgress},
			AssignedTo: status.AgentID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list tickets for %s: %w", status.AgentID, err)
		}
		for _, t := range held {
			comment := fmt.Sprintf("Worker %s stalled (no progress for %s), restarting.",
				status.AgentID, status.Age.Round(time.Second))
			if err := p.store.Comment(ctx, t.ID, status.AgentID, comment); err != nil {
				return nil, fmt.Errorf("failed to comment on ticket %d: %w", t.ID, err)
			}
			report.TicketIDs = append(report.TicketIDs, t.ID)
		}

		if status.PID > 0 && p.signal(status.PID) == nil {
			report.Signalled = true
		}
		reports = append(reports, report)
	}
	return reports, nil
}
